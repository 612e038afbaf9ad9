// Package config handles loading and validating Endpoint Cloud configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ENDPOINTCLOUD_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, OAuth client secret, broker passwords) should be set
//     via environment variables rather than committed config files
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Stack.Name, cfg.BaseURL())
package config
