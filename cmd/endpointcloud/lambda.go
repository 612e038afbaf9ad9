package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/nerrad567/endpoint-cloud/internal/endpointcloud"
	"github.com/nerrad567/endpoint-cloud/internal/gateway"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/skill"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// runLambdaEndpoint serves the endpoint handler behind the managed gateway.
// Resource names come from the function environment; everything else from
// the built-in defaults and ENDPOINTCLOUD_* overrides.
func runLambdaEndpoint(ctx context.Context) error {
	settings, err := endpointcloud.LoadSettings(environ())
	if err != nil {
		return err
	}
	cfg, err := functionConfig(func(cfg *config.Config) {
		cfg.Stack.EndpointDetailsTable = settings.EndpointDetailsTable
		cfg.Stack.UsersTable = settings.UsersTable
		cfg.Stack.EndpointFunction.Name = settings.FunctionName
		if settings.APIID != "" {
			cfg.Stack.APIID = settings.APIID
		}
		if settings.Region != "" {
			cfg.Stack.Region = settings.Region
		}
	})
	if err != nil {
		return err
	}
	log := logging.NewWithWriter(os.Stderr, cfg.Logging, version)

	topo, err := topology.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}
	b, err := openBackends(ctx, cfg, topo, log)
	if err != nil {
		return err
	}
	defer b.Close(log)

	handler, err := newEndpointHandler(ctx, cfg, topo, b, log, handlerOptions{})
	if err != nil {
		return err
	}
	log.Info("endpoint handler ready", "function", settings.FunctionName, "timeout", handler.Timeout())

	lambda.StartWithOptions(gateway.Adapt(handler), lambda.WithContext(ctx))
	return nil
}

// runLambdaSkill serves the skill handler. It forwards every directive to
// the router URL in its environment, signed as itself.
func runLambdaSkill(ctx context.Context) error {
	settings, err := skill.LoadSettings(environ())
	if err != nil {
		return err
	}
	cfg, err := functionConfig(func(cfg *config.Config) {
		cfg.Stack.SkillFunction.Name = settings.FunctionName
		if settings.Region != "" {
			cfg.Stack.Region = settings.Region
		}
	})
	if err != nil {
		return err
	}
	log := logging.NewWithWriter(os.Stderr, cfg.Logging, version)

	topo, err := topology.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}
	forwarder, err := skill.New(skill.Deps{
		Topology:  topo,
		Principal: settings.FunctionName,
		BaseURL:   settings.APIURL,
		Secret:    cfg.Security.JWT.Secret,
		Logger:    log,
		Timeout:   cfg.Stack.SkillFunction.TimeoutDuration(),
	})
	if err != nil {
		return fmt.Errorf("creating skill handler: %w", err)
	}
	log.Info("skill handler ready", "function", settings.FunctionName, "target", forwarder.Target())

	lambda.StartWithOptions(forwarder.Handle, lambda.WithContext(ctx))
	return nil
}

// functionConfig returns the built-in configuration adjusted for a function
// runtime. There is no local disk, so the managed stores and registry are
// always used.
func functionConfig(apply func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Default()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	apply(cfg)
	cfg.Storage.Backend = config.BackendDynamoDB
	cfg.Registry.Backend = config.RegistryAWS
	cfg.Registry.PublishShadows = false
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// environ returns the process environment as a map.
func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
