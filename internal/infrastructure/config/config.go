package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ENDPOINTCLOUD_"

// Storage and registry backend names.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"

	RegistryLocal = "local"
	RegistryAWS   = "aws"
)

// Config is the root configuration structure for Endpoint Cloud.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Stack     StackConfig     `yaml:"stack" envPrefix:"STACK_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Registry  RegistryConfig  `yaml:"registry" envPrefix:"REGISTRY_"`
	MQTT      MQTTConfig      `yaml:"mqtt" envPrefix:"MQTT_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
	Security  SecurityConfig  `yaml:"security" envPrefix:"SECURITY_"`
	OAuth     OAuthConfig     `yaml:"oauth" envPrefix:"OAUTH_"`
}

// StackConfig names the deployed resources: the router, both tables and both
// compute units. These values feed the topology builder and its outputs.
type StackConfig struct {
	Name                 string         `yaml:"name"`
	Region               string         `yaml:"region" env:"REGION"`
	APIID                string         `yaml:"api_id" env:"API_ID"`
	PublicURL            string         `yaml:"public_url" env:"PUBLIC_URL"`
	EndpointDetailsTable string         `yaml:"endpoint_details_table" env:"ENDPOINT_DETAILS_TABLE"`
	UsersTable           string         `yaml:"users_table" env:"USERS_TABLE"`
	EndpointFunction     FunctionConfig `yaml:"endpoint_function"`
	SkillFunction        FunctionConfig `yaml:"skill_function"`
}

// FunctionConfig describes one compute unit.
type FunctionConfig struct {
	Name     string `yaml:"name"`
	Timeout  int    `yaml:"timeout"` // seconds
	MemoryMB int    `yaml:"memory_mb"`
}

// TimeoutDuration returns the invocation timeout as a Duration.
func (f FunctionConfig) TimeoutDuration() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects the backend for the Identity and Endpoint stores.
type StorageConfig struct {
	Backend  string         `yaml:"backend" env:"BACKEND"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" envPrefix:"DYNAMODB_"`
}

// DynamoDBConfig contains DynamoDB client settings. Endpoint is only set for
// local emulators; leave it empty to use the regional service.
type DynamoDBConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
}

// RegistryConfig selects and configures the device registry. The local
// registry shares the sqlite database when storage uses one and otherwise
// keeps its tables in an in-memory database.
type RegistryConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND"`
	ThingGroup string `yaml:"thing_group" env:"THING_GROUP"`
	// DataEndpoint is the AWS IoT data-plane endpoint used for shadows.
	DataEndpoint string `yaml:"data_endpoint" env:"DATA_ENDPOINT"`
	// PublishShadows makes the local registry publish desired-state deltas to MQTT.
	PublishShadows bool `yaml:"publish_shadows"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host" env:"HOST"`
	Port     int              `yaml:"port" env:"PORT"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains live feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains token and authorizer settings.
type SecurityConfig struct {
	JWT        JWTConfig        `yaml:"jwt" envPrefix:"JWT_"`
	Authorizer AuthorizerConfig `yaml:"authorizer"`
	DevToken   DevTokenConfig   `yaml:"dev_token"`
	Identity   IdentityConfig   `yaml:"identity" envPrefix:"IDENTITY_"`
}

// JWTConfig contains the shared HS256 signing secret.
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	TokenTTL int    `yaml:"token_ttl"` // minutes
}

// AuthorizerConfig controls the router's signed-identity authorizer.
type AuthorizerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DevTokenConfig maps a fixed bearer token to a fixed user. It exists so the
// voice-platform test console can be used before account linking.
type DevTokenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	UserID  string `yaml:"user_id"`
}

// IdentityConfig names the account-linking identity provider whose RS256
// access tokens are accepted as directive scopes. Setting UserPoolID derives
// the key set URL and issuer of a managed user pool; JWKSURL and Issuer
// override them.
type IdentityConfig struct {
	UserPoolID string `yaml:"user_pool_id" env:"USER_POOL_ID"`
	JWKSURL    string `yaml:"jwks_url" env:"JWKS_URL"`
	Issuer     string `yaml:"issuer" env:"ISSUER"`
	ClientID   string `yaml:"client_id" env:"CLIENT_ID"`
}

// Enabled reports whether identity provider tokens are accepted.
func (c IdentityConfig) Enabled() bool {
	return c.KeysURL() != ""
}

// KeysURL returns the JWKS location.
func (c IdentityConfig) KeysURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	if iss := c.poolIssuer(); iss != "" {
		return iss + "/.well-known/jwks.json"
	}
	return ""
}

// IssuerURL returns the expected "iss" claim, or "" to skip the check.
func (c IdentityConfig) IssuerURL() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return c.poolIssuer()
}

// poolIssuer derives the issuer from a pool id of the form
// <region>_<suffix>.
func (c IdentityConfig) poolIssuer() string {
	region, _, ok := strings.Cut(c.UserPoolID, "_")
	if !ok || region == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, c.UserPoolID)
}

// OAuthConfig is used by AcceptGrant to exchange grant codes for tokens.
type OAuthConfig struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ENDPOINTCLOUD_SECTION_KEY
// For example: ENDPOINTCLOUD_DATABASE_PATH, ENDPOINTCLOUD_SECURITY_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is available, e.g. inside a
// function runtime where everything arrives through the environment.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Stack: StackConfig{
			Name:                 "EndpointCloud",
			Region:               "us-east-1",
			APIID:                "local",
			EndpointDetailsTable: "EndpointDetails",
			UsersTable:           "Users",
			EndpointFunction: FunctionConfig{
				Name:     "EndpointAdapter",
				Timeout:  6,
				MemoryMB: 128,
			},
			SkillFunction: FunctionConfig{
				Name:     "SkillAdapter",
				Timeout:  7,
				MemoryMB: 128,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/endpointcloud.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
		},
		Registry: RegistryConfig{
			Backend:    RegistryLocal,
			ThingGroup: "Samples",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "endpointcloud",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 5,
			},
			Authorizer: AuthorizerConfig{
				Enabled: true,
			},
			DevToken: DevTokenConfig{
				Token:  "access-token-from-skill",
				UserID: "0",
			},
		},
		OAuth: OAuthConfig{
			TokenURL: "https://api.amazon.com/auth/o2/token",
		},
	}
}

// applyEnvOverrides applies ENDPOINTCLOUD_* environment variables on top of
// the loaded configuration. Unset variables leave the field untouched.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Stack.Name == "" {
		errs = append(errs, "stack.name is required")
	}
	if c.Stack.APIID == "" {
		errs = append(errs, "stack.api_id is required")
	}
	if c.Stack.EndpointDetailsTable == "" {
		errs = append(errs, "stack.endpoint_details_table is required")
	}
	if c.Stack.UsersTable == "" {
		errs = append(errs, "stack.users_table is required")
	}
	if c.Stack.EndpointDetailsTable != "" && c.Stack.EndpointDetailsTable == c.Stack.UsersTable {
		errs = append(errs, "stack.endpoint_details_table and stack.users_table must differ")
	}
	for _, fn := range []struct {
		key string
		cfg FunctionConfig
	}{
		{"stack.endpoint_function", c.Stack.EndpointFunction},
		{"stack.skill_function", c.Stack.SkillFunction},
	} {
		if fn.cfg.Name == "" {
			errs = append(errs, fn.key+".name is required")
		}
		if fn.cfg.Timeout < 1 {
			errs = append(errs, fn.key+".timeout must be at least 1 second")
		}
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite backend")
		}
	case BackendDynamoDB, BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be sqlite, dynamodb or memory", c.Storage.Backend))
	}

	switch c.Registry.Backend {
	case RegistryLocal, RegistryAWS:
	default:
		errs = append(errs, fmt.Sprintf("registry.backend %q must be local or aws", c.Registry.Backend))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Registry.PublishShadows && !c.MQTT.Enabled {
		errs = append(errs, "registry.publish_shadows requires mqtt.enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The same secret signs compute-unit identities and verifies account tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ENDPOINTCLOUD_SECURITY_JWT_SECRET)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	if c.Security.DevToken.Enabled && (c.Security.DevToken.Token == "" || c.Security.DevToken.UserID == "") {
		errs = append(errs, "security.dev_token requires token and user_id when enabled")
	}
	if id := c.Security.Identity; id.UserPoolID != "" && id.poolIssuer() == "" {
		errs = append(errs, "security.identity.user_pool_id must look like <region>_<id>")
	}
	if id := c.Security.Identity; !id.Enabled() && (id.Issuer != "" || id.ClientID != "") {
		errs = append(errs, "security.identity requires user_pool_id or jwks_url")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BaseURL returns the router's public base URL, always ending in "/".
// When no public URL is configured it is derived from the API id and region
// in the form the managed gateway would assign.
func (c *Config) BaseURL() string {
	u := c.Stack.PublicURL
	if u == "" {
		u = fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com", c.Stack.APIID, c.Stack.Region)
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
