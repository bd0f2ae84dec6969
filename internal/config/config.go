// Package config provides YAML-based configuration loading, validation, and
// defaults for the ServiceNow case MCP server.
//
// Configuration is read from an optional YAML file (with ${VAR} expansion) and
// then overlaid with the SERVICENOW_* / MCP_* environment variables, so the
// server can be started from a host's MCP configuration block without any
// file on disk.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Transport names accepted by mcp.transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Auth types accepted by servicenow.auth.type.
const (
	AuthBasic  = "basic"
	AuthOAuth  = "oauth"
	AuthAPIKey = "api_key"
)

// Built-in tool package names.
const (
	PackageFull         = "full"
	PackageCaseReadOnly = "case_readonly"
	PackageNone         = "none"
)

// Config is the top-level configuration for the server.
type Config struct {
	ServiceNow    ServiceNowConfig    `yaml:"servicenow"`
	Cases         CasesConfig         `yaml:"cases"`
	MCP           MCPConfig           `yaml:"mcp"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
}

// ServiceNowConfig holds ServiceNow instance connection settings.
type ServiceNowConfig struct {
	BaseURL        string     `yaml:"base_url"`
	TableAPIPath   string     `yaml:"table_api_path"`
	Auth           AuthConfig `yaml:"auth"`
	TimeoutSeconds int        `yaml:"timeout_seconds"`
	MaxRetries     int        `yaml:"max_retries"`
	RateLimitRPS   float64    `yaml:"rate_limit_rps"`
}

// AuthConfig determines which authentication method is used.
type AuthConfig struct {
	Type   string       `yaml:"type"` // "basic", "oauth" or "api_key"
	OAuth  OAuthConfig  `yaml:"oauth"`
	Basic  BasicConfig  `yaml:"basic"`
	APIKey APIKeyConfig `yaml:"api_key"`
}

// OAuthConfig holds OAuth password-grant credentials.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TokenPath    string `yaml:"token_path"`
	// TokenURL overrides BaseURL+TokenPath when set.
	TokenURL string `yaml:"token_url"`
}

// BasicConfig holds HTTP Basic Auth credentials.
type BasicConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// APIKeyConfig holds a static API key sent in a request header.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	Header string `yaml:"header"`
}

// CasesConfig controls how the case table is addressed.
type CasesConfig struct {
	Table string `yaml:"table"`
	// MaxLimit caps the limit parameter of list operations.
	MaxLimit int `yaml:"max_limit"`
	// DisplayValue is passed as sysparm_display_value on reads: "true",
	// "false" or "all".
	DisplayValue string `yaml:"display_value"`
}

// MCPConfig controls the protocol surface.
type MCPConfig struct {
	Transport   string              `yaml:"transport"`
	HTTPAddr    string              `yaml:"http_addr"`
	ToolPackage string              `yaml:"tool_package"`
	Packages    map[string][]string `yaml:"packages"`
}

// EventsConfig controls publishing of case change events to Kafka.
type EventsConfig struct {
	Enabled           bool       `yaml:"enabled"`
	Brokers           []string   `yaml:"brokers"`
	Topic             string     `yaml:"topic"`
	SchemaRegistryURL string     `yaml:"schema_registry_url"`
	KeyStrategy       string     `yaml:"key_strategy"` // "sys_id", "round_robin", "field_based"
	KeyFields         []string   `yaml:"key_fields"`
	TLS               TLSConfig  `yaml:"tls"`
	SASL              SASLConfig `yaml:"sasl"`
}

// TLSConfig enables TLS for Kafka connections.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CACert   string `yaml:"ca_cert"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SASLConfig enables SASL for Kafka connections.
type SASLConfig struct {
	Mechanism string `yaml:"mechanism"` // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// ObservabilityConfig controls the metrics/health HTTP server.
type ObservabilityConfig struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

// envOverrides mirrors the environment variables understood by the
// command-line entry point. Empty values leave the file configuration alone.
type envOverrides struct {
	InstanceURL  string `env:"SERVICENOW_INSTANCE_URL"`
	AuthType     string `env:"SERVICENOW_AUTH_TYPE"`
	Username     string `env:"SERVICENOW_USERNAME"`
	Password     string `env:"SERVICENOW_PASSWORD"`
	ClientID     string `env:"SERVICENOW_CLIENT_ID"`
	ClientSecret string `env:"SERVICENOW_CLIENT_SECRET"`
	TokenURL     string `env:"SERVICENOW_TOKEN_URL"`
	APIKey       string `env:"SERVICENOW_API_KEY"`
	APIKeyHeader string `env:"SERVICENOW_API_KEY_HEADER"`
	Timeout      int    `env:"SERVICENOW_TIMEOUT"`
	Debug        bool   `env:"SERVICENOW_DEBUG"`
	ToolPackage  string `env:"MCP_TOOL_PACKAGE"`
	Transport    string `env:"MCP_TRANSPORT"`
	HTTPAddr     string `env:"MCP_HTTP_ADDR"`
}

// Load reads an optional YAML config file, expands environment variables,
// applies the environment overlay, and validates.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil environ uses the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand ${VAR} and $VAR references in the YAML.
		lookup := os.Getenv
		if environ != nil {
			lookup = func(key string) string { return environ[key] }
		}
		expanded := os.Expand(string(data), lookup)

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	applyEnv(cfg, overrides)

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config, o envOverrides) {
	sn := &cfg.ServiceNow
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&sn.BaseURL, o.InstanceURL)
	set(&sn.Auth.Type, strings.ToLower(o.AuthType))
	set(&sn.Auth.Basic.Username, o.Username)
	set(&sn.Auth.Basic.Password, o.Password)
	set(&sn.Auth.OAuth.Username, o.Username)
	set(&sn.Auth.OAuth.Password, o.Password)
	set(&sn.Auth.OAuth.ClientID, o.ClientID)
	set(&sn.Auth.OAuth.ClientSecret, o.ClientSecret)
	set(&sn.Auth.OAuth.TokenURL, o.TokenURL)
	set(&sn.Auth.APIKey.Key, o.APIKey)
	set(&sn.Auth.APIKey.Header, o.APIKeyHeader)
	if o.Timeout > 0 {
		sn.TimeoutSeconds = o.Timeout
	}
	if o.Debug {
		cfg.LogLevel = "debug"
	}
	set(&cfg.MCP.ToolPackage, strings.TrimSpace(o.ToolPackage))
	set(&cfg.MCP.Transport, o.Transport)
	set(&cfg.MCP.HTTPAddr, o.HTTPAddr)
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// ServiceNow defaults
	sn := &cfg.ServiceNow
	sn.BaseURL = strings.TrimRight(sn.BaseURL, "/")
	if sn.TableAPIPath == "" {
		sn.TableAPIPath = "/api/now/table"
	}
	if sn.Auth.Type == "" {
		sn.Auth.Type = AuthBasic
	}
	if sn.Auth.OAuth.TokenPath == "" {
		sn.Auth.OAuth.TokenPath = "/oauth_token.do"
	}
	if sn.Auth.APIKey.Header == "" {
		sn.Auth.APIKey.Header = "X-ServiceNow-API-Key"
	}
	if sn.TimeoutSeconds == 0 {
		sn.TimeoutSeconds = 30
	}
	if sn.MaxRetries == 0 {
		sn.MaxRetries = 3
	}

	// Case table defaults
	cs := &cfg.Cases
	if cs.Table == "" {
		cs.Table = "sn_customerservice_case"
	}
	if cs.MaxLimit == 0 {
		cs.MaxLimit = 1000
	}
	if cs.DisplayValue == "" {
		cs.DisplayValue = "all"
	}

	// MCP defaults
	m := &cfg.MCP
	if m.Transport == "" {
		m.Transport = TransportStdio
	}
	if m.HTTPAddr == "" {
		m.HTTPAddr = "localhost:8081"
	}
	if m.ToolPackage == "" {
		m.ToolPackage = PackageFull
	}
	if m.Packages == nil {
		m.Packages = map[string][]string{}
	}
	if _, ok := m.Packages[PackageCaseReadOnly]; !ok {
		m.Packages[PackageCaseReadOnly] = []string{"list_cases", "get_case"}
	}
	if _, ok := m.Packages[PackageNone]; !ok {
		m.Packages[PackageNone] = []string{}
	}

	// Event defaults
	ev := &cfg.Events
	if ev.Topic == "" {
		ev.Topic = "servicenow.case.events"
	}
	if ev.KeyStrategy == "" {
		ev.KeyStrategy = "sys_id"
	}

	// Observability defaults
	if cfg.Observability.Addr == "" {
		cfg.Observability.Addr = ":8080"
	}
}

// validate checks that all required fields are present and valid.
func validate(cfg *Config) error {
	var errs []error

	// ServiceNow
	if cfg.ServiceNow.BaseURL == "" {
		errs = append(errs, errors.New("servicenow.base_url is required (or SERVICENOW_INSTANCE_URL)"))
	} else if u, err := url.Parse(cfg.ServiceNow.BaseURL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("servicenow.base_url is not a valid URL: %s", cfg.ServiceNow.BaseURL))
	}

	switch cfg.ServiceNow.Auth.Type {
	case AuthOAuth:
		o := cfg.ServiceNow.Auth.OAuth
		if o.ClientID == "" {
			errs = append(errs, errors.New("servicenow.auth.oauth.client_id is required for oauth auth"))
		}
		if o.ClientSecret == "" {
			errs = append(errs, errors.New("servicenow.auth.oauth.client_secret is required for oauth auth"))
		}
		if o.Username == "" {
			errs = append(errs, errors.New("servicenow.auth.oauth.username is required for oauth auth"))
		}
		if o.Password == "" {
			errs = append(errs, errors.New("servicenow.auth.oauth.password is required for oauth auth"))
		}
	case AuthBasic:
		b := cfg.ServiceNow.Auth.Basic
		if b.Username == "" {
			errs = append(errs, errors.New("servicenow.auth.basic.username is required for basic auth"))
		}
		if b.Password == "" {
			errs = append(errs, errors.New("servicenow.auth.basic.password is required for basic auth"))
		}
	case AuthAPIKey:
		if cfg.ServiceNow.Auth.APIKey.Key == "" {
			errs = append(errs, errors.New("servicenow.auth.api_key.key is required for api_key auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("servicenow.auth.type must be 'basic', 'oauth' or 'api_key', got %q", cfg.ServiceNow.Auth.Type))
	}

	if cfg.ServiceNow.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("servicenow.timeout_seconds must not be negative"))
	}

	// Cases
	if cfg.Cases.MaxLimit < 1 {
		errs = append(errs, fmt.Errorf("cases.max_limit must be positive, got %d", cfg.Cases.MaxLimit))
	}
	switch cfg.Cases.DisplayValue {
	case "true", "false", "all":
	default:
		errs = append(errs, fmt.Errorf("cases.display_value must be 'true', 'false' or 'all', got %q", cfg.Cases.DisplayValue))
	}

	// MCP
	switch cfg.MCP.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("mcp.transport must be 'stdio' or 'http', got %q", cfg.MCP.Transport))
	}

	// Events
	if cfg.Events.Enabled {
		ev := cfg.Events
		if len(ev.Brokers) == 0 {
			errs = append(errs, errors.New("events.brokers must contain at least one broker when events are enabled"))
		}
		switch ev.KeyStrategy {
		case "sys_id", "round_robin":
		case "field_based":
			if len(ev.KeyFields) == 0 {
				errs = append(errs, errors.New("events.key_fields required when key_strategy is 'field_based'"))
			}
		default:
			errs = append(errs, fmt.Errorf("events.key_strategy must be 'sys_id', 'round_robin', or 'field_based', got %q", ev.KeyStrategy))
		}
		if ev.TLS.Enabled {
			if ev.TLS.CertFile == "" && ev.TLS.KeyFile != "" {
				errs = append(errs, errors.New("events.tls.cert_file is required when key_file is set"))
			}
			if ev.TLS.KeyFile == "" && ev.TLS.CertFile != "" {
				errs = append(errs, errors.New("events.tls.key_file is required when cert_file is set"))
			}
			for _, entry := range []struct {
				name  string
				value string
			}{
				{name: "events.tls.ca_cert", value: ev.TLS.CACert},
				{name: "events.tls.cert_file", value: ev.TLS.CertFile},
				{name: "events.tls.key_file", value: ev.TLS.KeyFile},
			} {
				if entry.value == "" {
					continue
				}
				if _, err := os.Stat(entry.value); err != nil {
					errs = append(errs, fmt.Errorf("%s not found: %s", entry.name, entry.value))
				}
			}
		}
		if ev.SASL.Mechanism != "" {
			switch strings.ToUpper(ev.SASL.Mechanism) {
			case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
			default:
				errs = append(errs, fmt.Errorf("events.sasl.mechanism must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512, got %q", ev.SASL.Mechanism))
			}
			if ev.SASL.Username == "" || ev.SASL.Password == "" {
				errs = append(errs, errors.New("events.sasl.username and events.sasl.password are required when sasl.mechanism is set"))
			}
		}
	}

	return errors.Join(errs...)
}
