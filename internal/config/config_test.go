package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
servicenow:
  base_url: https://instance.service-now.com/
  auth:
    type: oauth
    oauth:
      client_id: test-id
      client_secret: test-secret
      username: admin
      password: admin123
cases:
  max_limit: 200
mcp:
  transport: http
  packages:
    triage: [list_cases, get_case, update_case]
`

const basicYAML = `
servicenow:
  base_url: https://example.com
  auth:
    type: basic
    basic:
      username: ${SN_USER}
      password: ${SN_PASS}
`

const eventsYAML = `
servicenow:
  base_url: https://example.com
  auth:
    type: api_key
    api_key:
      key: secret
events:
  enabled: true
  key_strategy: field_based
  sasl:
    mechanism: PLAIN
`

// noEnv is an explicit empty environment so tests do not depend on the
// process environment.
var noEnv = map[string]string{}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := LoadWithEnv(path, noEnv)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ServiceNow.BaseURL != "https://instance.service-now.com" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.ServiceNow.BaseURL)
	}
	if cfg.ServiceNow.Auth.Type != AuthOAuth {
		t.Errorf("Auth.Type = %q, want oauth", cfg.ServiceNow.Auth.Type)
	}
	if cfg.Cases.MaxLimit != 200 {
		t.Errorf("MaxLimit = %d, want 200", cfg.Cases.MaxLimit)
	}
	if cfg.MCP.Transport != TransportHTTP {
		t.Errorf("Transport = %q, want http", cfg.MCP.Transport)
	}
	if got := cfg.MCP.Packages["triage"]; len(got) != 3 {
		t.Errorf("triage package = %v", got)
	}
}

func TestDefaults(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := LoadWithEnv(path, noEnv)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.LogLevel)
	}
	if cfg.ServiceNow.TableAPIPath != "/api/now/table" {
		t.Errorf("TableAPIPath default = %q", cfg.ServiceNow.TableAPIPath)
	}
	if cfg.ServiceNow.Auth.OAuth.TokenPath != "/oauth_token.do" {
		t.Errorf("TokenPath default = %q", cfg.ServiceNow.Auth.OAuth.TokenPath)
	}
	if cfg.ServiceNow.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds default = %d, want 30", cfg.ServiceNow.TimeoutSeconds)
	}
	if cfg.ServiceNow.MaxRetries != 3 {
		t.Errorf("MaxRetries default = %d, want 3", cfg.ServiceNow.MaxRetries)
	}
	if cfg.Cases.Table != "sn_customerservice_case" {
		t.Errorf("Cases.Table default = %q", cfg.Cases.Table)
	}
	if cfg.Cases.DisplayValue != "all" {
		t.Errorf("Cases.DisplayValue default = %q", cfg.Cases.DisplayValue)
	}
	if cfg.MCP.ToolPackage != PackageFull {
		t.Errorf("ToolPackage default = %q", cfg.MCP.ToolPackage)
	}
	if got := cfg.MCP.Packages[PackageCaseReadOnly]; len(got) != 2 {
		t.Errorf("case_readonly package = %v", got)
	}
	if _, ok := cfg.MCP.Packages[PackageNone]; !ok {
		t.Error("none package should always exist")
	}
	if cfg.Events.Topic != "servicenow.case.events" {
		t.Errorf("Events.Topic default = %q", cfg.Events.Topic)
	}
	if cfg.Observability.Addr != ":8080" {
		t.Errorf("Observability.Addr default = %q", cfg.Observability.Addr)
	}
}

func TestEnvExpansionInFile(t *testing.T) {
	path := writeTemp(t, basicYAML)
	cfg, err := LoadWithEnv(path, map[string]string{"SN_USER": "svc", "SN_PASS": "pw"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceNow.Auth.Basic.Username != "svc" || cfg.ServiceNow.Auth.Basic.Password != "pw" {
		t.Errorf("basic credentials = %+v", cfg.ServiceNow.Auth.Basic)
	}
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{
		"SERVICENOW_INSTANCE_URL": "https://dev.service-now.com",
		"SERVICENOW_USERNAME":     "admin",
		"SERVICENOW_PASSWORD":     "secret",
		"SERVICENOW_TIMEOUT":      "12",
		"SERVICENOW_DEBUG":        "true",
		"MCP_TOOL_PACKAGE":        " case_readonly ",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceNow.BaseURL != "https://dev.service-now.com" {
		t.Errorf("BaseURL = %q", cfg.ServiceNow.BaseURL)
	}
	if cfg.ServiceNow.Auth.Type != AuthBasic {
		t.Errorf("Auth.Type = %q, want basic default", cfg.ServiceNow.Auth.Type)
	}
	if cfg.ServiceNow.TimeoutSeconds != 12 {
		t.Errorf("TimeoutSeconds = %d, want 12", cfg.ServiceNow.TimeoutSeconds)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MCP.ToolPackage != PackageCaseReadOnly {
		t.Errorf("ToolPackage = %q", cfg.MCP.ToolPackage)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := LoadWithEnv(path, map[string]string{
		"SERVICENOW_AUTH_TYPE":      "API_KEY",
		"SERVICENOW_API_KEY":        "k-123",
		"SERVICENOW_API_KEY_HEADER": "X-Custom-Key",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceNow.Auth.Type != AuthAPIKey {
		t.Errorf("Auth.Type = %q, want api_key", cfg.ServiceNow.Auth.Type)
	}
	if cfg.ServiceNow.Auth.APIKey.Key != "k-123" || cfg.ServiceNow.Auth.APIKey.Header != "X-Custom-Key" {
		t.Errorf("APIKey = %+v", cfg.ServiceNow.Auth.APIKey)
	}
}

func TestAPIKeyHeaderDefault(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{
		"SERVICENOW_INSTANCE_URL": "https://dev.service-now.com",
		"SERVICENOW_AUTH_TYPE":    "api_key",
		"SERVICENOW_API_KEY":      "k",
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServiceNow.Auth.APIKey.Header != "X-ServiceNow-API-Key" {
		t.Errorf("APIKey.Header default = %q", cfg.ServiceNow.Auth.APIKey.Header)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing base url",
			yaml:    "servicenow:\n  auth:\n    type: basic\n    basic: {username: u, password: p}\n",
			wantErr: "servicenow.base_url is required",
		},
		{
			name:    "invalid base url",
			yaml:    "servicenow:\n  base_url: not-a-url\n  auth:\n    type: basic\n    basic: {username: u, password: p}\n",
			wantErr: "not a valid URL",
		},
		{
			name:    "missing oauth secret",
			yaml:    "servicenow:\n  base_url: https://x.com\n  auth:\n    type: oauth\n    oauth: {client_id: a, username: u, password: p}\n",
			wantErr: "client_secret is required",
		},
		{
			name:    "missing basic password",
			yaml:    "servicenow:\n  base_url: https://x.com\n  auth:\n    type: basic\n    basic: {username: u}\n",
			wantErr: "servicenow.auth.basic.password is required",
		},
		{
			name:    "missing api key",
			yaml:    "servicenow:\n  base_url: https://x.com\n  auth:\n    type: api_key\n",
			wantErr: "servicenow.auth.api_key.key is required",
		},
		{
			name:    "unknown auth type",
			yaml:    "servicenow:\n  base_url: https://x.com\n  auth:\n    type: kerberos\n",
			wantErr: "servicenow.auth.type must be",
		},
		{
			name:    "bad display value",
			yaml:    "servicenow:\n  base_url: https://x.com\n  auth:\n    type: api_key\n    api_key: {key: k}\ncases:\n  display_value: sometimes\n",
			wantErr: "cases.display_value must be",
		},
		{
			name:    "bad transport",
			yaml:    "servicenow:\n  base_url: https://x.com\n  auth:\n    type: api_key\n    api_key: {key: k}\nmcp:\n  transport: grpc\n",
			wantErr: "mcp.transport must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.yaml)
			_, err := LoadWithEnv(path, noEnv)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEventsValidation(t *testing.T) {
	path := writeTemp(t, eventsYAML)
	_, err := LoadWithEnv(path, noEnv)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"events.brokers must contain at least one broker",
		"events.key_fields required",
		"events.sasl.username",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestEventsDisabledSkipsValidation(t *testing.T) {
	yaml := strings.Replace(eventsYAML, "enabled: true", "enabled: false", 1)
	path := writeTemp(t, yaml)
	if _, err := LoadWithEnv(path, noEnv); err != nil {
		t.Fatalf("disabled events should not be validated: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTemp(t, "servicenow: [unclosed")
	_, err := LoadWithEnv(path, noEnv)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config YAML") {
		t.Errorf("unexpected error: %v", err)
	}
}
