package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("askdb", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("Database.Driver = %q", cfg.Database.Driver)
	}
	if cfg.LLM.Provider != ProviderOpenAI {
		t.Fatalf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens != 2000 {
		t.Fatalf("LLM.MaxTokens = %d", cfg.LLM.MaxTokens)
	}
	if cfg.Repair.MaxAttempts != 3 {
		t.Fatalf("Repair.MaxAttempts = %d", cfg.Repair.MaxAttempts)
	}
	if cfg.Repair.StrictColumns {
		t.Fatal("Repair.StrictColumns should default to false")
	}
	if cfg.Sandbox.MaxRows != 1000 {
		t.Fatalf("Sandbox.MaxRows = %d", cfg.Sandbox.MaxRows)
	}
	if cfg.Sandbox.Timeout != 30*time.Second {
		t.Fatalf("Sandbox.Timeout = %s", cfg.Sandbox.Timeout)
	}
	if !reflect.DeepEqual(cfg.Sandbox.AllowList, []string{"SELECT"}) {
		t.Fatalf("Sandbox.AllowList = %v", cfg.Sandbox.AllowList)
	}
	if len(cfg.Sandbox.ForbiddenKeywords) != len(DefaultForbiddenKeywords) {
		t.Fatalf("Sandbox.ForbiddenKeywords = %v", cfg.Sandbox.ForbiddenKeywords)
	}
	if cfg.Answer.PreviewRows != 5 {
		t.Fatalf("Answer.PreviewRows = %d", cfg.Answer.PreviewRows)
	}
	if cfg.Audit.Sink != AuditSinkNone {
		t.Fatalf("Audit.Sink = %q", cfg.Audit.Sink)
	}
	if !cfg.Exemplars.JoinTemplates || cfg.Exemplars.JoinTemplatesFile != "" {
		t.Fatalf("Exemplars = %+v", cfg.Exemplars)
	}
	if !cfg.Clarify.Enabled {
		t.Fatal("Clarify.Enabled should default to true")
	}
	if cfg.LLM.RatePerSecond != 0 {
		t.Fatalf("LLM.RatePerSecond = %v", cfg.LLM.RatePerSecond)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("askdb", mapLookup(map[string]string{"ASKDB_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.LLM.RatePerSecond != 2 {
		t.Fatalf("LLM.RatePerSecond = %v", cfg.LLM.RatePerSecond)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ASKDB_PROFILE":                    "test",
		"ASKDB_SERVICE_NAME":               "askdb-custom",
		"ASKDB_DB_DRIVER":                  "Postgres",
		"ASKDB_DB_DSN":                     "postgres://example",
		"ASKDB_DB_MAX_OPEN_CONNS":          "42",
		"ASKDB_LLM_PROVIDER":               "gemini",
		"ASKDB_LLM_MODEL":                  "gemini-2.5-flash",
		"ASKDB_LLM_API_KEY":                "secret-key",
		"ASKDB_LLM_MAX_TOKENS":             "512",
		"ASKDB_LLM_TIMEOUT":                "21s",
		"ASKDB_LLM_RATE_PER_SECOND":        "0.5",
		"ASKDB_LLM_BURST":                  "3",
		"ASKDB_REPAIR_MAX_ATTEMPTS":        "5",
		"ASKDB_VALIDATOR_STRICT_COLUMNS":   "true",
		"ASKDB_EXEMPLARS_FILE":             "exemplars.yaml",
		"ASKDB_EXEMPLARS_COUNT":            "3",
		"ASKDB_EXEMPLARS_JOIN_TEMPLATES":   "false",
		"ASKDB_CLARIFY_ENABLED":            "false",
		"ASKDB_SANDBOX_ALLOW_LIST":         "select, with",
		"ASKDB_SANDBOX_FORBIDDEN_KEYWORDS": "drop,,delete",
		"ASKDB_SANDBOX_MAX_ROWS":           "50",
		"ASKDB_SANDBOX_TIMEOUT":            "2s",
		"ASKDB_SANDBOX_WRAP_LIMIT":         "false",
		"ASKDB_ANSWER_PREVIEW_ROWS":        "10",
		"ASKDB_AUDIT_SINK":                 "sql",
		"ASKDB_AUDIT_DRIVER":               "sqlite",
		"ASKDB_AUDIT_DSN":                  "file:history.db",
		"ASKDB_OBJECTSTORE_BUCKET":         "askdb-audit",
		"ASKDB_LOG_LEVEL":                  "error",
		"ASKDB_METRICS_ADDR":               ":9102",
	})
	cfg, err := Load("askdb", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "askdb-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.LLM.Provider != ProviderGemini || cfg.LLM.Model != "gemini-2.5-flash" || cfg.LLM.APIKey != "secret-key" {
		t.Fatalf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.MaxTokens != 512 || cfg.LLM.Timeout != 21*time.Second {
		t.Fatalf("LLM limits = %d/%s", cfg.LLM.MaxTokens, cfg.LLM.Timeout)
	}
	if cfg.LLM.RatePerSecond != 0.5 || cfg.LLM.Burst != 3 {
		t.Fatalf("LLM rate = %v/%d", cfg.LLM.RatePerSecond, cfg.LLM.Burst)
	}
	if cfg.Repair.MaxAttempts != 5 || !cfg.Repair.StrictColumns {
		t.Fatalf("Repair = %+v", cfg.Repair)
	}
	if cfg.Exemplars.File != "exemplars.yaml" || cfg.Exemplars.Count != 3 || cfg.Exemplars.JoinTemplates {
		t.Fatalf("Exemplars = %+v", cfg.Exemplars)
	}
	if cfg.Clarify.Enabled {
		t.Fatal("Clarify.Enabled should be overridden to false")
	}
	if !reflect.DeepEqual(cfg.Sandbox.AllowList, []string{"SELECT", "WITH"}) {
		t.Fatalf("Sandbox.AllowList = %v", cfg.Sandbox.AllowList)
	}
	if !reflect.DeepEqual(cfg.Sandbox.ForbiddenKeywords, []string{"DROP", "DELETE"}) {
		t.Fatalf("Sandbox.ForbiddenKeywords = %v", cfg.Sandbox.ForbiddenKeywords)
	}
	if cfg.Sandbox.MaxRows != 50 || cfg.Sandbox.Timeout != 2*time.Second || cfg.Sandbox.WrapLimit {
		t.Fatalf("Sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Answer.PreviewRows != 10 {
		t.Fatalf("Answer.PreviewRows = %d", cfg.Answer.PreviewRows)
	}
	if cfg.Audit.Sink != AuditSinkSQL || cfg.Audit.Driver != DriverSQLite || cfg.Audit.DSN != "file:history.db" {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
	if cfg.ObjectStore.Bucket != "askdb-audit" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.MetricsAddr != ":9102" {
		t.Fatalf("MetricsAddr = %q", cfg.Observability.MetricsAddr)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ASKDB_PROFILE": "staging"},
		{"ASKDB_DB_DRIVER": "oracle"},
		{"ASKDB_DB_MAX_OPEN_CONNS": "many"},
		{"ASKDB_LLM_PROVIDER": "cohere"},
		{"ASKDB_LLM_MAX_TOKENS": "0"},
		{"ASKDB_LLM_TIMEOUT": "soon"},
		{"ASKDB_LLM_RATE_PER_SECOND": "-1"},
		{"ASKDB_REPAIR_MAX_ATTEMPTS": "0"},
		{"ASKDB_VALIDATOR_STRICT_COLUMNS": "maybe"},
		{"ASKDB_EXEMPLARS_COUNT": "9"},
		{"ASKDB_SANDBOX_ALLOW_LIST": " , "},
		{"ASKDB_SANDBOX_MAX_ROWS": "0"},
		{"ASKDB_SANDBOX_TIMEOUT": "0s"},
		{"ASKDB_AUDIT_SINK": "kafka"},
		{"ASKDB_AUDIT_SINK": "sql"},
		{"ASKDB_AUDIT_SINK": "sql", "ASKDB_AUDIT_DSN": "x", "ASKDB_AUDIT_DRIVER": "duckdb"},
		{"ASKDB_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("askdb", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("askdb", nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
