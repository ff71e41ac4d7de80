package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

const (
	ProviderOpenAI      = "openai"
	ProviderGemini      = "gemini"
	ProviderHuggingFace = "huggingface"
)

const (
	AuditSinkNone        = "none"
	AuditSinkSQL         = "sql"
	AuditSinkObjectStore = "objectstore"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Database      DatabaseConfig
	LLM           LLMConfig
	Repair        RepairConfig
	Exemplars     ExemplarConfig
	Clarify       ClarifyConfig
	Sandbox       SandboxConfig
	Answer        AnswerConfig
	Audit         AuditConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type LLMConfig struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

type RepairConfig struct {
	MaxAttempts   int
	StrictColumns bool
}

type ExemplarConfig struct {
	File              string
	Count             int
	JoinTemplates     bool
	JoinTemplatesFile string
}

type ClarifyConfig struct {
	Enabled bool
}

type SandboxConfig struct {
	AllowList         []string
	ForbiddenKeywords []string
	MaxRows           int
	Timeout           time.Duration
	WrapLimit         bool
}

type AnswerConfig struct {
	PreviewRows int
}

type AuditConfig struct {
	Sink      string
	Driver    string
	DSN       string
	BatchSize int
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel    slog.Level
	LogJSON     bool
	MetricsAddr string
}

var DefaultForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE", "RENAME",
	"REPLACE", "MERGE", "GRANT", "REVOKE", "ATTACH", "DETACH", "PRAGMA",
	"EXEC", "EXECUTE", "CALL", "COPY", "VACUUM",
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "ASKDB_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_DRIVER", &cfg.Database.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_DSN", &cfg.Database.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_LLM_PROVIDER", &cfg.LLM.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_LLM_BASE_URL", &cfg.LLM.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_LLM_API_KEY", &cfg.LLM.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_LLM_MODEL", &cfg.LLM.Model); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "ASKDB_LLM_RATE_PER_SECOND", &cfg.LLM.RatePerSecond); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_LLM_BURST", &cfg.LLM.Burst); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_REPAIR_MAX_ATTEMPTS", &cfg.Repair.MaxAttempts); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_VALIDATOR_STRICT_COLUMNS", &cfg.Repair.StrictColumns); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_EXEMPLARS_FILE", &cfg.Exemplars.File); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_EXEMPLARS_COUNT", &cfg.Exemplars.Count); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_EXEMPLARS_JOIN_TEMPLATES", &cfg.Exemplars.JoinTemplates); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_EXEMPLARS_JOIN_TEMPLATES_FILE", &cfg.Exemplars.JoinTemplatesFile); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_CLARIFY_ENABLED", &cfg.Clarify.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyList(lookup, "ASKDB_SANDBOX_ALLOW_LIST", &cfg.Sandbox.AllowList); err != nil {
		return Config{}, err
	}
	if err := applyList(lookup, "ASKDB_SANDBOX_FORBIDDEN_KEYWORDS", &cfg.Sandbox.ForbiddenKeywords); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_SANDBOX_MAX_ROWS", &cfg.Sandbox.MaxRows); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_SANDBOX_TIMEOUT", &cfg.Sandbox.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_SANDBOX_WRAP_LIMIT", &cfg.Sandbox.WrapLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_ANSWER_PREVIEW_ROWS", &cfg.Answer.PreviewRows); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AUDIT_SINK", &cfg.Audit.Sink); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AUDIT_DRIVER", &cfg.Audit.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AUDIT_DSN", &cfg.Audit.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_AUDIT_BATCH_SIZE", &cfg.Audit.BatchSize); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_METRICS_ADDR", &cfg.Observability.MetricsAddr); err != nil {
		return Config{}, err
	}

	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.Audit.Sink = strings.ToLower(cfg.Audit.Sink)
	cfg.Audit.Driver = strings.ToLower(cfg.Audit.Driver)
	cfg.Sandbox.AllowList = upperAll(cfg.Sandbox.AllowList)
	cfg.Sandbox.ForbiddenKeywords = upperAll(cfg.Sandbox.ForbiddenKeywords)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverDuckDB:
	default:
		return fmt.Errorf("invalid ASKDB_DB_DRIVER: %q", cfg.Database.Driver)
	}
	switch cfg.LLM.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderHuggingFace:
	default:
		return fmt.Errorf("invalid ASKDB_LLM_PROVIDER: %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("ASKDB_LLM_MAX_TOKENS must be > 0")
	}
	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("ASKDB_LLM_TIMEOUT must be > 0")
	}
	if cfg.LLM.RatePerSecond < 0 {
		return fmt.Errorf("ASKDB_LLM_RATE_PER_SECOND must be >= 0")
	}
	if cfg.Repair.MaxAttempts < 1 {
		return fmt.Errorf("ASKDB_REPAIR_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Exemplars.Count < 3 || cfg.Exemplars.Count > 5 {
		return fmt.Errorf("ASKDB_EXEMPLARS_COUNT must be between 3 and 5")
	}
	if len(cfg.Sandbox.AllowList) == 0 {
		return fmt.Errorf("ASKDB_SANDBOX_ALLOW_LIST must not be empty")
	}
	if cfg.Sandbox.MaxRows < 1 {
		return fmt.Errorf("ASKDB_SANDBOX_MAX_ROWS must be >= 1")
	}
	if cfg.Sandbox.Timeout <= 0 {
		return fmt.Errorf("ASKDB_SANDBOX_TIMEOUT must be > 0")
	}
	if cfg.Answer.PreviewRows < 0 {
		return fmt.Errorf("ASKDB_ANSWER_PREVIEW_ROWS must be >= 0")
	}
	switch cfg.Audit.Sink {
	case AuditSinkNone, AuditSinkObjectStore:
	case AuditSinkSQL:
		if cfg.Audit.DSN == "" {
			return fmt.Errorf("ASKDB_AUDIT_DSN is required for the sql audit sink")
		}
		if cfg.Audit.Driver != DriverPostgres && cfg.Audit.Driver != DriverSQLite {
			return fmt.Errorf("invalid ASKDB_AUDIT_DRIVER: %q", cfg.Audit.Driver)
		}
	default:
		return fmt.Errorf("invalid ASKDB_AUDIT_SINK: %q", cfg.Audit.Sink)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb"},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "file:data/chinook.db?mode=ro",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:  ProviderOpenAI,
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 2000,
			Timeout:   30 * time.Second,
			Burst:     1,
		},
		Repair: RepairConfig{
			MaxAttempts: 3,
		},
		Exemplars: ExemplarConfig{
			Count:         4,
			JoinTemplates: true,
		},
		Clarify: ClarifyConfig{
			Enabled: true,
		},
		Sandbox: SandboxConfig{
			AllowList:         []string{"SELECT"},
			ForbiddenKeywords: append([]string(nil), DefaultForbiddenKeywords...),
			MaxRows:           1000,
			Timeout:           30 * time.Second,
			WrapLimit:         true,
		},
		Answer: AnswerConfig{
			PreviewRows: 5,
		},
		Audit: AuditConfig{
			Sink:      AuditSinkNone,
			Driver:    DriverPostgres,
			BatchSize: 100,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "askdb",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Sandbox.Timeout = 5 * time.Second
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.LLM.RatePerSecond = 2
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.ToUpper(value))
	}
	return out
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
