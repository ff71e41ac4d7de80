package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Record string            `yaml:"record"`
			Alert  string            `yaml:"alert"`
			Expr   string            `yaml:"expr"`
			Labels map[string]string `yaml:"labels"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	content := readAsset(t, "grafana", "askdb_dashboard.json")

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}
	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	rules := loadRules(t, "askdb_rules.yaml")
	alerts := map[string]string{}
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			alerts[rule.Alert] = rule.Labels["severity"]
		}
	}

	for _, name := range []string{
		"AskDBQuestionSuccessRatioLow",
		"AskDBCompletionQuotaExceeded",
		"AskDBCompletionUnreachable",
		"AskDBSandboxTimeouts",
		"AskDBSandboxPolicyViolations",
		"AskDBCatalogRefreshFailing",
		"AskDBAuditWritesFailing",
	} {
		severity, ok := alerts[name]
		if !ok {
			t.Fatalf("rules missing alert %q", name)
		}
		if severity != "warning" && severity != "critical" {
			t.Fatalf("alert %q severity = %q", name, severity)
		}
	}
}

func TestPrometheusRecordingRulesUseExportedMetrics(t *testing.T) {
	rules := loadRules(t, "askdb_recording_rules.yaml")
	records := map[string]string{}
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			records[rule.Record] = rule.Expr
		}
	}

	required := map[string]string{
		"askdb:question_success_ratio_15m":    "askdb_questions_total",
		"askdb:question_latency_seconds_p95":  "askdb_question_duration_seconds_bucket",
		"askdb:repair_attempts_p95":           "askdb_repair_attempts_bucket",
		"askdb:generation_errors_15m":         "askdb_generation_errors_total",
		"askdb:sandbox_timeouts_15m":          "askdb_sandbox_executions_total",
		"askdb:sandbox_policy_violations_15m": "askdb_sandbox_executions_total",
		"askdb:catalog_refresh_failures_30m":  "askdb_catalog_refresh_total",
		"askdb:audit_write_failures_15m":      "askdb_audit_records_total",
		"askdb:clarifications_15m":            "askdb_clarifications_total",
		"askdb:join_template_matches_15m":     "askdb_join_template_matches_total",
	}
	for record, metric := range required {
		expr, ok := records[record]
		if !ok {
			t.Fatalf("recording rules missing record %q", record)
		}
		if !strings.Contains(expr, metric) {
			t.Fatalf("record %q does not use %q: %s", record, metric, expr)
		}
	}
}

func TestPrometheusScrapeExampleReferencesRules(t *testing.T) {
	text := string(readAsset(t, "prometheus", "prometheus-scrape.example.yaml"))
	for _, token := range []string{
		"metrics_path: /metrics",
		"askdb_rules.yaml",
		"askdb_recording_rules.yaml",
		"job_name: askdb",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func loadRules(t *testing.T, name string) ruleFile {
	t.Helper()
	var rules ruleFile
	if err := yaml.Unmarshal(readAsset(t, "prometheus", name), &rules); err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	if len(rules.Groups) == 0 {
		t.Fatalf("%s has no rule groups", name)
	}
	return rules
}

func readAsset(t *testing.T, parts ...string) []byte {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t), "deployments", "observability"}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
