package domain

import "time"

// Severity levels as they appear in classifier verdicts. Parsed values are
// passed through unvalidated, so renderers must tolerate anything else.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// TagAnalysisError marks a verdict produced when the classifier itself failed.
const TagAnalysisError = "analysis-error"

// FailureScenarios is the closed taxonomy of failure patterns the classifier
// is asked to choose from, in the order they are scanned by the text fallback.
var FailureScenarios = []string{
	"db-failure",
	"pool-exhaustion",
	"memory-leak",
	"slow-query",
	"api-timeout",
	"jwt-expiry",
	"high-cpu",
}

// ScenarioDescriptions feeds the classifier prompt. Keys match FailureScenarios.
var ScenarioDescriptions = map[string]string{
	"db-failure":      "database connection errors (bad endpoint, network issues)",
	"pool-exhaustion": "connection pool exhausted (max_connections exceeded)",
	"memory-leak":     "steadily growing memory usage (OOM risk)",
	"slow-query":      "N+1 query patterns or missing indexes",
	"api-timeout":     "external API call timeouts",
	"jwt-expiry":      "JWT token expiry problems",
	"high-cpu":        "CPU-bound work degrading performance",
}

// LogRecord is one normalized log event fetched from the remote log store.
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	StreamID  string `json:"log_stream"`
}

// Verdict is the structured classification result for one batch of logs.
type Verdict struct {
	DetectedIssues    []string `json:"detected_issues"`
	Severity          string   `json:"severity"`
	Summary           string   `json:"summary"`
	Recommendations   []string `json:"recommendations"`
	AffectedResources []string `json:"affected_resources"`
}

// HasIssues reports whether the classifier detected anything.
func (v Verdict) HasIssues() bool {
	return len(v.DetectedIssues) > 0
}

// RemediationDraft is a generated infrastructure-code patch with its
// explanation and ordered apply steps.
type RemediationDraft struct {
	Code        string   `json:"terraform_code"`
	Explanation string   `json:"explanation"`
	ApplySteps  []string `json:"apply_instructions"`
}

// Credentials are short-lived cross-cloud access credentials. Held in memory
// only; never persisted.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// TriageResult aggregates one orchestrator run.
type TriageResult struct {
	Status       string            `json:"status"`
	LogsFetched  int               `json:"total_logs_analyzed"`
	WindowMins   int               `json:"time_range_minutes"`
	Verdict      Verdict           `json:"analysis"`
	Draft        *RemediationDraft `json:"terraform,omitempty"`
	NotifierSent bool              `json:"slack_sent"`
}
