package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"clouddoctor/internal/domain"
	"clouddoctor/internal/integrations/llm"
)

// maxClassifierRecords bounds the prompt size.
const maxClassifierRecords = 100

// Low temperature favors repeatable classifications.
const classifierTemperature = 0.2

// Classifier turns a batch of log records into a structured verdict via one
// generative-model call. It never returns an error: model and parse failures
// degrade into a verdict that says so.
type Classifier struct {
	model llm.TextModel
}

func NewClassifier(model llm.TextModel) *Classifier {
	return &Classifier{model: model}
}

func (c *Classifier) Classify(ctx context.Context, records []domain.LogRecord) domain.Verdict {
	if len(records) == 0 {
		return domain.Verdict{
			DetectedIssues:    []string{},
			Severity:          domain.SeverityInfo,
			Summary:           "No logs to analyze",
			Recommendations:   []string{},
			AffectedResources: []string{},
		}
	}

	prompt := buildClassifierPrompt(records)

	responseText, usage, err := c.model.Complete(ctx, llm.Request{
		User:        prompt,
		Temperature: classifierTemperature,
		MaxTokens:   2048,
	})
	if err != nil {
		log.Printf("classify model error: %v", err)
		return domain.Verdict{
			DetectedIssues:    []string{domain.TagAnalysisError},
			Severity:          domain.SeverityCritical,
			Summary:           fmt.Sprintf("Failed to analyze logs: %v", err),
			Recommendations:   []string{"Check LLM provider configuration", "Verify API credentials"},
			AffectedResources: []string{},
		}
	}

	verdict := parseVerdictResponse(responseText)
	log.Printf("classify records=%d severity=%s issues=%d tokens=%d", len(records), verdict.Severity, len(verdict.DetectedIssues), usage.TotalTokens())
	return verdict
}

func buildClassifierPrompt(records []domain.LogRecord) string {
	if len(records) > maxClassifierRecords {
		records = records[:maxClassifierRecords]
	}

	var logLines strings.Builder
	for _, rec := range records {
		logLines.WriteString(fmt.Sprintf("[%s] %s\n", rec.Timestamp, rec.Message))
	}

	var scenarioLines strings.Builder
	for i, tag := range domain.FailureScenarios {
		scenarioLines.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, tag, domain.ScenarioDescriptions[tag]))
	}

	return fmt.Sprintf(`You are a cloud operations AI analyzing AWS CloudWatch logs from a 3-tier web application.

**Application architecture:**
- Frontend: Next.js on CloudFront + S3
- Backend: Node.js/Express on ECS Fargate
- Database: RDS MySQL 8.0

**Known failure scenarios:**
%s
**CloudWatch logs:**
`+"```"+`
%s`+"```"+`

**Task:**
Analyze the logs and return this JSON structure:

{
  "detected_issues": ["scenario1", "scenario2"],
  "severity": "critical|warning|info",
  "summary": "1-2 sentence description of the problem",
  "recommendations": [
    "Add an index to improve query performance",
    "Raise ECS memory from 512MB to 1024MB"
  ],
  "affected_resources": [
    "ECS Task: arn:aws:ecs:...",
    "RDS Instance: patient-zone-mysql"
  ]
}

**Important:**
- Return valid JSON only, no markdown code blocks
- detected_issues must use the scenario names above
- severity must be one of critical/warning/info
- affected_resources must name real AWS resources from the logs
- If nothing is wrong, return empty arrays and severity "info"
`, scenarioLines.String(), logLines.String())
}

// parseVerdictResponse resolves the three response shapes explicitly: a
// well-formed JSON object, or free text handed to the keyword fallback.
func parseVerdictResponse(responseText string) domain.Verdict {
	cleaned := stripCodeFence(responseText)

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return fallbackVerdictFromText(responseText)
	}

	// Missing list fields become empty, missing scalars become "unknown".
	// Structurally valid but invented tags/severities pass through unchanged.
	if verdict.DetectedIssues == nil {
		verdict.DetectedIssues = []string{}
	}
	if verdict.Recommendations == nil {
		verdict.Recommendations = []string{}
	}
	if verdict.AffectedResources == nil {
		verdict.AffectedResources = []string{}
	}
	if verdict.Severity == "" {
		verdict.Severity = "unknown"
	}
	if verdict.Summary == "" {
		verdict.Summary = "unknown"
	}
	return verdict
}

// fallbackVerdictFromText scans a non-JSON reply for known scenario names,
// matching either the hyphenated form or a space-separated variant.
func fallbackVerdictFromText(responseText string) domain.Verdict {
	textLower := strings.ToLower(responseText)

	detected := []string{}
	for _, tag := range domain.FailureScenarios {
		if strings.Contains(textLower, tag) || strings.Contains(textLower, strings.ReplaceAll(tag, "-", " ")) {
			detected = append(detected, tag)
		}
	}

	summary := truncateRunes(responseText, 200)

	return domain.Verdict{
		DetectedIssues:    detected,
		Severity:          domain.SeverityWarning,
		Summary:           summary,
		Recommendations:   []string{"Review logs manually for detailed analysis"},
		AffectedResources: []string{},
	}
}

// truncateRunes caps s at n characters, never splitting a multibyte rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
