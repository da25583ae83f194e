package triage

import (
	"context"
	"fmt"
	"log"
	"strings"

	"clouddoctor/internal/domain"
	"clouddoctor/internal/integrations/llm"
)

const drafterTemperature = 0.5

const (
	headingTerraform    = "## Terraform Code"
	headingExplanation  = "## Explanation"
	headingInstructions = "## Apply Instructions"
)

// canonicalApplySteps is substituted when the model response contains no
// usable apply instructions. A draft never ships zero instructions.
var canonicalApplySteps = []string{
	"Review the generated Terraform code",
	"Run 'terraform plan' to verify changes",
	"Apply with 'terraform apply' after confirmation",
}

// Drafter asks a generative model for a Terraform patch fixing a verdict's
// detected issues. Like the classifier it never returns an error.
type Drafter struct {
	model llm.TextModel
}

func NewDrafter(model llm.TextModel) *Drafter {
	return &Drafter{model: model}
}

func (d *Drafter) Draft(ctx context.Context, verdict domain.Verdict, infraContext map[string]string) domain.RemediationDraft {
	if !verdict.HasIssues() {
		return domain.RemediationDraft{
			Code:        "",
			Explanation: "No issues detected - no infrastructure changes needed.",
			ApplySteps:  []string{},
		}
	}

	prompt := buildDrafterPrompt(verdict, infraContext)

	responseText, usage, err := d.model.Complete(ctx, llm.Request{
		User:        prompt,
		Temperature: drafterTemperature,
		MaxTokens:   4096,
	})
	if err != nil {
		log.Printf("draft model error: %v", err)
		return domain.RemediationDraft{
			Code:        fmt.Sprintf("# Error generating Terraform code: %v", err),
			Explanation: fmt.Sprintf("Failed to generate fix: %v", err),
			ApplySteps:  []string{"Check LLM provider credentials", "Verify API permissions"},
		}
	}

	draft := parseDraftResponse(responseText)
	log.Printf("draft issues=%d code_len=%d steps=%d tokens=%d", len(verdict.DetectedIssues), len(draft.Code), len(draft.ApplySteps), usage.TotalTokens())
	return draft
}

func buildDrafterPrompt(verdict domain.Verdict, infra map[string]string) string {
	var issueLines strings.Builder
	for _, issue := range verdict.DetectedIssues {
		issueLines.WriteString(fmt.Sprintf("- %s\n", issue))
	}

	var recLines strings.Builder
	for _, rec := range verdict.Recommendations {
		recLines.WriteString(fmt.Sprintf("- %s\n", rec))
	}
	recsBlock := "none"
	if recLines.Len() > 0 {
		recsBlock = recLines.String()
	}

	return fmt.Sprintf(`You are a Cloud Infrastructure Engineer specializing in AWS and Terraform.

**Current Situation:**
A monitoring system detected the following issues in a production AWS environment:

Issues Detected:
%sSummary: %s
Severity: %s
Analyst Recommendations:
%s
**Current Infrastructure (Patient Zone):**
- Region: %s
- VPC CIDR: %s
- ECS Cluster: %s
- RDS Instance: %s
- ALB: %s

**Your Task:**
Generate Terraform code to fix the detected issues. Follow these guidelines:

1. **Only fix the specific problems detected** - don't make unnecessary changes
2. **Use existing resource names** from the infrastructure above
3. **Add comments explaining each fix**
4. **Include variable definitions if needed**
5. **Make changes production-safe** (no downtime if possible)

**Response Format:**

Please provide your response in this exact format:

`+headingTerraform+`

`+"```hcl"+`
[Your Terraform code here - with English comments]
`+"```"+`

`+headingExplanation+`

[Brief explanation in KOREAN (한국어) of what the code does and why it fixes the issue]

`+headingInstructions+`

1. [Step-by-step instructions to apply this fix - can be in English]
2. [Include backup/rollback steps if needed]
3. [Verification steps]

**IMPORTANT:** Write the "Explanation" section in Korean (한국어). The Terraform code comments can be in English, but the explanation must be in Korean.
`,
		issueLines.String(),
		verdict.Summary,
		verdict.Severity,
		recsBlock,
		infra["region"],
		infra["vpc_cidr"],
		infra["ecs_cluster"],
		infra["rds_instance"],
		infra["alb_name"],
	)
}

type draftSection int

const (
	sectionNone draftSection = iota
	sectionTerraform
	sectionExplanation
	sectionInstructions
)

// parseDraftResponse walks the response line by line with a section cursor
// that flips on the three fixed headings and an independent code-fence flag.
func parseDraftResponse(responseText string) domain.RemediationDraft {
	var code strings.Builder
	var explanation strings.Builder
	applySteps := []string{}

	section := sectionNone
	insideFence := false

	for _, line := range strings.Split(responseText, "\n") {
		stripped := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(stripped, headingTerraform):
			section = sectionTerraform
			continue
		case strings.HasPrefix(stripped, headingExplanation):
			section = sectionExplanation
			continue
		case strings.HasPrefix(stripped, headingInstructions):
			section = sectionInstructions
			continue
		}

		if strings.HasPrefix(stripped, "```") {
			insideFence = !insideFence
			continue
		}

		switch section {
		case sectionTerraform:
			// Unfenced prose is dropped unless it looks like HCL.
			if insideFence || strings.HasPrefix(stripped, "#") || strings.HasPrefix(stripped, "resource") || strings.HasPrefix(stripped, "variable") {
				code.WriteString(line)
				code.WriteString("\n")
			}
		case sectionExplanation:
			if stripped != "" && !strings.HasPrefix(stripped, "##") {
				explanation.WriteString(stripped)
				explanation.WriteString(" ")
			}
		case sectionInstructions:
			if step, ok := stripListMarker(stripped); ok {
				applySteps = append(applySteps, step)
			}
		}
	}

	if len(applySteps) == 0 {
		applySteps = append([]string{}, canonicalApplySteps...)
	}

	return domain.RemediationDraft{
		Code:        strings.TrimSpace(code.String()),
		Explanation: strings.TrimSpace(explanation.String()),
		ApplySteps:  applySteps,
	}
}

// stripListMarker accepts numbered-list and bullet lines, returning the text
// with the marker removed.
func stripListMarker(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	if line[0] == '-' || line[0] == '*' {
		return strings.TrimSpace(strings.TrimLeft(line, "-* ")), true
	}
	if line[0] >= '1' && line[0] <= '9' {
		rest := strings.TrimLeft(line, "0123456789")
		if strings.HasPrefix(rest, ".") {
			return strings.TrimSpace(strings.TrimPrefix(rest, ".")), true
		}
	}
	return "", false
}
