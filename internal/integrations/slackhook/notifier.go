// Package slackhook renders triage verdicts as Block Kit messages and
// delivers them over an incoming webhook.
package slackhook

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"clouddoctor/internal/domain"
)

const webhookTimeout = 10 * time.Second

// codePreviewLimit keeps generated code under Slack's per-block ceiling.
const codePreviewLimit = 500

const maxApplyStepsShown = 5

type severityStyle struct {
	color string
	emoji string
}

var severityStyles = map[string]severityStyle{
	domain.SeverityCritical: {color: "#d32f2f", emoji: "🚨"},
	domain.SeverityWarning:  {color: "#f57c00", emoji: "⚠️"},
	domain.SeverityInfo:     {color: "#388e3c", emoji: "ℹ️"},
}

// neutralStyle renders unrecognized severity strings, which pass through the
// classifier unvalidated.
var neutralStyle = severityStyle{color: "#757575", emoji: "🔍"}

func styleFor(severity string) severityStyle {
	if s, ok := severityStyles[severity]; ok {
		return s
	}
	return neutralStyle
}

// Notifier posts to a single Slack incoming webhook. Delivery failures
// surface only as a false return.
type Notifier struct {
	webhookURL string
	client     *http.Client

	// IncludeFullCode disables the 500-char code preview truncation.
	IncludeFullCode bool
}

func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

func (n *Notifier) Notify(ctx context.Context, verdict domain.Verdict, draft *domain.RemediationDraft) bool {
	msg := BuildAlertMessage(verdict, draft, n.IncludeFullCode)
	return n.post(ctx, msg)
}

// SendTestMessage verifies the webhook wiring, bypassing verdict rendering.
func (n *Notifier) SendTestMessage(ctx context.Context) bool {
	msg := &slack.WebhookMessage{
		Text: "🩺 Cloud Doctor Test Alert",
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "✅ Slack Integration Test", true, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				"If you're seeing this, the Slack webhook is working correctly!\n\n*Next Steps:*\n1. Cloud Doctor is monitoring CloudWatch Logs\n2. Detected failures are classified by AI\n3. Terraform fixes are drafted on request\n4. Alerts will be sent here", false, false), nil, nil),
		}},
	}
	return n.post(ctx, msg)
}

// SendSimple delivers a plain title/body message for status and failure
// notifications.
func (n *Notifier) SendSimple(ctx context.Context, title, message string) bool {
	msg := &slack.WebhookMessage{
		Text: title,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n\n%s", title, message), false, false), nil, nil),
		}},
	}
	return n.post(ctx, msg)
}

// SendAlarmFallback posts a raw alarm summary when the triage pipeline
// itself could not run for an alarm trigger.
func (n *Notifier) SendAlarmFallback(ctx context.Context, alarmName, reason, alarmTime, pipelineErr string) bool {
	reason = truncateRunes(reason, 500)
	pipelineErr = truncateRunes(pipelineErr, 300)
	msg := &slack.WebhookMessage{
		Text: "CloudWatch Alarm Triggered",
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "CloudWatch Alarm Triggered", true, false)),
			slack.NewSectionBlock(nil, []*slack.TextBlockObject{
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Alarm:*\n%s", alarmName), false, false),
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Time:*\n%s", alarmTime), false, false),
			}, nil),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Reason:*\n```%s```", reason), false, false), nil, nil),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Pipeline Error:*\n```%s```", pipelineErr), false, false), nil, nil),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType,
				"This is a fallback notification. The triage pipeline could not be run.", false, false)),
		}},
	}
	return n.post(ctx, msg)
}

// truncateRunes caps s at n characters, never splitting a multibyte rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (n *Notifier) post(ctx context.Context, msg *slack.WebhookMessage) bool {
	if n.webhookURL == "" {
		return false
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		log.Printf("slack webhook error: %v", err)
		return false
	}
	return true
}

// BuildAlertMessage renders a verdict (and optional draft) into the webhook
// payload. Exported so rendering is testable without a network.
func BuildAlertMessage(verdict domain.Verdict, draft *domain.RemediationDraft, includeFullCode bool) *slack.WebhookMessage {
	style := styleFor(verdict.Severity)

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("%s Cloud Doctor Alert - %s", style.emoji, strings.ToUpper(verdict.Severity)), true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Summary*\n\n%s", verdict.Summary), false, false), nil, nil),
		slack.NewDividerBlock(),
	}

	if len(verdict.DetectedIssues) > 0 {
		var issues strings.Builder
		for _, issue := range verdict.DetectedIssues {
			issues.WriteString(fmt.Sprintf("• `%s`\n", issue))
		}
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Detected Issues*\n\n%s", issues.String()), false, false), nil, nil))
	}

	if len(verdict.AffectedResources) > 0 {
		var resources strings.Builder
		for _, resource := range verdict.AffectedResources {
			resources.WriteString(fmt.Sprintf("• %s\n", resource))
		}
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Affected Resources*\n%s", resources.String()), false, false), nil, nil))
	}

	if len(verdict.Recommendations) > 0 {
		var recs strings.Builder
		for i, rec := range verdict.Recommendations {
			recs.WriteString(fmt.Sprintf("%d. %s\n", i+1, rec))
		}
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Recommendations*\n\n%s", recs.String()), false, false), nil, nil))
	}

	if draft != nil {
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "🔧 Terraform Fix Generated", true, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Explanation*\n%s", draft.Explanation), false, false), nil, nil),
		)

		if draft.Code != "" {
			code := draft.Code
			if !includeFullCode && utf8.RuneCountInString(code) > codePreviewLimit {
				code = truncateRunes(code, codePreviewLimit) + "\n...\n(truncated - see full code in the API response)"
			}
			blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Terraform Code*\n```\n%s\n```", code), false, false), nil, nil))
		}

		if len(draft.ApplySteps) > 0 {
			var steps strings.Builder
			for i, step := range draft.ApplySteps {
				if i >= maxApplyStepsShown {
					break
				}
				steps.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
			}
			blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Apply Instructions*\n%s", steps.String()), false, false), nil, nil))
		}
	}

	blocks = append(blocks,
		slack.NewDividerBlock(),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, "🩺 Cloud Doctor | log triage pipeline", false, false)),
	)

	return &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color:  style.color,
			Blocks: slack.Blocks{BlockSet: blocks},
		}},
	}
}
