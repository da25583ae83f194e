package triage

import (
	"context"
	"fmt"
	"log"
	"time"

	"clouddoctor/internal/domain"
)

// LogFetcher is the log source adapter contract. Fetch errors propagate to
// the orchestrator; everything downstream is self-contained.
type LogFetcher interface {
	Fetch(ctx context.Context, windowMinutes, maxRecords int, keywordFilter string) ([]domain.LogRecord, error)
}

type VerdictClassifier interface {
	Classify(ctx context.Context, records []domain.LogRecord) domain.Verdict
}

type RemediationDrafter interface {
	Draft(ctx context.Context, verdict domain.Verdict, infraContext map[string]string) domain.RemediationDraft
}

type Notifier interface {
	Notify(ctx context.Context, verdict domain.Verdict, draft *domain.RemediationDraft) bool
	SendSimple(ctx context.Context, title, message string) bool
}

// RunRecord is the advisory run-history row written after each run.
type RunRecord struct {
	RequestID      string
	TriggeredBy    string
	WindowMinutes  int
	LogsFetched    int
	Severity       string
	DetectedIssues []string
	Drafted        bool
	Notified       bool
	Duration       time.Duration
	Err            string
}

type RunStore interface {
	RecordRun(rec RunRecord) error
}

// RunParams configures one triage run.
type RunParams struct {
	WindowMinutes int
	MaxRecords    int
	GenerateDraft bool
	Notify        bool
	TriggeredBy   string
	RequestID     string
}

// Orchestrator sequences fetch, classify, draft and notify for one run. The
// four stages run strictly sequentially; concurrent runs are independent.
type Orchestrator struct {
	Fetcher       LogFetcher
	Classifier    VerdictClassifier
	Drafter       RemediationDrafter
	Notifier      Notifier
	Store         RunStore
	FilterPattern string
	InfraContext  map[string]string
}

// Run executes the pipeline once. The returned error is non-nil only when a
// pre-AI stage (fetch, credentials) failed; classifier and drafter
// degradations surface inside the result instead.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) (domain.TriageResult, error) {
	if p.WindowMinutes <= 0 {
		p.WindowMinutes = 30
	}
	if p.MaxRecords <= 0 {
		p.MaxRecords = 100
	}
	if p.RequestID == "" {
		p.RequestID = fmt.Sprintf("%s_%s", p.TriggeredBy, time.Now().UTC().Format("150405"))
	}

	start := time.Now()
	log.Printf("[REQ-%s] triage run started by=%s window=%dm max=%d draft=%t notify=%t", p.RequestID, p.TriggeredBy, p.WindowMinutes, p.MaxRecords, p.GenerateDraft, p.Notify)

	fetchStart := time.Now()
	records, err := o.Fetcher.Fetch(ctx, p.WindowMinutes, p.MaxRecords, o.FilterPattern)
	if err != nil {
		log.Printf("[REQ-%s] fetch failed after %.2fs: %v", p.RequestID, time.Since(fetchStart).Seconds(), err)
		if p.Notify && o.Notifier != nil {
			o.Notifier.SendSimple(ctx,
				fmt.Sprintf("❌ Analysis failed (requested by @%s)", p.TriggeredBy),
				fmt.Sprintf("Error: %v", err),
			)
		}
		o.record(p, RunRecord{LogsFetched: 0, Duration: time.Since(start), Err: err.Error()})
		return domain.TriageResult{}, err
	}
	log.Printf("[REQ-%s] fetched %d logs in %.2fs", p.RequestID, len(records), time.Since(fetchStart).Seconds())

	result := domain.TriageResult{
		LogsFetched: len(records),
		WindowMins:  p.WindowMinutes,
	}

	if len(records) == 0 {
		result.Status = "no_errors"
		result.Verdict = domain.Verdict{
			DetectedIssues:    []string{},
			Severity:          domain.SeverityInfo,
			Summary:           fmt.Sprintf("No error logs found in the last %d minutes", p.WindowMinutes),
			Recommendations:   []string{},
			AffectedResources: []string{},
		}
		if p.Notify && o.Notifier != nil {
			result.NotifierSent = o.Notifier.SendSimple(ctx,
				fmt.Sprintf("✅ Analysis complete (requested by @%s)", p.TriggeredBy),
				fmt.Sprintf("No error logs in the last %d minutes. System healthy!", p.WindowMinutes),
			)
		}
		log.Printf("[REQ-%s] clean run, total %.2fs", p.RequestID, time.Since(start).Seconds())
		o.record(p, RunRecord{LogsFetched: 0, Severity: domain.SeverityInfo, Notified: result.NotifierSent, Duration: time.Since(start)})
		return result, nil
	}

	classifyStart := time.Now()
	result.Verdict = o.Classifier.Classify(ctx, records)
	log.Printf("[REQ-%s] classified in %.2fs severity=%s issues=%v", p.RequestID, time.Since(classifyStart).Seconds(), result.Verdict.Severity, result.Verdict.DetectedIssues)

	if p.GenerateDraft && result.Verdict.HasIssues() {
		draftStart := time.Now()
		draft := o.Drafter.Draft(ctx, result.Verdict, o.InfraContext)
		result.Draft = &draft
		log.Printf("[REQ-%s] drafted in %.2fs code_len=%d", p.RequestID, time.Since(draftStart).Seconds(), len(draft.Code))
	}

	if p.Notify && o.Notifier != nil {
		notifyStart := time.Now()
		result.NotifierSent = o.Notifier.Notify(ctx, result.Verdict, result.Draft)
		if result.NotifierSent {
			log.Printf("[REQ-%s] notification sent in %.2fs", p.RequestID, time.Since(notifyStart).Seconds())
		} else {
			log.Printf("[REQ-%s] notification failed", p.RequestID)
		}
	}

	result.Status = "success"
	log.Printf("[REQ-%s] triage run complete, total %.2fs", p.RequestID, time.Since(start).Seconds())
	o.record(p, RunRecord{
		LogsFetched:    len(records),
		Severity:       result.Verdict.Severity,
		DetectedIssues: result.Verdict.DetectedIssues,
		Drafted:        result.Draft != nil,
		Notified:       result.NotifierSent,
		Duration:       time.Since(start),
	})
	return result, nil
}

// record writes the run-history row. Best effort: history never gates the
// pipeline outcome.
func (o *Orchestrator) record(p RunParams, rec RunRecord) {
	if o.Store == nil {
		return
	}
	rec.RequestID = p.RequestID
	rec.TriggeredBy = p.TriggeredBy
	rec.WindowMinutes = p.WindowMinutes
	if err := o.Store.RecordRun(rec); err != nil {
		log.Printf("[REQ-%s] run history write failed: %v", p.RequestID, err)
	}
}
