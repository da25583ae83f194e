// Package server exposes the triage pipeline over HTTP: a synchronous
// analyze endpoint, Slack slash-command admission with background dispatch,
// and the CloudWatch alarm trigger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clouddoctor/internal/domain"
	"clouddoctor/internal/storage/sqlite"
	"clouddoctor/internal/triage"
)

const defaultWindowMinutes = 30
const defaultMaxRecords = 100

// Slash-command windows are clamped; direct API calls are not.
const minCommandWindow = 5
const maxCommandWindow = 120

// Runner is the orchestrator's entry point.
type Runner interface {
	Run(ctx context.Context, p triage.RunParams) (domain.TriageResult, error)
}

// ChatNotifier covers the notification paths the server uses directly,
// bypassing verdict rendering.
type ChatNotifier interface {
	SendTestMessage(ctx context.Context) bool
	SendAlarmFallback(ctx context.Context, alarmName, reason, alarmTime, pipelineErr string) bool
}

// RunHistory serves the run registry read side.
type RunHistory interface {
	RecentRuns(limit int) ([]sqlite.RunRow, error)
}

type Server struct {
	runner          Runner
	notifier        ChatNotifier
	history         RunHistory
	slackConfigured bool
	llmProvider     string

	// dispatch hands a background run off without tracking it. Tests
	// substitute a synchronous recorder.
	dispatch func(fn func())
}

func New(runner Runner, notifier ChatNotifier, history RunHistory, slackConfigured bool, llmProvider string) *Server {
	return &Server{
		runner:          runner,
		notifier:        notifier,
		history:         history,
		slackConfigured: slackConfigured,
		llmProvider:     llmProvider,
		dispatch:        func(fn func()) { go fn() },
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /slack/test", s.handleSlackTest)
	mux.HandleFunc("POST /slack/command", s.handleSlackCommand)
	mux.HandleFunc("POST /events/alarm", s.handleAlarmEvent)
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "Cloud Doctor",
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"features": map[string]any{
			"log_analysis":         s.llmProvider,
			"terraform_generation": s.llmProvider,
			"slack_notifications":  s.slackConfigured,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run history not configured"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	runs, err := s.history.RecentRuns(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []sqlite.RunRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type analyzeRequest struct {
	TimeRangeMinutes  *int  `json:"time_range_minutes"`
	MaxLogs           *int  `json:"max_logs"`
	GenerateTerraform *bool `json:"generate_terraform"`
	SendToSlack       *bool `json:"send_to_slack"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	params := triage.RunParams{
		WindowMinutes: defaultWindowMinutes,
		MaxRecords:    defaultMaxRecords,
		GenerateDraft: true,
		Notify:        s.slackConfigured,
		TriggeredBy:   "api",
	}
	if req.TimeRangeMinutes != nil {
		params.WindowMinutes = *req.TimeRangeMinutes
	}
	if req.MaxLogs != nil {
		params.MaxRecords = *req.MaxLogs
	}
	if req.GenerateTerraform != nil {
		params.GenerateDraft = *req.GenerateTerraform
	}
	if req.SendToSlack != nil {
		params.Notify = *req.SendToSlack && s.slackConfigured
	}

	result, err := s.runner.Run(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"type":  fmt.Sprintf("%T", err),
		})
		return
	}

	if result.Status == "no_errors" {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "no_errors",
			"message":            "No error logs found in the specified time range",
			"time_range_minutes": result.WindowMins,
		})
		return
	}

	resp := map[string]any{
		"status":    result.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"summary": map[string]any{
			"total_logs_analyzed": result.LogsFetched,
			"time_range_minutes":  result.WindowMins,
		},
		"analysis":   result.Verdict,
		"slack_sent": result.NotifierSent,
	}
	if result.Draft != nil {
		resp["terraform"] = result.Draft
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSlackTest(w http.ResponseWriter, r *http.Request) {
	if !s.slackConfigured {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "slack_webhook_url not configured"})
		return
	}
	if !s.notifier.SendTestMessage(r.Context()) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to send test message to Slack"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Test message sent to Slack"})
}

func (s *Server) handleSlackCommand(w http.ResponseWriter, r *http.Request) {
	// Slack redelivers the command when the first ack was slow. The retry
	// only gets a synchronous ack; the original run is not tracked.
	if retryNum := r.Header.Get("X-Slack-Retry-Num"); retryNum != "" {
		log.Printf("slack retry #%s detected (reason: %s), ignoring duplicate delivery", retryNum, r.Header.Get("X-Slack-Retry-Reason"))
		writeJSON(w, http.StatusOK, map[string]string{
			"response_type": "ephemeral",
			"text":          "Your request is still processing. Please wait a moment.",
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"response_type": "ephemeral",
			"text":          "⚠️ Could not parse the command. Please contact an administrator.",
		})
		return
	}

	command := r.PostFormValue("command")
	text := strings.TrimSpace(r.PostFormValue("text"))
	userName := r.PostFormValue("user_name")
	if userName == "" {
		userName = "Unknown"
	}

	windowMinutes := defaultWindowMinutes
	if n, err := strconv.Atoi(text); err == nil {
		windowMinutes = clampWindow(n)
	}

	requestID := fmt.Sprintf("%s_%s", userName, time.Now().UTC().Format("150405"))
	generateDraft := command == "/terraform"
	log.Printf("[REQ-%s] slack command %s from %s window=%dm draft=%t", requestID, command, userName, windowMinutes, generateDraft)

	params := triage.RunParams{
		WindowMinutes: windowMinutes,
		MaxRecords:    defaultMaxRecords,
		GenerateDraft: generateDraft,
		Notify:        true,
		TriggeredBy:   userName,
		RequestID:     requestID,
	}
	s.dispatch(func() {
		if _, err := s.runner.Run(context.Background(), params); err != nil {
			log.Printf("[REQ-%s] background run failed: %v", requestID, err)
		}
	})

	ack := fmt.Sprintf("✅ Log analysis request accepted (last %d minutes).\n\nResults will be posted automatically when ready.", windowMinutes)
	if generateDraft {
		ack = fmt.Sprintf("✅ Terraform generation request accepted (last %d minutes).\n\nResults will be posted automatically when ready.", windowMinutes)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response_type": "ephemeral",
		"text":          ack,
	})
}

// snsEnvelope is the notification-service wrapper around an alarm state
// change.
type snsEnvelope struct {
	Records []struct {
		Sns struct {
			Message string `json:"Message"`
		} `json:"Sns"`
	} `json:"Records"`
}

type alarmMessage struct {
	AlarmName       string `json:"AlarmName"`
	NewStateValue   string `json:"NewStateValue"`
	NewStateReason  string `json:"NewStateReason"`
	StateChangeTime string `json:"StateChangeTime"`
}

func (s *Server) handleAlarmEvent(w http.ResponseWriter, r *http.Request) {
	var envelope snsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil || len(envelope.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid SNS envelope"})
		return
	}

	var alarm alarmMessage
	if err := json.Unmarshal([]byte(envelope.Records[0].Sns.Message), &alarm); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid alarm message: %v", err)})
		return
	}
	if alarm.AlarmName == "" {
		alarm.AlarmName = "Unknown"
	}
	if alarm.StateChangeTime == "" {
		alarm.StateChangeTime = time.Now().UTC().Format(time.RFC3339)
	}

	log.Printf("alarm event name=%s state=%s", alarm.AlarmName, alarm.NewStateValue)

	if alarm.NewStateValue != "ALARM" {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Skipped - alarm state is %s", alarm.NewStateValue),
		})
		return
	}

	result, err := s.runner.Run(r.Context(), triage.RunParams{
		WindowMinutes: defaultWindowMinutes,
		MaxRecords:    defaultMaxRecords,
		GenerateDraft: false,
		Notify:        true,
		TriggeredBy:   "cloudwatch_alarm",
	})
	if err != nil {
		if s.notifier != nil {
			s.notifier.SendAlarmFallback(r.Context(), alarm.AlarmName, alarm.NewStateReason, alarm.StateChangeTime, err.Error())
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"status":       result.Status,
		"logs_fetched": result.LogsFetched,
		"slack_sent":   result.NotifierSent,
	})
}

func clampWindow(n int) int {
	if n < minCommandWindow {
		return minCommandWindow
	}
	if n > maxCommandWindow {
		return maxCommandWindow
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response error: %v", err)
	}
}
