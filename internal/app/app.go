package app

import (
	"log"
	"net/http"

	"clouddoctor/internal/config"
	"clouddoctor/internal/httpx"
	"clouddoctor/internal/integrations/cloudwatch"
	"clouddoctor/internal/integrations/credentials"
	"clouddoctor/internal/integrations/llm"
	"clouddoctor/internal/integrations/slackhook"
	"clouddoctor/internal/schedule"
	"clouddoctor/internal/server"
	"clouddoctor/internal/storage/sqlite"
	"clouddoctor/internal/triage"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Region=%s LogGroup=%s Provider=%s Slack=%t ExternalHTTPTimeout=%s",
		cfg.AWSRegion,
		cfg.LogGroupName,
		cfg.LLMProvider,
		cfg.SlackConfigured(),
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Run history database initialized at %s", cfg.DBPath)
	defer db.Close()
	store := sqlite.NewRunStore(db)

	apiKey := cfg.AnthropicAPIKey
	if cfg.LLMProvider == "openai" {
		apiKey = cfg.OpenAIAPIKey
	}

	broker := credentials.NewBroker(cfg.AWSRoleARN, cfg.AWSRegion, cfg.SessionName)
	fetcher := cloudwatch.NewFetcher(cfg.LogGroupName, cfg.AWSRegion, broker)
	classifier := triage.NewClassifier(llm.NewClient(cfg.LLMProvider, cfg.ClassifierModel, apiKey))
	drafter := triage.NewDrafter(llm.NewClient(cfg.LLMProvider, cfg.DrafterModel, apiKey))

	orch := &triage.Orchestrator{
		Fetcher:       fetcher,
		Classifier:    classifier,
		Drafter:       drafter,
		Store:         store,
		FilterPattern: cfg.FilterPattern,
		InfraContext:  cfg.InfraContext(),
	}

	var chatNotifier server.ChatNotifier
	if cfg.SlackConfigured() {
		notifier := slackhook.New(cfg.SlackWebhookURL)
		orch.Notifier = notifier
		chatNotifier = notifier
	}

	schedule.StartMonitor(cfg.MonitorSchedule, 30, orch)

	srv := server.New(orch, chatNotifier, store, cfg.SlackConfigured(), cfg.LLMProvider)

	log.Printf("Cloud Doctor listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Handler()); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
