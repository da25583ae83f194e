package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := LoadConfig()

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.AWSRegion != "ap-northeast-2" {
		t.Fatalf("expected default region, got %q", cfg.AWSRegion)
	}
	if cfg.LogGroupName != "/ecs/patient-zone" {
		t.Fatalf("expected default log group, got %q", cfg.LogGroupName)
	}
	if cfg.FilterPattern != "?ERROR ?Error ?error ?CRITICAL ?FATAL" {
		t.Fatalf("expected default filter pattern, got %q", cfg.FilterPattern)
	}
	if cfg.LLMProvider != "anthropic" {
		t.Fatalf("expected default provider, got %q", cfg.LLMProvider)
	}
	if cfg.SlackConfigured() {
		t.Fatalf("expected slack unconfigured by default")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
aws_role_arn: arn:aws:iam::123456789012:role/DoctorRole
aws_region: us-east-1
log_group_name: /ecs/other
slack_webhook_url: https://hooks.slack.com/services/T/B/X
llm_provider: openai
openai_api_key: sk-test
monitor_schedule: "*/30 * * * *"
`)
	t.Setenv("CONFIG_PATH", path)

	cfg := LoadConfig()

	if cfg.AWSRoleARN != "arn:aws:iam::123456789012:role/DoctorRole" {
		t.Fatalf("unexpected role arn: %q", cfg.AWSRoleARN)
	}
	if cfg.AWSRegion != "us-east-1" || cfg.LogGroupName != "/ecs/other" {
		t.Fatalf("yaml values not applied: region=%q group=%q", cfg.AWSRegion, cfg.LogGroupName)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("unexpected provider: %q", cfg.LLMProvider)
	}
	if !cfg.SlackConfigured() {
		t.Fatalf("expected slack configured")
	}
	if cfg.MonitorSchedule != "*/30 * * * *" {
		t.Fatalf("unexpected schedule: %q", cfg.MonitorSchedule)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "aws_region: us-east-1\n")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("EXTERNAL_HTTP_TIMEOUT_SECONDS", "45")

	cfg := LoadConfig()

	if cfg.AWSRegion != "eu-west-1" {
		t.Fatalf("expected env to override yaml, got %q", cfg.AWSRegion)
	}
	if cfg.ExternalHTTPTimeoutSeconds != 45 {
		t.Fatalf("expected int env override, got %d", cfg.ExternalHTTPTimeoutSeconds)
	}
}

func TestPortEnvSetsListenAddr(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PORT", "9090")

	cfg := LoadConfig()

	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected PORT env honored, got %q", cfg.ListenAddr)
	}
}

func TestInfraContext(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ECS_CLUSTER", "my-cluster")

	cfg := LoadConfig()
	infra := cfg.InfraContext()

	if infra["ecs_cluster"] != "my-cluster" {
		t.Fatalf("expected env cluster in infra context, got %q", infra["ecs_cluster"])
	}
	for _, key := range []string{"region", "vpc_cidr", "ecs_cluster", "rds_instance", "alb_name"} {
		if infra[key] == "" {
			t.Fatalf("expected %s populated in infra context", key)
		}
	}
}
