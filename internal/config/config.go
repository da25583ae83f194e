package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	AWSRoleARN    string `yaml:"aws_role_arn"`
	AWSRegion     string `yaml:"aws_region"`
	LogGroupName  string `yaml:"log_group_name"`
	FilterPattern string `yaml:"filter_pattern"`
	SessionName   string `yaml:"session_name"`

	LLMProvider     string `yaml:"llm_provider"`
	ClassifierModel string `yaml:"classifier_model"`
	DrafterModel    string `yaml:"drafter_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	SlackWebhookURL string `yaml:"slack_webhook_url"`

	DBPath          string `yaml:"db_path"`
	MonitorSchedule string `yaml:"monitor_schedule"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	// Infra context passed to the remediation drafter.
	VPCCIDR     string `yaml:"vpc_cidr"`
	ECSCluster  string `yaml:"ecs_cluster"`
	RDSInstance string `yaml:"rds_instance"`
	ALBName     string `yaml:"alb_name"`
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.AWSRoleARN, "AWS_ROLE_ARN")
	envOverride(&cfg.AWSRegion, "AWS_REGION")
	envOverride(&cfg.LogGroupName, "LOG_GROUP_NAME")
	envOverride(&cfg.FilterPattern, "FILTER_PATTERN")
	envOverride(&cfg.SessionName, "SESSION_NAME")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.ClassifierModel, "CLASSIFIER_MODEL")
	envOverride(&cfg.DrafterModel, "DRAFTER_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.MonitorSchedule, "MONITOR_SCHEDULE")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.VPCCIDR, "VPC_CIDR")
	envOverride(&cfg.ECSCluster, "ECS_CLUSTER")
	envOverride(&cfg.RDSInstance, "RDS_INSTANCE")
	envOverride(&cfg.ALBName, "ALB_NAME")

	// Defaults
	if cfg.ListenAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.ListenAddr = ":" + port
		} else {
			cfg.ListenAddr = ":8080"
		}
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "ap-northeast-2"
	}
	if cfg.LogGroupName == "" {
		cfg.LogGroupName = "/ecs/patient-zone"
	}
	if cfg.FilterPattern == "" {
		cfg.FilterPattern = "?ERROR ?Error ?error ?CRITICAL ?FATAL"
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "CloudDoctorSession"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./clouddoctor.db"
	}
	if cfg.VPCCIDR == "" {
		cfg.VPCCIDR = "10.0.0.0/16"
	}
	if cfg.ECSCluster == "" {
		cfg.ECSCluster = "patient-zone-cluster"
	}
	if cfg.RDSInstance == "" {
		cfg.RDSInstance = "patient-zone-mysql"
	}
	if cfg.ALBName == "" {
		cfg.ALBName = "patient-zone-alb"
	}

	// Missing integration settings degrade the matching feature instead of
	// refusing to start; only malformed values are fatal.
	if cfg.AWSRoleARN == "" {
		log.Println("aws_role_arn not set - log fetching will fail until configured")
	}
	if cfg.SlackWebhookURL == "" {
		log.Println("slack_webhook_url not set - notifications disabled")
	}
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Println("anthropic_api_key not set - AI analysis will fail until configured")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Println("openai_api_key not set - AI analysis will fail until configured")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	return cfg
}

// InfraContext returns the patient-zone infrastructure facts embedded in
// remediation prompts.
func (c Config) InfraContext() map[string]string {
	return map[string]string{
		"region":       c.AWSRegion,
		"vpc_cidr":     c.VPCCIDR,
		"ecs_cluster":  c.ECSCluster,
		"rds_instance": c.RDSInstance,
		"alb_name":     c.ALBName,
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackWebhookURL != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
