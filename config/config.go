package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Pickup   PickupConfig   `yaml:"pickup"`
}

type TelegramConfig struct {
	// Token empty means dry-run: the bot uses the in-memory gateway.
	Token       string `yaml:"token"`
	GroupChatID int64  `yaml:"group_chat_id"`
	// BotUsername is used for deep links when getMe is not available (dry-run).
	BotUsername string `yaml:"bot_username"`
	APIEndpoint string `yaml:"api_endpoint"`
	Debug       bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	PickupOutcomeTopicName string `yaml:"pickup_outcome_topic_name"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PickupConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	LedgerHTTPAddr     string `yaml:"ledger_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SwaggerPath        string `yaml:"swagger_path"`

	DefaultWaitMinutes int `yaml:"default_wait_minutes"`
	MaxWaitMinutes     int `yaml:"max_wait_minutes"`
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
	PollPauseMillis    int `yaml:"poll_pause_millis"`
	RetentionSeconds   int `yaml:"retention_seconds"`

	// ResetPendingOnStartup drops the update backlog once before the
	// dispatcher starts. Never done per request.
	ResetPendingOnStartup bool `yaml:"reset_pending_on_startup"`

	IntakeLimitPerHour   int `yaml:"intake_limit_per_hour"`
	SubmissionTTLSeconds int `yaml:"submission_ttl_seconds"`

	// Timezone is an IANA name for the displayed deadline and "Today".
	Timezone string `yaml:"timezone"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
