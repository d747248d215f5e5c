package config

import (
	"fmt"
	"time"
)

// Settings are the pickup options with defaults applied.
type Settings struct {
	HTTPAddr           string
	LedgerHTTPAddr     string
	KafkaConsumerGroup string
	OutcomeTopic       string
	SwaggerPath        string

	DefaultWait   time.Duration
	MaxWait       time.Duration
	PollTimeout   time.Duration
	PollPause     time.Duration
	Retention     time.Duration
	SubmissionTTL time.Duration

	IntakeLimitPerHour int
	Location           *time.Location
}

// Settings resolves zero values to defaults. Only a bad timezone is an error.
func (c *Config) Settings() (Settings, error) {
	p := c.Pickup
	s := Settings{
		HTTPAddr:           p.HTTPAddr,
		LedgerHTTPAddr:     p.LedgerHTTPAddr,
		KafkaConsumerGroup: p.KafkaConsumerGroup,
		OutcomeTopic:       c.Kafka.PickupOutcomeTopicName,
		SwaggerPath:        p.SwaggerPath,
		DefaultWait:        time.Duration(p.DefaultWaitMinutes) * time.Minute,
		MaxWait:            time.Duration(p.MaxWaitMinutes) * time.Minute,
		PollTimeout:        time.Duration(p.PollTimeoutSeconds) * time.Second,
		PollPause:          time.Duration(p.PollPauseMillis) * time.Millisecond,
		Retention:          time.Duration(p.RetentionSeconds) * time.Second,
		SubmissionTTL:      time.Duration(p.SubmissionTTLSeconds) * time.Second,
		IntakeLimitPerHour: p.IntakeLimitPerHour,
	}

	if s.HTTPAddr == "" {
		s.HTTPAddr = ":8080"
	}
	if s.LedgerHTTPAddr == "" {
		s.LedgerHTTPAddr = ":8082"
	}
	if s.KafkaConsumerGroup == "" {
		s.KafkaConsumerGroup = "pickup-ledger"
	}
	if s.OutcomeTopic == "" {
		s.OutcomeTopic = "pickup.outcome"
	}
	if s.DefaultWait <= 0 {
		s.DefaultWait = 15 * time.Minute
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 60 * time.Minute
	}
	if s.MaxWait < s.DefaultWait {
		s.MaxWait = s.DefaultWait
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = 10 * time.Second
	}
	if s.PollPause <= 0 {
		s.PollPause = 2 * time.Second
	}
	if s.Retention <= 0 {
		s.Retention = 15 * time.Minute
	}
	if s.SubmissionTTL <= 0 {
		s.SubmissionTTL = 24 * time.Hour
	}
	if s.IntakeLimitPerHour <= 0 {
		s.IntakeLimitPerHour = 5
	}

	s.Location = time.Local
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return Settings{}, fmt.Errorf("pickup.timezone %q: %w", p.Timezone, err)
		}
		s.Location = loc
	}
	return s, nil
}

// PostgresDSN builds the pgx connection string.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
