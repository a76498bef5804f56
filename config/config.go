package config

import (
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	DispatchBox DispatchBoxConfig `yaml:"dispatchbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// KafkaConfig: пустой host выключает и sink событий, и consumer статусов.
type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	DispatchEventsTopicName string `yaml:"dispatch_events_topic_name"`
	DriverStatusTopicName   string `yaml:"driver_status_topic_name"`
	EventSinkBuffer         int    `yaml:"event_sink_buffer"`
}

// RedisConfig: пустой host выключает кэш снимков и rate limit уведомлений.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DispatchBoxConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	Store                   string `yaml:"store"` // "memory" | "postgres"
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	SnapshotCacheTTLSeconds int    `yaml:"snapshot_cache_ttl_seconds"`

	AcceptanceTimeoutMinutes int `yaml:"acceptance_timeout_minutes"`
	SMSMaxAttempts           int `yaml:"sms_max_attempts"`
	DeadlineWarningMinutes   int `yaml:"deadline_warning_minutes"` // < 0 выключает предупреждения
	MaxAlerts                int `yaml:"max_alerts"`

	OutboxPollIntervalSeconds int `yaml:"outbox_poll_interval_seconds"`
	OutboxBatchSize           int `yaml:"outbox_batch_size"`
	OutboxConcurrency         int `yaml:"outbox_concurrency"`
	OutboxMaxAttempts         int `yaml:"outbox_max_attempts"`
	OutboxRateLimitPerMinute  int `yaml:"outbox_rate_limit_per_minute"`
	OutboxBackoff1Seconds     int `yaml:"outbox_backoff_1_seconds"`
	OutboxBackoff2Seconds     int `yaml:"outbox_backoff_2_seconds"`
	OutboxBackoff3Seconds     int `yaml:"outbox_backoff_3_seconds"`
	OutboxBackoff4Seconds     int `yaml:"outbox_backoff_4_seconds"`

	// Провайдеры уведомлений. Без base_url используется локальный fake.
	SMSProviderBaseURL  string `yaml:"sms_provider_base_url"`
	SMSProviderAPIKey   string `yaml:"sms_provider_api_key"`
	SMSProviderSender   string `yaml:"sms_provider_sender"`
	PushProviderBaseURL string `yaml:"push_provider_base_url"`
	PushProviderAPIKey  string `yaml:"push_provider_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal YAML")
	}

	return &config, nil
}
