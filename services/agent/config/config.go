package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/queue"
)

// Config holds typed configuration for the agent service.
type Config struct {
	LogLevel           string
	BrokerURL          string
	AgentType          string
	AgentTypes         []string
	Handler            string
	WebhookURL         string
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
	ExecCommand        string
	PollTimeout        time.Duration
	ErrorBackoff       time.Duration
	ResultTTL          time.Duration
	QueueOrder         string
	ShutdownGrace      time.Duration
	SinkTimeout        time.Duration
	MetricsAddr        string
	OTelEndpoint       string
	PostgresDSN        string
	KafkaBrokers       string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:           v.GetString("log_level"),
		BrokerURL:          v.GetString("broker_url"),
		AgentType:          v.GetString("agent_type"),
		AgentTypes:         domain.SplitAgentTypeNames(v.GetStringSlice("agent_types")),
		Handler:            v.GetString("handler"),
		WebhookURL:         v.GetString("webhook_url"),
		WebhookTimeout:     v.GetDuration("webhook_timeout"),
		WebhookMaxAttempts: v.GetInt("webhook_max_attempts"),
		ExecCommand:        v.GetString("exec_command"),
		PollTimeout:        v.GetDuration("poll_timeout"),
		ErrorBackoff:       v.GetDuration("error_backoff"),
		ResultTTL:          v.GetDuration("result_ttl"),
		QueueOrder:         v.GetString("queue_order"),
		ShutdownGrace:      v.GetDuration("shutdown_grace"),
		SinkTimeout:        v.GetDuration("sink_timeout"),
		MetricsAddr:        v.GetString("metrics_addr"),
		OTelEndpoint:       v.GetString("otel_endpoint"),
		PostgresDSN:        v.GetString("postgres_dsn"),
		KafkaBrokers:       v.GetString("kafka_brokers"),
	}
}

// Validate resolves the agent type against the configured set and checks
// the values the worker cannot default.
func (c Config) Validate() (domain.AgentType, queue.Order, error) {
	names := c.AgentTypes
	if len(names) == 0 {
		names = domain.DefaultAgentTypeNames()
	}
	agentType, err := domain.NewAgentTypes(names...).Lookup(c.AgentType)
	if err != nil {
		return "", "", err
	}
	order, err := queue.ParseOrder(c.QueueOrder)
	if err != nil {
		return "", "", err
	}
	if c.BrokerURL == "" {
		return "", "", fmt.Errorf("broker_url is required")
	}

	// A zero poll timeout makes BLPOP block forever and stalls the heartbeat;
	// a zero backoff turns a broker outage into a hot loop.
	positive := []struct {
		key string
		d   time.Duration
	}{
		{"poll_timeout", c.PollTimeout},
		{"error_backoff", c.ErrorBackoff},
		{"shutdown_grace", c.ShutdownGrace},
		{"sink_timeout", c.SinkTimeout},
		{"webhook_timeout", c.WebhookTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return "", "", fmt.Errorf("%s must be positive, got %s", p.key, p.d)
		}
	}
	if c.WebhookMaxAttempts < 1 {
		return "", "", fmt.Errorf("webhook_max_attempts must be at least 1, got %d", c.WebhookMaxAttempts)
	}
	return agentType, order, nil
}
