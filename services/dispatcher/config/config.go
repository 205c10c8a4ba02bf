package config

import (
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/agentq/internal/domain"
)

// Config holds typed configuration for agentctl.
type Config struct {
	LogLevel     string
	BrokerURL    string
	AgentTypes   []string
	RateLimit    int
	PostgresDSN  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		BrokerURL:    v.GetString("broker_url"),
		AgentTypes:   domain.SplitAgentTypeNames(v.GetStringSlice("agent_types")),
		RateLimit:    v.GetInt("rate_limit"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}

// Types builds the agent-type registry, falling back to the defaults.
func (c Config) Types() domain.AgentTypes {
	if len(c.AgentTypes) == 0 {
		return domain.NewAgentTypes(domain.DefaultAgentTypeNames()...)
	}
	return domain.NewAgentTypes(c.AgentTypes...)
}
