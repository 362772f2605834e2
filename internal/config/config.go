// Package config loads the platform's entirely environment-driven settings,
// grounded on the viper-based loader in
// _examples/0xtitan6-polymarket-mm/internal/config/config.go — generalized
// from that bot's YAML-file-plus-overrides pattern to a pure-env source
// since this platform takes settings from the environment only, no config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLM holds the LLM client's rate-limit and retry tuning.
type LLM struct {
	APIKey                string
	Provider              string
	Model                 string
	MaxRequestsPerMinute  int
	MaxConcurrentRequests int
	RateLimitRetryAttempts int
	BaseDelay             time.Duration
}

// Agent holds Agent Runtime defaults.
type Agent struct {
	TimeoutSeconds int
	MaxRetries     int
}

// Store holds the repository backend's connection settings.
type Store struct {
	URL        string
	ServiceKey string
}

// Search holds the external social-search service's credentials.
type Search struct {
	BearerToken string
}

// Server holds the HTTP/metrics listener ports.
type Server struct {
	HTTPPort    int
	MetricsPort int
}

// Simulation holds the trading-simulation round cadence.
type Simulation struct {
	RoundIntervalSeconds int
}

// Config is the immutable, fully-resolved settings object passed explicitly
// to every component's constructor — no package-level global lookups.
type Config struct {
	LLM        LLM
	Agent      Agent
	Store      Store
	Search     Search
	Server     Server
	Simulation Simulation
}

// Load reads configuration from the process environment. No file is read;
// every field is an env var, and fields without a SetDefault below (such as
// the API keys and store URL) are empty when unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("llm_max_requests_per_minute", 60)
	v.SetDefault("llm_max_concurrent_requests", 10)
	v.SetDefault("llm_rate_limit_retry_attempts", 5)
	v.SetDefault("llm_base_delay_seconds", 1)
	v.SetDefault("agent_timeout_seconds", 180)
	v.SetDefault("max_retries", 3)
	v.SetDefault("http_port", 8080)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("simulation_round_interval_seconds", 30)

	for _, key := range []string{
		"llm_api_key", "llm_provider", "llm_model",
		"llm_max_requests_per_minute", "llm_max_concurrent_requests",
		"llm_rate_limit_retry_attempts", "llm_base_delay_seconds",
		"agent_timeout_seconds", "max_retries",
		"search_bearer_token", "store_url", "store_service_key",
		"http_port", "metrics_port", "simulation_round_interval_seconds",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{
		LLM: LLM{
			APIKey:                 v.GetString("llm_api_key"),
			Provider:               v.GetString("llm_provider"),
			Model:                  v.GetString("llm_model"),
			MaxRequestsPerMinute:   v.GetInt("llm_max_requests_per_minute"),
			MaxConcurrentRequests:  v.GetInt("llm_max_concurrent_requests"),
			RateLimitRetryAttempts: v.GetInt("llm_rate_limit_retry_attempts"),
			BaseDelay:              time.Duration(v.GetInt("llm_base_delay_seconds")) * time.Second,
		},
		Agent: Agent{
			TimeoutSeconds: v.GetInt("agent_timeout_seconds"),
			MaxRetries:     v.GetInt("max_retries"),
		},
		Store: Store{
			URL:        v.GetString("store_url"),
			ServiceKey: v.GetString("store_service_key"),
		},
		Search: Search{
			BearerToken: v.GetString("search_bearer_token"),
		},
		Server: Server{
			HTTPPort:    v.GetInt("http_port"),
			MetricsPort: v.GetInt("metrics_port"),
		},
		Simulation: Simulation{
			RoundIntervalSeconds: v.GetInt("simulation_round_interval_seconds"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.LLM.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("LLM_MAX_REQUESTS_PER_MINUTE must be > 0")
	}
	if c.LLM.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("LLM_MAX_CONCURRENT_REQUESTS must be > 0")
	}
	if c.Agent.TimeoutSeconds <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}
