// Package config collects the service's environment-driven settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/eb-adutwum/interius/pkg/llm"
	"github.com/eb-adutwum/interius/pkg/sandbox"
)

// PipelineConfig holds the orchestration and repair budgets.
type PipelineConfig struct {
	// MaxReviewIterations caps review/revision rounds per run.
	MaxReviewIterations int
	// TrustScoreThreshold is the minimum security score an approving review
	// needs before it is accepted.
	TrustScoreThreshold int
	// RepairMaxIterations caps targeted repair passes.
	RepairMaxIterations int
	// RepairEscalationIterations caps the aggregated-fix passes that run
	// after targeted repair is exhausted.
	RepairEscalationIterations int
}

// RetentionConfig bounds how long idle sandbox deployments stay on disk.
type RetentionConfig struct {
	// SandboxTTL is the age after which a stopped sandbox's host directory
	// is removed and its port freed.
	SandboxTTL time.Duration
	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration
}

// Config is the full service configuration, loaded from the environment.
type Config struct {
	HTTPPort        string
	BundleStoreRoot string

	LLM LLMSettings

	Sandbox   sandbox.Config
	Pipeline  PipelineConfig
	Retention RetentionConfig
}

// LLMSettings pairs the pipeline model with the lighter interface-router
// model. The router falls back to the pipeline settings when unset.
type LLMSettings struct {
	Pipeline  llm.Config
	Interface llm.Config
}

// Load reads configuration from environment variables, applying defaults for
// everything except the LLM API key.
func Load() (*Config, error) {
	llmTimeout, err := durationEnv("LLM_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}
	readyDeadline, err := durationEnv("SANDBOX_READY_DEADLINE", 30*time.Second)
	if err != nil {
		return nil, err
	}

	portStart, err := intEnv("SANDBOX_PORT_RANGE_START", 9100)
	if err != nil {
		return nil, err
	}
	portEnd, err := intEnv("SANDBOX_PORT_RANGE_END", 9199)
	if err != nil {
		return nil, err
	}

	maxReview, err := intEnv("MAX_REVIEW_ITERATIONS", 3)
	if err != nil {
		return nil, err
	}
	trustThreshold, err := intEnv("TRUST_SCORE_THRESHOLD", 7)
	if err != nil {
		return nil, err
	}
	repairMax, err := intEnv("REPAIR_MAX_ITERATIONS", 3)
	if err != nil {
		return nil, err
	}
	repairEscalation, err := intEnv("REPAIR_ESCALATION_ITERATIONS", 2)
	if err != nil {
		return nil, err
	}

	sandboxTTL, err := durationEnv("SANDBOX_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := durationEnv("CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	pipelineLLM := llm.Config{
		BaseURL: getEnvOrDefault("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		APIKey:  os.Getenv("LLM_API_KEY"),
		Model:   getEnvOrDefault("LLM_MODEL", "openai/gpt-4o-mini"),
		Timeout: llmTimeout,
	}
	if pipelineLLM.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	interfaceLLM := llm.Config{
		BaseURL: getEnvOrDefault("INTERFACE_LLM_BASE_URL", pipelineLLM.BaseURL),
		APIKey:  getEnvOrDefault("INTERFACE_LLM_API_KEY", pipelineLLM.APIKey),
		Model:   getEnvOrDefault("INTERFACE_LLM_MODEL", pipelineLLM.Model),
		Timeout: llmTimeout,
	}

	cfg := &Config{
		HTTPPort:        getEnvOrDefault("HTTP_PORT", "8080"),
		BundleStoreRoot: getEnvOrDefault("BUNDLE_STORE_ROOT", ".bundle_store"),
		LLM: LLMSettings{
			Pipeline:  pipelineLLM,
			Interface: interfaceLLM,
		},
		Sandbox: sandbox.Config{
			HostRoot:       getEnvOrDefault("SANDBOX_HOST_ROOT", ".sandbox_data"),
			ContainerRoot:  getEnvOrDefault("SANDBOX_CONTAINER_ROOT", "/sandbox"),
			Image:          getEnvOrDefault("SANDBOX_IMAGE", "python:3.11-slim"),
			Workdir:        os.Getenv("SANDBOX_WORKDIR"),
			PublicHost:     getEnvOrDefault("SANDBOX_PUBLIC_HOST", "127.0.0.1"),
			PortRangeStart: portStart,
			PortRangeEnd:   portEnd,
			Binary:         getEnvOrDefault("SANDBOX_DOCKER_BINARY", "docker"),
			ReadyDeadline:  readyDeadline,
			Raw:            boolEnv("SANDBOX_RAW_MODE"),
		},
		Pipeline: PipelineConfig{
			MaxReviewIterations:        maxReview,
			TrustScoreThreshold:        trustThreshold,
			RepairMaxIterations:        repairMax,
			RepairEscalationIterations: repairEscalation,
		},
		Retention: RetentionConfig{
			SandboxTTL:    sandboxTTL,
			SweepInterval: sweepInterval,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sandbox.PortRangeStart <= 0 || c.Sandbox.PortRangeEnd < c.Sandbox.PortRangeStart {
		return fmt.Errorf("invalid sandbox port range [%d, %d]",
			c.Sandbox.PortRangeStart, c.Sandbox.PortRangeEnd)
	}
	if c.Pipeline.MaxReviewIterations <= 0 {
		return fmt.Errorf("MAX_REVIEW_ITERATIONS must be positive")
	}
	if c.Pipeline.TrustScoreThreshold < 1 || c.Pipeline.TrustScoreThreshold > 10 {
		return fmt.Errorf("TRUST_SCORE_THRESHOLD must be in [1, 10]")
	}
	if c.Pipeline.RepairMaxIterations <= 0 || c.Pipeline.RepairEscalationIterations < 0 {
		return fmt.Errorf("repair iteration budgets must be positive")
	}
	if c.Retention.SandboxTTL <= 0 || c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention settings must be positive durations")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return val, nil
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return val, nil
}

func boolEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True", "yes":
		return true
	}
	return false
}
