package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"HTTP_PORT", "BUNDLE_STORE_ROOT",
	"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_TIMEOUT",
	"INTERFACE_LLM_BASE_URL", "INTERFACE_LLM_API_KEY", "INTERFACE_LLM_MODEL",
	"SANDBOX_HOST_ROOT", "SANDBOX_CONTAINER_ROOT", "SANDBOX_IMAGE",
	"SANDBOX_WORKDIR", "SANDBOX_PUBLIC_HOST",
	"SANDBOX_PORT_RANGE_START", "SANDBOX_PORT_RANGE_END",
	"SANDBOX_DOCKER_BINARY", "SANDBOX_READY_DEADLINE", "SANDBOX_RAW_MODE",
	"MAX_REVIEW_ITERATIONS", "TRUST_SCORE_THRESHOLD",
	"REPAIR_MAX_ITERATIONS", "REPAIR_ESCALATION_ITERATIONS",
	"SANDBOX_RETENTION", "CLEANUP_INTERVAL",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for _, key := range configEnvKeys {
			os.Unsetenv(key)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, ".bundle_store", cfg.BundleStoreRoot)

	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.Pipeline.BaseURL)
	assert.Equal(t, "test-key", cfg.LLM.Pipeline.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.LLM.Pipeline.Model)
	assert.Equal(t, 120*time.Second, cfg.LLM.Pipeline.Timeout)

	// Interface router inherits pipeline settings by default
	assert.Equal(t, cfg.LLM.Pipeline, cfg.LLM.Interface)

	assert.Equal(t, ".sandbox_data", cfg.Sandbox.HostRoot)
	assert.Equal(t, "/sandbox", cfg.Sandbox.ContainerRoot)
	assert.Equal(t, "python:3.11-slim", cfg.Sandbox.Image)
	assert.Equal(t, "127.0.0.1", cfg.Sandbox.PublicHost)
	assert.Equal(t, 9100, cfg.Sandbox.PortRangeStart)
	assert.Equal(t, 9199, cfg.Sandbox.PortRangeEnd)
	assert.Equal(t, "docker", cfg.Sandbox.Binary)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.ReadyDeadline)
	assert.False(t, cfg.Sandbox.Raw)

	assert.Equal(t, 3, cfg.Pipeline.MaxReviewIterations)
	assert.Equal(t, 7, cfg.Pipeline.TrustScoreThreshold)
	assert.Equal(t, 3, cfg.Pipeline.RepairMaxIterations)
	assert.Equal(t, 2, cfg.Pipeline.RepairEscalationIterations)

	assert.Equal(t, 24*time.Hour, cfg.Retention.SandboxTTL)
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	clearConfigEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY is required")
}

func TestLoadCustomValues(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("LLM_API_KEY", "key")
	os.Setenv("LLM_BASE_URL", "http://localhost:4000/v1")
	os.Setenv("LLM_MODEL", "mistral-small")
	os.Setenv("INTERFACE_LLM_MODEL", "mistral-tiny")
	os.Setenv("HTTP_PORT", "9000")
	os.Setenv("SANDBOX_PORT_RANGE_START", "20000")
	os.Setenv("SANDBOX_PORT_RANGE_END", "20010")
	os.Setenv("SANDBOX_READY_DEADLINE", "45s")
	os.Setenv("SANDBOX_RAW_MODE", "true")
	os.Setenv("TRUST_SCORE_THRESHOLD", "5")
	os.Setenv("SANDBOX_RETENTION", "72h")
	os.Setenv("CLEANUP_INTERVAL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "http://localhost:4000/v1", cfg.LLM.Pipeline.BaseURL)
	assert.Equal(t, "mistral-small", cfg.LLM.Pipeline.Model)
	assert.Equal(t, "mistral-tiny", cfg.LLM.Interface.Model)
	assert.Equal(t, "http://localhost:4000/v1", cfg.LLM.Interface.BaseURL)
	assert.Equal(t, 20000, cfg.Sandbox.PortRangeStart)
	assert.Equal(t, 20010, cfg.Sandbox.PortRangeEnd)
	assert.Equal(t, 45*time.Second, cfg.Sandbox.ReadyDeadline)
	assert.True(t, cfg.Sandbox.Raw)
	assert.Equal(t, 5, cfg.Pipeline.TrustScoreThreshold)
	assert.Equal(t, 72*time.Hour, cfg.Retention.SandboxTTL)
	assert.Equal(t, 30*time.Minute, cfg.Retention.SweepInterval)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		errContains string
	}{
		{
			name:        "bad int",
			envVars:     map[string]string{"MAX_REVIEW_ITERATIONS": "lots"},
			errContains: "invalid MAX_REVIEW_ITERATIONS",
		},
		{
			name:        "bad duration",
			envVars:     map[string]string{"SANDBOX_READY_DEADLINE": "soon"},
			errContains: "invalid SANDBOX_READY_DEADLINE",
		},
		{
			name: "inverted port range",
			envVars: map[string]string{
				"SANDBOX_PORT_RANGE_START": "9200",
				"SANDBOX_PORT_RANGE_END":   "9100",
			},
			errContains: "invalid sandbox port range",
		},
		{
			name:        "trust threshold out of range",
			envVars:     map[string]string{"TRUST_SCORE_THRESHOLD": "11"},
			errContains: "TRUST_SCORE_THRESHOLD",
		},
		{
			name:        "zero review iterations",
			envVars:     map[string]string{"MAX_REVIEW_ITERATIONS": "0"},
			errContains: "MAX_REVIEW_ITERATIONS",
		},
		{
			name:        "zero retention",
			envVars:     map[string]string{"SANDBOX_RETENTION": "0s"},
			errContains: "retention settings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			os.Setenv("LLM_API_KEY", "key")
			for key, val := range tt.envVars {
				os.Setenv(key, val)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
