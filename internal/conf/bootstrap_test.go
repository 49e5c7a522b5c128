package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"InsightRelay/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestNewBootstrap_Defaults(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :8080
`)

	t.Setenv("OPENAI_API_KEY", "sk-test-openai")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.HTTP.Addr)
	assert.Equal(t, "tcp", bc.Server.HTTP.Network)
	assert.Equal(t, 15*time.Minute, bc.Server.HTTP.Timeout)
	assert.Equal(t, ":9000", bc.Server.GRPC.Addr)

	// Verify provider defaults
	require.Contains(t, bc.Data.Providers, "openai")
	assert.Equal(t, "sk-test-openai", bc.Data.Providers["openai"].APIKey)
	assert.Equal(t, "https://api.openai.com/v1", bc.Data.Providers["openai"].BaseURL)
	assert.True(t, bc.Data.Providers["gemini"].Enabled)

	// Verify resilience defaults
	r := bc.Resilience
	assert.Equal(t, "free", r.Tier)
	assert.Equal(t, 120*time.Second, r.CallTimeout)
	assert.Equal(t, 5, r.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, r.Breaker.ResetTimeout)
	assert.Equal(t, 5, r.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, r.Retry.BaseDelay)
	assert.Equal(t, 65*time.Second, r.Retry.MaxDelay)
	assert.Equal(t, 1024, r.Cache.Size)
	assert.False(t, r.Cache.SingleFlight)

	require.Len(t, r.Tiers, 3)
	assert.Equal(t, "free", r.Tiers[0].Name)
	assert.Equal(t, 5, r.Tiers[0].RequestsPerMinute)
	assert.Equal(t, 12500*time.Millisecond, r.Tiers[0].MinDelay)
	assert.Equal(t, 1, r.Tiers[0].MaxParallel)
	assert.Equal(t, 8, r.Tiers[2].MaxParallel)

	require.Len(t, r.Fallback.Chains["text"], 3)
	assert.Equal(t, "gemini", r.Fallback.Chains["text"][0].Provider)
	assert.Len(t, r.Fallback.Chains["image"], 2)

	// Verify log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*testing.T, *Bootstrap)
	}{
		{
			name:    "override_http_addr",
			envVars: map[string]string{"INSIGHTRELAY_SERVER_HTTP_ADDR": ":9999"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, ":9999", bc.Server.HTTP.Addr)
			},
		},
		{
			name:    "override_tier",
			envVars: map[string]string{"INSIGHTRELAY_TIER": "enterprise"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "enterprise", bc.Resilience.Tier)
			},
		},
		{
			name:    "override_breaker_threshold",
			envVars: map[string]string{"INSIGHTRELAY_RESILIENCE_BREAKER_FAILURE_THRESHOLD": "3"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, 3, bc.Resilience.Breaker.FailureThreshold)
			},
		},
		{
			name:    "override_log_level",
			envVars: map[string]string{"INSIGHTRELAY_LOG_LEVEL": "debug"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "debug", bc.Log.Level)
			},
		},
		{
			name:    "anthropic_key_from_conventional_env",
			envVars: map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "sk-ant-test", bc.Data.Providers["anthropic"].APIKey)
			},
		},
		{
			name:    "admin_token",
			envVars: map[string]string{"INSIGHTRELAY_ADMIN_TOKEN": "ops-secret"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "ops-secret", bc.Auth.AdminToken)
			},
		},
		{
			name:    "log_env_shorthand",
			envVars: map[string]string{"INSIGHTRELAY_ENV": "development"},
			expected: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "development", bc.Log.Env)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, "log:\n  level: info\n")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap(configPath)
			require.NoError(t, err)
			tt.expected(t, bc)
		})
	}
}

func TestNewBootstrap_ConfigFileTiersAndChains(t *testing.T) {
	configPath := writeConfig(t, `resilience:
  tier: custom
  tiers:
    - name: custom
      requests_per_minute: 30
      min_delay: 500ms
      max_parallel: 2
  fallback:
    chains:
      text:
        - provider: anthropic
          model: claude-3-5-sonnet-latest
          order: 1
`)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	require.Len(t, bc.Resilience.Tiers, 1)
	tier := bc.Resilience.Tiers[0]
	assert.Equal(t, "custom", tier.Name)
	assert.Equal(t, 30, tier.RequestsPerMinute)
	assert.Equal(t, 500*time.Millisecond, tier.MinDelay)
	assert.Equal(t, 2, tier.MaxParallel)

	chain := bc.Resilience.Fallback.Chains["text"]
	require.Len(t, chain, 1)
	assert.Equal(t, "anthropic", chain[0].Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", chain[0].Model)
}

func TestNewBootstrap_SealedAPIKey(t *testing.T) {
	sealer, err := crypto.NewSealer([]byte(testEncryptionKey))
	require.NoError(t, err)
	sealed, err := sealer.Seal("sk-sealed-secret")
	require.NoError(t, err)

	configPath := writeConfig(t, "log:\n  level: info\n")

	t.Run("opened_with_key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", sealed)
		t.Setenv("ENCRYPTION_KEY", testEncryptionKey)

		bc, err := NewBootstrap(configPath)
		require.NoError(t, err)
		assert.Equal(t, "sk-sealed-secret", bc.Data.Providers["gemini"].APIKey)
	})

	t.Run("missing_key_fails", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", sealed)
		t.Setenv("ENCRYPTION_KEY", "")

		_, err := NewBootstrap(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gemini")
	})
}

func TestNewBootstrap_MissingConfigFile(t *testing.T) {
	_, err := NewBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Bootstrap {
		return &Bootstrap{
			Resilience: &Resilience{
				Tier:        "free",
				Tiers:       []*Tier{{Name: "free", RequestsPerMinute: 5, MinDelay: time.Second, MaxParallel: 1}},
				CallTimeout: time.Minute,
				Breaker:     &Breaker{FailureThreshold: 5, ResetTimeout: time.Minute},
				Retry:       &Retry{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute},
				Cache:       &Cache{TTL: time.Minute, Size: 10},
				Fallback:    &Fallback{Chains: map[string][]*Candidate{"text": {{Provider: "openai", Model: "gpt-4o-mini"}}}},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Validate(valid()))
	})

	t.Run("collects_all_problems", func(t *testing.T) {
		bc := valid()
		bc.Resilience.Breaker.FailureThreshold = 0
		bc.Resilience.Retry.MaxDelay = time.Millisecond
		bc.Resilience.Tier = "platinum"
		bc.Resilience.Fallback.Chains["text"][0].Model = ""

		err := Validate(bc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failure_threshold")
		assert.Contains(t, err.Error(), "max_delay")
		assert.Contains(t, err.Error(), `"platinum"`)
		assert.Contains(t, err.Error(), "chains.text[0]")
	})

	t.Run("duplicate_tier", func(t *testing.T) {
		bc := valid()
		bc.Resilience.Tiers = append(bc.Resilience.Tiers, &Tier{Name: "free", MaxParallel: 1})

		err := Validate(bc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate tier")
	})

	t.Run("missing_resilience", func(t *testing.T) {
		assert.Error(t, Validate(&Bootstrap{}))
	})
}
