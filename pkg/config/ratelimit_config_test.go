package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loki-platform/loki/pkg/config"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/ratelimit"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ratelimits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadRateLimitConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
default:
  max_count: 100
  window: 1m
per_type:
  slack:
    max_count: 50
    window: 30s
  github:
    max_count: 10
`)

	cfg, err := config.LoadRateLimitConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Default.MaxCount)
	assert.Equal(t, time.Minute, cfg.Default.Window)

	slack := cfg.RuleFor(models.IntegrationTypeSlack)
	assert.Equal(t, 50, slack.MaxCount)
	assert.Equal(t, 30*time.Second, slack.Window)

	// A rule without a window inherits the default window.
	github := cfg.RuleFor(models.IntegrationTypeGitHub)
	assert.Equal(t, 10, github.MaxCount)
	assert.Equal(t, time.Minute, github.Window)

	// Types without a rule fall through to the default.
	assert.Equal(t, cfg.Default, cfg.RuleFor(models.IntegrationTypeNotion))
}

func TestLoadRateLimitConfig_InvalidWindow(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
per_type:
  slack:
    max_count: 50
    window: soon
`)

	_, err := config.LoadRateLimitConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per_type[slack]")
}

func TestLoadRateLimitConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadRateLimitConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRateLimitConfigOrDefault(t *testing.T) {
	t.Parallel()

	cfg := config.LoadRateLimitConfigOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Equal(t, ratelimit.DefaultConfig(), cfg)
}

func TestValidateRateLimitConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  ratelimit.Config
		wantErr string
	}{
		{
			name:   "valid",
			config: ratelimit.DefaultConfig(),
		},
		{
			name: "zero default count",
			config: ratelimit.Config{
				Default: ratelimit.Rule{MaxCount: 0, Window: time.Minute},
			},
			wantErr: "max_count must be positive",
		},
		{
			name: "zero window",
			config: ratelimit.Config{
				Default: ratelimit.Rule{MaxCount: 10},
			},
			wantErr: "window must be positive",
		},
		{
			name: "unknown integration type",
			config: ratelimit.Config{
				Default: ratelimit.Rule{MaxCount: 10, Window: time.Minute},
				PerType: map[models.IntegrationType]ratelimit.Rule{
					"telegraph": {MaxCount: 5, Window: time.Minute},
				},
			},
			wantErr: "unknown integration type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := config.ValidateRateLimitConfig(tt.config)

			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
