package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "TRUST_SCORE_THRESHOLD", "")
	setEnv(t, "SWEEP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultScoreThreshold, cfg.TrustScoreThreshold)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultUrgentStaleAge, cfg.UrgentStaleAge)
	assert.Equal(t, DefaultNormalStaleAge, cfg.NormalStaleAge)
	assert.Equal(t, DefaultMinDescription, cfg.MinDescription)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "TRUST_SCORE_THRESHOLD", "700")
	setEnv(t, "SWEEP_INTERVAL", "30s")
	setEnv(t, "URGENT_STALE_AGE", "24h")
	setEnv(t, "NORMAL_STALE_AGE", "96h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 700, cfg.TrustScoreThreshold)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.UrgentStaleAge)
	assert.Equal(t, 96*time.Hour, cfg.NormalStaleAge)
}

func TestLoad_BadThreshold(t *testing.T) {
	setEnv(t, "TRUST_SCORE_THRESHOLD", "900")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "TRUST_SCORE_THRESHOLD")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				TrustScoreThreshold: 600,
				SweepInterval:       time.Minute,
				UrgentStaleAge:      48 * time.Hour,
				NormalStaleAge:      7 * 24 * time.Hour,
				MinDescription:      50,
			},
			wantErr: "",
		},
		{
			name: "negative sweep interval",
			config: Config{
				TrustScoreThreshold: 600,
				SweepInterval:       -time.Second,
				UrgentStaleAge:      48 * time.Hour,
				NormalStaleAge:      7 * 24 * time.Hour,
			},
			wantErr: "SWEEP_INTERVAL",
		},
		{
			name: "urgent above normal",
			config: Config{
				TrustScoreThreshold: 600,
				SweepInterval:       time.Minute,
				UrgentStaleAge:      10 * 24 * time.Hour,
				NormalStaleAge:      7 * 24 * time.Hour,
			},
			wantErr: "URGENT_STALE_AGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	setEnv(t, "ENV", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
