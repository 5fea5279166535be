package sys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Token:          "token",
		CacheHighMB:    100,
		CacheLowMB:     30,
		ClipCount:      3,
		ClipLength:     5,
		DefaultVolume:  1,
		SearchProvider: "youtube",
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvDiscordToken, "token")
	t.Setenv(EnvDatabasePath, "test.db")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Token)
	assert.Equal(t, "test.db?_journal_mode=WAL&_timeout=5000", cfg.DatabasePath)
	assert.Equal(t, ".tracks", cfg.AudioCacheDir)
	assert.Equal(t, int64(100), cfg.CacheHighMB)
	assert.Equal(t, int64(30), cfg.CacheLowMB)
	assert.Equal(t, 3, cfg.ClipCount)
	assert.Equal(t, 5.0, cfg.ClipLength)
	assert.True(t, cfg.ShuffleClips)
	assert.Equal(t, 1.0, cfg.DefaultVolume)
	assert.Equal(t, DefaultSegmentsURL, cfg.SegmentsURL)
	assert.Equal(t, 5*time.Second, cfg.SegmentsTimeout)
	assert.Equal(t, "youtube", cfg.SearchProvider)
	assert.Equal(t, DefaultAIModel, cfg.AIModel)
	assert.Equal(t, DefaultAIEndpoint, cfg.AIEndpoint)
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv(EnvDiscordToken, "token")
	t.Setenv(EnvDatabasePath, "test.db")
	t.Setenv(EnvClipCount, "5")
	t.Setenv(EnvClipLength, "7.5")
	t.Setenv(EnvShuffleClips, "false")
	t.Setenv(EnvSegmentsTimeout, "2500")
	t.Setenv(EnvAITimeout, "3s")
	t.Setenv(EnvSearchProvider, "YTMusic")
	t.Setenv(EnvAIToken, "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.ClipCount)
	assert.Equal(t, 7.5, cfg.ClipLength)
	assert.False(t, cfg.ShuffleClips)
	assert.Equal(t, 2500*time.Millisecond, cfg.SegmentsTimeout)
	assert.Equal(t, 3*time.Second, cfg.AITimeout)
	assert.Equal(t, "ytmusic", cfg.SearchProvider)
	assert.True(t, cfg.AIEnabled())
}

func TestLoadConfigMissingToken(t *testing.T) {
	t.Setenv(EnvDiscordToken, "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"Valid Guild", func(c *Config) { c.GuildID = "123456789012345678" }, false},
		{"Missing Token", func(c *Config) { c.Token = "" }, true},
		{"Short Guild", func(c *Config) { c.GuildID = "1234" }, true},
		{"Watermarks Inverted", func(c *Config) { c.CacheLowMB = 200 }, true},
		{"Negative Low Watermark", func(c *Config) { c.CacheLowMB = -1 }, true},
		{"No Clips", func(c *Config) { c.ClipCount = 0 }, true},
		{"Too Many Clips", func(c *Config) { c.ClipCount = 11 }, true},
		{"Clip Too Short", func(c *Config) { c.ClipLength = 0.5 }, true},
		{"Clip Too Long", func(c *Config) { c.ClipLength = 31 }, true},
		{"Volume Too Loud", func(c *Config) { c.DefaultVolume = 2.5 }, true},
		{"Unknown Provider", func(c *Config) { c.SearchProvider = "spotify" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAIEnabled(t *testing.T) {
	c := validConfig()
	assert.False(t, c.AIEnabled())

	c.AIToken = "secret"
	assert.True(t, c.AIEnabled())

	c.NoAI = true
	assert.False(t, c.AIEnabled())
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TUNEQUIZ_TEST_DURATION", "garbage")
	assert.Equal(t, time.Second, envDuration("TUNEQUIZ_TEST_DURATION", time.Second))

	t.Setenv("TUNEQUIZ_TEST_DURATION", "")
	assert.Equal(t, time.Second, envDuration("TUNEQUIZ_TEST_DURATION", time.Second))
}
