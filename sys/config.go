package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDiscordToken    = "DISCORD_TOKEN"
	EnvGuildID         = "GUILD_ID"
	EnvDatabasePath    = "DATABASE_PATH"
	EnvSilent          = "SILENT"
	EnvDebug           = "DEBUG"
	EnvAudioCacheDir   = "AUDIO_CACHE_DIR"
	EnvCacheHighMB     = "CACHE_HIGH_MB"
	EnvCacheLowMB      = "CACHE_LOW_MB"
	EnvClipCount       = "CLIP_COUNT"
	EnvClipLength      = "CLIP_LENGTH"
	EnvShuffleClips    = "SHUFFLE_CLIPS"
	EnvDefaultVolume   = "DEFAULT_VOLUME"
	EnvFFmpegPath      = "FFMPEG_PATH"
	EnvFFprobePath     = "FFPROBE_PATH"
	EnvYoutubeProxy    = "YOUTUBE_PROXY"
	EnvDownloadLog     = "DOWNLOAD_LOG"
	EnvSegmentsURL     = "SEGMENTS_URL"
	EnvSegmentsTimeout = "SEGMENTS_TIMEOUT"
	EnvSearchProvider  = "SEARCH_PROVIDER"
	EnvAIToken         = "OPENROUTER_TOKEN"
	EnvAIModel         = "AI_MODEL"
	EnvAIEndpoint      = "AI_ENDPOINT"
	EnvAITimeout       = "AI_TIMEOUT"
	EnvNoAI            = "NO_AI"

	MsgConfigInvalidGuildID   = "invalid GUILD_ID: must be a valid Snowflake"
	MsgConfigInvalidWatermark = "invalid cache watermarks: low (%d MB) must be below high (%d MB)"
	MsgConfigInvalidClips     = "invalid CLIP_COUNT %d: must be between 1 and 10"
	MsgConfigInvalidLength    = "invalid CLIP_LENGTH %.2f: must be between 1 and 30 seconds"
	MsgConfigInvalidVolume    = "invalid DEFAULT_VOLUME %.2f: must be between 0 and 2"
	MsgConfigInvalidProvider  = "invalid SEARCH_PROVIDER %q: must be youtube or ytmusic"

	DefaultSegmentsURL = "https://sponsor.ajay.app/api/skipSegments"
	DefaultAIEndpoint  = "https://openrouter.ai/api/v1/chat/completions"
	DefaultAIModel     = "google/gemini-2.0-flash-001"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	Silent       bool

	AudioCacheDir string
	CacheHighMB   int64
	CacheLowMB    int64

	ClipCount     int
	ClipLength    float64
	ShuffleClips  bool
	DefaultVolume float64

	FFmpegPath   string
	FFprobePath  string
	YoutubeProxy string
	DownloadLog  bool

	SegmentsURL     string
	SegmentsTimeout time.Duration
	SearchProvider  string

	AIToken    string
	AIModel    string
	AIEndpoint string
	AITimeout  time.Duration
	NoAI       bool
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv(EnvDatabasePath)
	if dbPath == "" {
		dbPath = filepath.Join(".", GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))

	cfg := &Config{
		Token:        os.Getenv(EnvDiscordToken),
		GuildID:      os.Getenv(EnvGuildID),
		DatabasePath: fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", dbPath),
		Silent:       silent,

		AudioCacheDir: envString(EnvAudioCacheDir, ".tracks"),
		CacheHighMB:   int64(envInt(EnvCacheHighMB, 100)),
		CacheLowMB:    int64(envInt(EnvCacheLowMB, 30)),

		ClipCount:     envInt(EnvClipCount, 3),
		ClipLength:    envFloat(EnvClipLength, 5),
		ShuffleClips:  envBool(EnvShuffleClips, true),
		DefaultVolume: envFloat(EnvDefaultVolume, 1),

		FFmpegPath:   envString(EnvFFmpegPath, "ffmpeg"),
		FFprobePath:  envString(EnvFFprobePath, "ffprobe"),
		YoutubeProxy: os.Getenv(EnvYoutubeProxy),
		DownloadLog:  envBool(EnvDownloadLog, false),

		SegmentsURL:     envString(EnvSegmentsURL, DefaultSegmentsURL),
		SegmentsTimeout: envDuration(EnvSegmentsTimeout, 5*time.Second),
		SearchProvider:  strings.ToLower(envString(EnvSearchProvider, "youtube")),

		AIToken:    os.Getenv(EnvAIToken),
		AIModel:    envString(EnvAIModel, DefaultAIModel),
		AIEndpoint: envString(EnvAIEndpoint, DefaultAIEndpoint),
		AITimeout:  envDuration(EnvAITimeout, 5*time.Second),
		NoAI:       envBool(EnvNoAI, false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	if c.CacheLowMB < 0 || c.CacheLowMB >= c.CacheHighMB {
		return fmt.Errorf(MsgConfigInvalidWatermark, c.CacheLowMB, c.CacheHighMB)
	}
	if c.ClipCount < 1 || c.ClipCount > 10 {
		return fmt.Errorf(MsgConfigInvalidClips, c.ClipCount)
	}
	if c.ClipLength < 1 || c.ClipLength > 30 {
		return fmt.Errorf(MsgConfigInvalidLength, c.ClipLength)
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 2 {
		return fmt.Errorf(MsgConfigInvalidVolume, c.DefaultVolume)
	}
	if c.SearchProvider != "youtube" && c.SearchProvider != "ytmusic" {
		return fmt.Errorf(MsgConfigInvalidProvider, c.SearchProvider)
	}
	return nil
}

// AIEnabled reports whether guesses may be judged by the completion service.
func (c *Config) AIEnabled() bool {
	return !c.NoAI && c.AIToken != ""
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "tunequiz"
	if err == nil {
		projectName = strings.TrimSuffix(filepath.Base(exePath), ".exe")
		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "tunequiz"
		}
	}
	return projectName
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

// envDuration accepts Go durations ("7s") or a bare number of milliseconds.
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
