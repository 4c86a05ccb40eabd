package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Castwrite server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Media       MediaConfig
	Pipeline    PipelineConfig
	Transcriber ProviderConfig
	Generator   ProviderConfig
	SMTP        SMTPConfig
	Plans       map[string]PlanLimits
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// MediaConfig configures the external media tools and the scratch and
// artifact directories the normalizer works in.
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string
	WorkDir     string
	ArtifactDir string
}

// PipelineConfig holds the worker pool and retry policy knobs.
type PipelineConfig struct {
	Workers           int
	ChunkDuration     time.Duration
	AdmissionTimeout  time.Duration
	JobTimeout        time.Duration
	GenerationRetries int
	StaleAfter        time.Duration
	SweepInterval     time.Duration
}

// ProviderConfig configures one black-box AI service (transcription or
// blog generation) reachable over an OpenAI-compatible HTTP API.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// PlanLimits is the per-tier policy table entry. Values come from
// configuration, not code, so limits change without a redeploy.
type PlanLimits struct {
	MaxDuration   time.Duration `json:"-"`
	MaxMinutes    int           `json:"max_minutes"`
	PostsPerCycle int           `json:"posts_per_cycle"`
}

var validProviders = map[string]bool{
	"openai": true,
	"mock":   true,
}

// defaultPlans is the built-in tier table, overridable via CASTWRITE_PLANS.
var defaultPlans = map[string]PlanLimits{
	"free":     {MaxMinutes: 10, PostsPerCycle: 3},
	"basic":    {MaxMinutes: 20, PostsPerCycle: 10},
	"premium":  {MaxMinutes: 60, PostsPerCycle: 30},
	"business": {MaxMinutes: 90, PostsPerCycle: 100},
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CASTWRITE_PORT", 8080),
			Env:  envString("CASTWRITE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Media: MediaConfig{
			FFmpegPath:  envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: envString("FFPROBE_PATH", "ffprobe"),
			YtDlpPath:   envString("YTDLP_PATH", "yt-dlp"),
			WorkDir:     envString("MEDIA_WORK_DIR", os.TempDir()),
			ArtifactDir: envString("ARTIFACT_DIR", "artifacts"),
		},
		Pipeline: PipelineConfig{
			Workers:           envInt("PIPELINE_WORKERS", 4),
			ChunkDuration:     envDurationSecs("PIPELINE_CHUNK_SECS", 150*time.Second),
			AdmissionTimeout:  envDurationSecs("PIPELINE_ADMISSION_TIMEOUT_SECS", 120*time.Second),
			JobTimeout:        envDuration("PIPELINE_JOB_TIMEOUT", 30*time.Minute),
			GenerationRetries: envInt("PIPELINE_GENERATION_RETRIES", 2),
			StaleAfter:        envDuration("PIPELINE_STALE_AFTER", 10*time.Minute),
			SweepInterval:     envDuration("PIPELINE_SWEEP_INTERVAL", time.Minute),
		},
		Transcriber: ProviderConfig{
			Provider: envString("TRANSCRIBER_PROVIDER", "openai"),
			BaseURL:  envString("TRANSCRIBER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:   os.Getenv("TRANSCRIBER_API_KEY"),
			Model:    envString("TRANSCRIBER_MODEL", "whisper-1"),
			Timeout:  envDurationSecs("TRANSCRIBER_TIMEOUT_SECS", 120*time.Second),
		},
		Generator: ProviderConfig{
			Provider: envString("GENERATOR_PROVIDER", "openai"),
			BaseURL:  envString("GENERATOR_BASE_URL", "https://api.openai.com/v1"),
			APIKey:   os.Getenv("GENERATOR_API_KEY"),
			Model:    envString("GENERATOR_MODEL", "gpt-4o-mini"),
			Timeout:  envDurationSecs("GENERATOR_TIMEOUT_SECS", 120*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			From:     envString("SMTP_FROM", "no-reply@castwrite.io"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
		},
	}

	plans, err := loadPlans(os.Getenv("CASTWRITE_PLANS"))
	if err != nil {
		return nil, err
	}
	cfg.Plans = plans

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPlans merges the CASTWRITE_PLANS JSON override over the built-in
// tier table and converts minute values to durations. All durations are
// time.Duration internally; minutes exist only at this boundary.
func loadPlans(override string) (map[string]PlanLimits, error) {
	plans := make(map[string]PlanLimits, len(defaultPlans))
	for tier, limits := range defaultPlans {
		plans[tier] = limits
	}

	if override != "" {
		var overrides map[string]PlanLimits
		if err := json.Unmarshal([]byte(override), &overrides); err != nil {
			return nil, fmt.Errorf("CASTWRITE_PLANS must be valid JSON: %w", err)
		}
		for tier, limits := range overrides {
			plans[tier] = limits
		}
	}

	for tier, limits := range plans {
		if limits.MaxMinutes <= 0 {
			return nil, fmt.Errorf("plan %q: max_minutes must be positive, got %d", tier, limits.MaxMinutes)
		}
		if limits.PostsPerCycle <= 0 {
			return nil, fmt.Errorf("plan %q: posts_per_cycle must be positive, got %d", tier, limits.PostsPerCycle)
		}
		limits.MaxDuration = time.Duration(limits.MaxMinutes) * time.Minute
		plans[tier] = limits
	}

	return plans, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.ChunkDuration <= 0 {
		return fmt.Errorf("PIPELINE_CHUNK_SECS must be positive")
	}
	if c.Pipeline.GenerationRetries < 0 {
		return fmt.Errorf("PIPELINE_GENERATION_RETRIES must not be negative")
	}

	if !validProviders[c.Transcriber.Provider] {
		return fmt.Errorf("TRANSCRIBER_PROVIDER must be one of openai, mock; got %q", c.Transcriber.Provider)
	}
	if !validProviders[c.Generator.Provider] {
		return fmt.Errorf("GENERATOR_PROVIDER must be one of openai, mock; got %q", c.Generator.Provider)
	}
	if c.Transcriber.Provider == "openai" && c.Transcriber.APIKey == "" {
		return fmt.Errorf("TRANSCRIBER_API_KEY is required when TRANSCRIBER_PROVIDER is openai")
	}
	if c.Generator.Provider == "openai" && c.Generator.APIKey == "" {
		return fmt.Errorf("GENERATOR_API_KEY is required when GENERATOR_PROVIDER is openai")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
