package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ReelChef processing service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Blob     BlobConfig
	AI       AIConfig
	Pipeline PipelineConfig
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

type BlobConfig struct {
	BaseURL    string
	APIKey     string
	Bucket     string
	Timeout    time.Duration
	PartSize   int64 // objects larger than this are uploaded in parts
	MaxRetries int
}

type AIConfig struct {
	Backend          string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
}

type OllamaConfig struct {
	BaseURL     string
	VisionModel string
	TextModel   string
	EmbedModel  string
}

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	VisionModel string
	TextModel   string
	EmbedModel  string
}

type PipelineConfig struct {
	FrameInterval int // seconds between extracted frames
	FrameWorkers  int // descriptions in flight; 1 means sequential
	EmbedDim      int // stored vector dimension D
	EmbedBatch    int // inputs per embedding call
	// MinFrameSuccessRate is the fraction of frames that must be described
	// for a job to complete. 0 fails the job only when no frame succeeded.
	MinFrameSuccessRate float64
	StuckJobCutoff      time.Duration
}

var validBackends = map[string]bool{
	"ollama": true,
	"openai": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("REELCHEF_PORT", 8080),
			Env:  envString("REELCHEF_ENV", "development"),
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
		Blob: BlobConfig{
			BaseURL:    os.Getenv("BLOB_BASE_URL"),
			APIKey:     os.Getenv("BLOB_API_KEY"),
			Bucket:     envString("BLOB_BUCKET", "videos"),
			Timeout:    envDuration("BLOB_TIMEOUT", 120*time.Second),
			PartSize:   envInt64("BLOB_PART_SIZE_BYTES", 8<<20),
			MaxRetries: envInt("BLOB_MAX_RETRIES", 3),
		},
		AI: AIConfig{
			Backend:          os.Getenv("AI_BACKEND"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			Ollama: OllamaConfig{
				BaseURL:     envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				VisionModel: envString("OLLAMA_VISION_MODEL", "llava"),
				TextModel:   envString("OLLAMA_TEXT_MODEL", "llama3"),
				EmbedModel:  envString("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			},
			OpenAI: OpenAIConfig{
				BaseURL:     envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:      os.Getenv("OPENAI_API_KEY"),
				VisionModel: envString("OPENAI_VISION_MODEL", "gpt-4o-mini"),
				TextModel:   envString("OPENAI_TEXT_MODEL", "gpt-4o-mini"),
				EmbedModel:  envString("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
			},
		},
		Pipeline: PipelineConfig{
			FrameInterval:       envInt("PIPELINE_FRAME_INTERVAL_SECS", 5),
			FrameWorkers:        envInt("PIPELINE_FRAME_WORKERS", 1),
			EmbedDim:            envInt("PIPELINE_EMBED_DIM", 1536),
			EmbedBatch:          envInt("PIPELINE_EMBED_BATCH", 32),
			MinFrameSuccessRate: envFloat("PIPELINE_MIN_FRAME_SUCCESS_RATE", 0),
			StuckJobCutoff:      envDuration("PIPELINE_STUCK_JOB_CUTOFF", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Blob.BaseURL == "" {
		return fmt.Errorf("BLOB_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Blob.BaseURL, "http://") && !strings.HasPrefix(c.Blob.BaseURL, "https://") {
		return fmt.Errorf("BLOB_BASE_URL must start with http:// or https://, got %q", c.Blob.BaseURL)
	}
	if c.Blob.PartSize <= 0 {
		return fmt.Errorf("BLOB_PART_SIZE_BYTES must be positive, got %d", c.Blob.PartSize)
	}

	if c.AI.Backend == "" {
		return fmt.Errorf("AI_BACKEND is required")
	}
	if !validBackends[c.AI.Backend] {
		return fmt.Errorf("AI_BACKEND must be one of ollama, openai; got %q", c.AI.Backend)
	}
	if c.AI.Backend == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_BACKEND is openai")
	}

	if c.Pipeline.FrameInterval <= 0 {
		return fmt.Errorf("PIPELINE_FRAME_INTERVAL_SECS must be positive, got %d", c.Pipeline.FrameInterval)
	}
	if c.Pipeline.FrameWorkers <= 0 {
		return fmt.Errorf("PIPELINE_FRAME_WORKERS must be positive, got %d", c.Pipeline.FrameWorkers)
	}
	if c.Pipeline.EmbedDim <= 0 {
		return fmt.Errorf("PIPELINE_EMBED_DIM must be positive, got %d", c.Pipeline.EmbedDim)
	}
	if c.Pipeline.EmbedBatch <= 0 {
		return fmt.Errorf("PIPELINE_EMBED_BATCH must be positive, got %d", c.Pipeline.EmbedBatch)
	}
	if c.Pipeline.MinFrameSuccessRate < 0 || c.Pipeline.MinFrameSuccessRate > 1 {
		return fmt.Errorf("PIPELINE_MIN_FRAME_SUCCESS_RATE must be in [0,1], got %v", c.Pipeline.MinFrameSuccessRate)
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

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
