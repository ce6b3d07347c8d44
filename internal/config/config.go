package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Vector   VectorConfig   `yaml:"vector"`
	Story    StoryConfig    `yaml:"story"`
	Avatar   AvatarConfig   `yaml:"avatar"`
	Security SecurityConfig `yaml:"security"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"SOUL_TELLER_HOST"`
	Port         int           `yaml:"port" env:"SOUL_TELLER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password" env:"MYSQL_PASSWORD"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" env:"SOUL_TELLER_SQLITE_PATH"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key" env:"QDRANT_API_KEY"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

type AIConfig struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type LLMConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key" env:"MODELSCOPE_API_KEY"`
	Model           string        `yaml:"model"`
	DialogueModel   string        `yaml:"dialogue_model"`
	ClassifierModel string        `yaml:"classifier_model"`
	MaxTokens       int           `yaml:"max_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key" env:"SOUL_TELLER_EMBEDDING_API_KEY"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`

	// Embeddings are indexed in the background, so they may be retried
	MaxAttempts int `yaml:"max_attempts"`
}

type VectorConfig struct {
	Backend string `yaml:"backend" env:"SOUL_TELLER_VECTOR_BACKEND"` // "sqlite" | "qdrant" | "memory"
}

type StoryConfig struct {
	RecentCount      int     `yaml:"recent_count"`
	RelevantCount    int     `yaml:"relevant_count"`
	Threshold        float64 `yaml:"threshold"`
	HistorySize      int     `yaml:"history_size"`
	CharacterName    string  `yaml:"character_name"`
	CharacterPersona string  `yaml:"character_persona"`

	// GeneratedOpening has the avatar read a model-written world opening
	GeneratedOpening bool `yaml:"generated_opening"`
}

type AvatarConfig struct {
	Enabled       bool          `yaml:"enabled"`
	GatewayServer string        `yaml:"gateway_server"`
	AppID         string        `yaml:"app_id" env:"XINGYUN_APP_ID"`
	AppSecret     string        `yaml:"app_secret" env:"XINGYUN_APP_SECRET"`
	SpeechTimeout time.Duration `yaml:"speech_timeout"`
}

type SecurityConfig struct {
	SecretKey string `yaml:"secret_key" env:"SOUL_TELLER_SECRET_KEY"`
}

type QueueConfig struct {
	MaxWorkers   int `yaml:"max_workers"`
	MaxQueueSize int `yaml:"max_queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"SOUL_TELLER_LOG_LEVEL"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if cfg.AI.Embedding.APIKey == "" {
		cfg.AI.Embedding.APIKey = cfg.AI.LLM.APIKey
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}

	if c.Database.Redis.Host == "" {
		c.Database.Redis.Host = "localhost"
	}
	if c.Database.Redis.Port == 0 {
		c.Database.Redis.Port = 6379
	}
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./data/vectors.db"
	}
	if c.Database.Qdrant.Host == "" {
		c.Database.Qdrant.Host = "localhost"
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "soul_teller_vectors"
	}

	if c.AI.LLM.BaseURL == "" {
		c.AI.LLM.BaseURL = "https://api-inference.modelscope.cn/v1"
	}
	if c.AI.LLM.Model == "" {
		c.AI.LLM.Model = "Qwen/Qwen2.5-72B-Instruct"
	}
	if c.AI.LLM.DialogueModel == "" {
		c.AI.LLM.DialogueModel = c.AI.LLM.Model
	}
	if c.AI.LLM.ClassifierModel == "" {
		c.AI.LLM.ClassifierModel = c.AI.LLM.Model
	}
	if c.AI.LLM.Timeout == 0 {
		c.AI.LLM.Timeout = 60 * time.Second
	}
	if c.AI.Embedding.BaseURL == "" {
		c.AI.Embedding.BaseURL = c.AI.LLM.BaseURL
	}
	if c.AI.Embedding.Model == "" {
		c.AI.Embedding.Model = "Qwen/Qwen3-Embedding-8B"
	}
	if c.AI.Embedding.Dimensions == 0 {
		c.AI.Embedding.Dimensions = 1024
	}
	if c.AI.Embedding.MaxAttempts == 0 {
		c.AI.Embedding.MaxAttempts = 2
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = "sqlite"
	}

	if c.Story.RecentCount == 0 {
		c.Story.RecentCount = 3
	}
	if c.Story.RelevantCount == 0 {
		c.Story.RelevantCount = 2
	}
	if c.Story.Threshold == 0 {
		c.Story.Threshold = 0.4
	}
	if c.Story.HistorySize == 0 {
		c.Story.HistorySize = 10
	}
	if c.Story.CharacterName == "" {
		c.Story.CharacterName = "灵魂讲述者"
	}
	if c.Story.CharacterPersona == "" {
		c.Story.CharacterPersona = "温和、富有想象力的故事伙伴，善于倾听，也乐于分享故事中的线索"
	}

	if c.Avatar.SpeechTimeout == 0 {
		c.Avatar.SpeechTimeout = 30 * time.Second
	}

	if c.Queue.MaxWorkers == 0 {
		c.Queue.MaxWorkers = 2
	}
	if c.Queue.MaxQueueSize == 0 {
		c.Queue.MaxQueueSize = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
