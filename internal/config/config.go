package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	TTS        TTSConfig        `yaml:"tts"`
	OBS        OBSConfig        `yaml:"obs"`
	Twitch     TwitchConfig     `yaml:"twitch"`
	Memory     MemoryConfig     `yaml:"memory"`
	Commentary CommentaryConfig `yaml:"commentary"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type AIConfig struct {
	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
}

type GenerationConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type EmbeddingConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

type TTSConfig struct {
	AzureKey    string `yaml:"azure_key"`
	AzureRegion string `yaml:"azure_region"`
	Voice       string `yaml:"voice"`
	Rate        string `yaml:"rate"`
	AudioDir    string `yaml:"audio_dir"`
}

type OBSConfig struct {
	URL      string `yaml:"url" json:"url"`
	Password string `yaml:"password" json:"password"`
}

type TwitchConfig struct {
	Channel  string `yaml:"channel"`
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
}

type MemoryConfig struct {
	MaxMemoryLength int  `yaml:"max_memory_length"`
	AutoSummarize   bool `yaml:"auto_summarize"`
	SearchLimit     int  `yaml:"search_limit"`
}

type CommentaryConfig struct {
	AutoIntervalSeconds int `yaml:"auto_interval_seconds"`
	MaxTokens           int `yaml:"max_tokens"`
}

// Load reads configuration from a YAML file, then applies environment
// variable overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	cfg.Memory.AutoSummarize = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a config with env overrides and defaults only, for
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.Memory.AutoSummarize = true
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		c.AI.Generation.APIKey = apiKey
		c.AI.Embedding.APIKey = apiKey
	}
	if key := os.Getenv("AZURE_SPEECH_KEY"); key != "" {
		c.TTS.AzureKey = key
	}
	if region := os.Getenv("AZURE_SPEECH_REGION"); region != "" {
		c.TTS.AzureRegion = region
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		c.Database.Qdrant.APIKey = apiKey
	}
	if channel := os.Getenv("TWITCH_CHANNEL"); channel != "" {
		c.Twitch.Channel = channel
	}
	if token := os.Getenv("TWITCH_TOKEN"); token != "" {
		c.Twitch.Token = token
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 300 * time.Second
	}
	if c.AI.Generation.BaseURL == "" {
		c.AI.Generation.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if c.AI.Generation.Model == "" {
		c.AI.Generation.Model = "gemini-2.5-flash"
	}
	if c.AI.Generation.MaxTokens == 0 {
		c.AI.Generation.MaxTokens = 200
	}
	if c.AI.Generation.Temperature == 0 {
		c.AI.Generation.Temperature = 0.8
	}
	if c.AI.Embedding.Model == "" {
		c.AI.Embedding.Model = "gemini-embedding-001"
	}
	if c.TTS.AzureRegion == "" {
		c.TTS.AzureRegion = "eastasia"
	}
	if c.TTS.Voice == "" {
		c.TTS.Voice = "zh-CN-XiaoxiaoNeural"
	}
	if c.TTS.Rate == "" {
		c.TTS.Rate = "+0%"
	}
	if c.TTS.AudioDir == "" {
		c.TTS.AudioDir = "./data/audio"
	}
	if c.OBS.URL == "" {
		c.OBS.URL = "ws://127.0.0.1:4455"
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "memories"
	}
	if c.Database.Qdrant.VectorSize == 0 {
		c.Database.Qdrant.VectorSize = 3072
	}
	if c.Memory.MaxMemoryLength == 0 {
		c.Memory.MaxMemoryLength = 500
	}
	if c.Memory.SearchLimit == 0 {
		c.Memory.SearchLimit = 50
	}
	if c.Commentary.AutoIntervalSeconds == 0 {
		c.Commentary.AutoIntervalSeconds = 10
	}
	if c.Commentary.MaxTokens == 0 {
		c.Commentary.MaxTokens = 150
	}
}
