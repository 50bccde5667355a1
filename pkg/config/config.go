package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Milvus       MilvusConfig
	LLM          LLMConfig
	Feedback     FeedbackConfig
	Conversation ConversationConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	AnswerTTLMin int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
	TopK           int
}

// FeedbackConfig holds the default thresholds handed to each call. They are
// read once at startup and threaded through as parameters, never mutated.
type FeedbackConfig struct {
	ConfidenceThreshold float64
	SimilarityThreshold float64
}

type ConversationConfig struct {
	MaxHistoryTurns      int
	TTLDays              int
	CleanupIntervalHours int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/kbchat")

	viper.SetEnvPrefix("KBCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Feedback.ConfidenceThreshold < 0 || c.Feedback.ConfidenceThreshold > 1 {
		return fmt.Errorf("feedback.confidenceThreshold must be in [0,1], got %f", c.Feedback.ConfidenceThreshold)
	}
	if c.Feedback.SimilarityThreshold < 0 || c.Feedback.SimilarityThreshold > 1 {
		return fmt.Errorf("feedback.similarityThreshold must be in [0,1], got %f", c.Feedback.SimilarityThreshold)
	}
	if c.Conversation.MaxHistoryTurns <= 0 {
		return fmt.Errorf("conversation.maxHistoryTurns must be positive, got %d", c.Conversation.MaxHistoryTurns)
	}
	if c.Conversation.TTLDays < 0 {
		return fmt.Errorf("conversation.ttlDays must be non-negative, got %d", c.Conversation.TTLDays)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/kbchat.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.answerTTLMin", 60)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "kb_fragments")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.topK", 4)

	viper.SetDefault("feedback.confidenceThreshold", 0.7)
	viper.SetDefault("feedback.similarityThreshold", 0.8)

	viper.SetDefault("conversation.maxHistoryTurns", 10)
	viper.SetDefault("conversation.ttlDays", 30)
	viper.SetDefault("conversation.cleanupIntervalHours", 24)

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
