package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Search   SearchConfig
	Fetch    FetchConfig
	Verify   VerifyConfig
	Resolve  ResolveConfig
	Registry RegistryConfig
	Domains  DomainsConfig
	Logging  LoggingConfig
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
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SearchConfig struct {
	SerpAPIKey string
	MaxResults int
	TimeoutSec int
}

type FetchConfig struct {
	TimeoutSec    int
	MinContentLen int
	MaxContentLen int
}

type VerifyConfig struct {
	MinScore float64
}

type ResolveConfig struct {
	Concurrency int
	QueryFanout int
}

type RegistryConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
	ListCap    int
}

type DomainsConfig struct {
	TablePath string
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
	viper.AddConfigPath("/etc/entity-resolver")

	viper.SetEnvPrefix("ENTITY_RESOLVER")
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

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/resolver.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 24)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.apiKey", "")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 600)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("search.serpAPIKey", "")
	viper.SetDefault("search.maxResults", 8)
	viper.SetDefault("search.timeoutSec", 10)

	viper.SetDefault("fetch.timeoutSec", 10)
	viper.SetDefault("fetch.minContentLen", 200)
	viper.SetDefault("fetch.maxContentLen", 8000)

	viper.SetDefault("verify.minScore", 0.5)

	viper.SetDefault("resolve.concurrency", 8)
	viper.SetDefault("resolve.queryFanout", 4)

	viper.SetDefault("registry.baseURL", "http://localhost:9090")
	viper.SetDefault("registry.apiKey", "")
	viper.SetDefault("registry.timeoutSec", 10)
	viper.SetDefault("registry.listCap", 10)

	viper.SetDefault("domains.tablePath", "./config/domains.yaml")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
