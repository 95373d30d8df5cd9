package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Graph    GraphConfig
	LLM      LLMConfig
	PubTator PubTatorConfig
	PubMed   PubMedConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Neo4j    Neo4jConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int

	// RateLimit is the number of abstract submissions allowed per client
	// per minute.
	RateLimit      int
	AllowedOrigins []string
}

type GraphConfig struct {
	Path           string
	AliasPath      string
	FuzzyThreshold float64
}

type LLMConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	Temperature  float32
	MaxTokens    int
	TimeoutSec   int
	JSONMode     bool
	AuditLogPath string
}

type PubTatorConfig struct {
	Enabled    bool
	BaseURL    string
	Limit      int
	TimeoutSec int
}

type PubMedConfig struct {
	BaseURL           string
	Email             string
	APIKey            string
	MaxArticles       int
	BatchSize         int
	RequestsPerSecond float64
	TimeoutSec        int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads configFile, or config.yaml from the usual search paths when
// configFile is empty, then applies BIOKG_* environment overrides.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/biokg")
	}

	v.SetEnvPrefix("BIOKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.apiKey", "BIOKG_LLM_APIKEY", "CEREBRAS_API_KEY")
	_ = v.BindEnv("pubmed.email", "BIOKG_PUBMED_EMAIL", "ENTREZ_EMAIL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Graph.Path == "" {
		return errors.New("graph.path is required")
	}
	if c.Graph.AliasPath == "" {
		return errors.New("graph.aliasPath is required")
	}
	if c.Graph.FuzzyThreshold <= 0 || c.Graph.FuzzyThreshold > 1 {
		return fmt.Errorf("graph.fuzzyThreshold must be in (0, 1], got %v", c.Graph.FuzzyThreshold)
	}
	if c.PubMed.BatchSize <= 0 {
		return fmt.Errorf("pubmed.batchSize must be positive, got %d", c.PubMed.BatchSize)
	}
	if c.PubMed.RequestsPerSecond <= 0 {
		return fmt.Errorf("pubmed.requestsPerSecond must be positive, got %v", c.PubMed.RequestsPerSecond)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.rateLimit", 30)
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("graph.path", "./data/knowledge_graph.json")
	v.SetDefault("graph.aliasPath", "./data/entity_aliases.json")
	v.SetDefault("graph.fuzzyThreshold", 0.5)

	v.SetDefault("llm.baseURL", "https://api.cerebras.ai/v1")
	v.SetDefault("llm.model", "llama3.1-8b")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 2000)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.jsonMode", false)
	v.SetDefault("llm.auditLogPath", "./logs/api_calls_log.ndjson")

	v.SetDefault("pubtator.enabled", true)
	v.SetDefault("pubtator.baseURL", "https://www.ncbi.nlm.nih.gov/research/pubtator3-api/")
	v.SetDefault("pubtator.limit", 5)
	v.SetDefault("pubtator.timeoutSec", 10)

	v.SetDefault("pubmed.baseURL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	v.SetDefault("pubmed.email", "")
	v.SetDefault("pubmed.apiKey", "")
	v.SetDefault("pubmed.maxArticles", 100)
	v.SetDefault("pubmed.batchSize", 100)
	v.SetDefault("pubmed.requestsPerSecond", 2.0)
	v.SetDefault("pubmed.timeoutSec", 30)

	v.SetDefault("sqlite.path", "./data/biokg.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 168)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
