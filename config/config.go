package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"

	StoreJSON     = "json"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"

	envPrefix = "CODEXPLAIN"
)

type Config struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
	LogFile   string `yaml:"log_file" mapstructure:"log_file"`

	Server     ServerConfig    `yaml:"server" mapstructure:"server"`
	LLM        LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Chunker    ChunkerConfig   `yaml:"chunker" mapstructure:"chunker"`
	Explain    ExplainConfig   `yaml:"explain" mapstructure:"explain"`
	Store      StoreConfig     `yaml:"store" mapstructure:"store"`
	Graph      GraphConfig     `yaml:"graph" mapstructure:"graph"`
	Cache      CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Embeddings EmbeddingConfig `yaml:"embeddings" mapstructure:"embeddings"`

	OllamaHost    string `yaml:"ollama_host" mapstructure:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-" mapstructure:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	GeminiAPIKey  string `yaml:"-" mapstructure:"gemini_api_key"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
}

// LLMConfig selects the text-completion provider and its call policy.
type LLMConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	Model             string `yaml:"model" mapstructure:"model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries        int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffMs    int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"` // 0 = unlimited
}

type ChunkerConfig struct {
	Strategy         string  `yaml:"strategy" mapstructure:"strategy"`
	MaxLines         int     `yaml:"max_lines" mapstructure:"max_lines"`
	SplitTemperature float32 `yaml:"split_temperature" mapstructure:"split_temperature"`
}

type ExplainConfig struct {
	Temperature     float32 `yaml:"temperature" mapstructure:"temperature"`
	FenceCode       bool    `yaml:"fence_code" mapstructure:"fence_code"`
	FenceLanguage   string  `yaml:"fence_language" mapstructure:"fence_language"`
	SectionHeadings bool    `yaml:"section_headings" mapstructure:"section_headings"`
	// AutoCreate appends to an unknown conversation id instead of rejecting the request.
	AutoCreate bool `yaml:"auto_create" mapstructure:"auto_create"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	Path        string `yaml:"path" mapstructure:"path"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
}

type GraphConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Neo4jURI  string `yaml:"neo4j_uri" mapstructure:"neo4j_uri"`
	Neo4jUser string `yaml:"neo4j_user" mapstructure:"neo4j_user"`
	Neo4jPass string `yaml:"-" mapstructure:"neo4j_password"`
}

type CacheConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"`
	TTLSeconds    int    `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
	MaxEntries    int    `yaml:"max_entries" mapstructure:"max_entries"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"-" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

type EmbeddingConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Model     string `yaml:"model" mapstructure:"model"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
}

// Load resolves configuration from defaults, an optional YAML file and the
// environment. An explicit path must exist; otherwise the search path is
// $CODEXPLAIN_CONFIG_DIR, ~/.config/codexplain and the working directory.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Provider keys are commonly exported without the prefix.
	_ = v.BindEnv("openai_api_key", envPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gemini_api_key", envPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("graph.neo4j_password", envPrefix+"_GRAPH_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	_ = v.BindEnv("store.postgres_dsn", envPrefix+"_STORE_POSTGRES_DSN", "POSTGRES_DSN")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("codexplain")
		if dir := os.Getenv(envPrefix + "_CONFIG_DIR"); dir != "" {
			v.AddConfigPath(dir)
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "codexplain"))
		}
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Server: ServerConfig{
			Addr:            ":5011",
			ShutdownTimeout: 10,
		},
		LLM: LLMConfig{
			Provider:       ProviderOpenAI,
			Model:          "gpt-3.5-turbo",
			TimeoutSeconds: 60,
			MaxRetries:     2,
			RetryBackoffMs: 500,
		},
		Chunker: ChunkerConfig{
			Strategy:         "semantic",
			MaxLines:         20,
			SplitTemperature: 0.3,
		},
		Explain: ExplainConfig{
			Temperature:   0.2,
			FenceCode:     true,
			FenceLanguage: "python",
			AutoCreate:    true,
		},
		Store: StoreConfig{
			Backend:     StoreJSON,
			Path:        "conversations.json",
			SQLitePath:  "codexplain.db",
			PostgresDSN: "postgres://localhost:5432/codexplain?sslmode=disable",
		},
		Graph: GraphConfig{
			Neo4jURI:  "neo4j://localhost:7687",
			Neo4jUser: "neo4j",
			Neo4jPass: "password",
		},
		Cache: CacheConfig{
			Backend:    CacheNone,
			TTLSeconds: 86400,
			MaxEntries: 1024,
			RedisAddr:  "localhost:6379",
		},
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		OllamaHost: "http://localhost:11434",
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)
	v.SetDefault("llm.retry_backoff_ms", d.LLM.RetryBackoffMs)
	v.SetDefault("llm.requests_per_minute", d.LLM.RequestsPerMinute)

	v.SetDefault("chunker.strategy", d.Chunker.Strategy)
	v.SetDefault("chunker.max_lines", d.Chunker.MaxLines)
	v.SetDefault("chunker.split_temperature", d.Chunker.SplitTemperature)

	v.SetDefault("explain.temperature", d.Explain.Temperature)
	v.SetDefault("explain.fence_code", d.Explain.FenceCode)
	v.SetDefault("explain.fence_language", d.Explain.FenceLanguage)
	v.SetDefault("explain.section_headings", d.Explain.SectionHeadings)
	v.SetDefault("explain.auto_create", d.Explain.AutoCreate)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)

	v.SetDefault("graph.enabled", d.Graph.Enabled)
	v.SetDefault("graph.neo4j_uri", d.Graph.Neo4jURI)
	v.SetDefault("graph.neo4j_user", d.Graph.Neo4jUser)
	v.SetDefault("graph.neo4j_password", d.Graph.Neo4jPass)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl_seconds", d.Cache.TTLSeconds)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)

	v.SetDefault("embeddings.enabled", d.Embeddings.Enabled)
	v.SetDefault("embeddings.provider", d.Embeddings.Provider)
	v.SetDefault("embeddings.model", d.Embeddings.Model)
	v.SetDefault("embeddings.dimension", d.Embeddings.Dimension)

	v.SetDefault("ollama_host", d.OllamaHost)
	v.SetDefault("openai_base_url", d.OpenAIBaseURL)
}
