package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         App         `mapstructure:"app"`
	Logging     Logging     `mapstructure:"logging"`
	Database    Database    `mapstructure:"database"`
	LLM         LLM         `mapstructure:"llm"`
	Extraction  Extraction  `mapstructure:"extraction"`
	URLs        URLs        `mapstructure:"urls"`
	Enrich      Enrich      `mapstructure:"enrich"`
	Digest      Digest      `mapstructure:"digest"`
	HackerNews  HackerNews  `mapstructure:"hackernews"`
	Gmail       Gmail       `mapstructure:"gmail"`
	Telegram    Telegram    `mapstructure:"telegram"`
	Maintenance Maintenance `mapstructure:"maintenance"`
	Scheduler   Scheduler   `mapstructure:"scheduler"`
	Server      Server      `mapstructure:"server"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database holds PostgreSQL connection settings
type Database struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LLM holds language model configuration
type LLM struct {
	Provider    string          `mapstructure:"provider"`
	Temperature float64         `mapstructure:"temperature"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	MaxRetries  int             `mapstructure:"max_retries"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	Azure       AzureConfig     `mapstructure:"azure"`
	OpenAI      OpenAIConfig    `mapstructure:"openai"`
	Anthropic   AnthropicConfig `mapstructure:"anthropic"`
	Gemini      GeminiConfig    `mapstructure:"gemini"`
}

// AzureConfig holds Azure OpenAI configuration
type AzureConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	APIVersion string `mapstructure:"api_version"`
	Deployment string `mapstructure:"deployment"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic configuration
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Extraction holds article content extraction configuration
type Extraction struct {
	Diffbot             DiffbotConfig `mapstructure:"diffbot"`
	ReadabilityFallback bool          `mapstructure:"readability_fallback"`
	Redis               RedisConfig   `mapstructure:"redis"`
}

// DiffbotConfig holds DiffBot article API configuration
type DiffbotConfig struct {
	Token        string        `mapstructure:"token"`
	APIURL       string        `mapstructure:"api_url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RedisConfig enables the hot content cache when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// URLs holds URL normalization configuration
type URLs struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	Resolver        string        `mapstructure:"resolver"`
	RedirectTimeout time.Duration `mapstructure:"redirect_timeout"`
}

// Enrich holds story enrichment configuration
type Enrich struct {
	BatchSize    int      `mapstructure:"batch_size"`
	RequiredTags []string `mapstructure:"required_tags"`
	HNMinVotes   int      `mapstructure:"hn_min_votes"`
}

// Digest holds digest generation configuration
type Digest struct {
	RelevantTags     []string      `mapstructure:"relevant_tags"`
	MinScore         float64       `mapstructure:"min_score"`
	DefaultDays      int           `mapstructure:"default_days"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
	Temperature      float64       `mapstructure:"temperature"`
	Archive          ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig selects where digest text files are written
type ArchiveConfig struct {
	Kind      string `mapstructure:"kind"`
	Directory string `mapstructure:"directory"`
	S3Bucket  string `mapstructure:"s3_bucket"`
	S3Prefix  string `mapstructure:"s3_prefix"`
	S3Region  string `mapstructure:"s3_region"`
}

// HackerNews holds HN API configuration
type HackerNews struct {
	APIURL              string        `mapstructure:"api_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	CommentMaxStoryAge  time.Duration `mapstructure:"comment_max_story_age"`
	CommentRefreshAfter time.Duration `mapstructure:"comment_refresh_after"`
	VoteConcurrency     int           `mapstructure:"vote_concurrency"`
}

// Gmail holds Gmail API configuration
type Gmail struct {
	CredentialsPath string `mapstructure:"credentials_path"`
	TokenPath       string `mapstructure:"token_path"`
	Query           string `mapstructure:"query"`
	MaxResults      int64  `mapstructure:"max_results"`
}

// Telegram holds Telegram client configuration
type Telegram struct {
	AppID       int      `mapstructure:"app_id"`
	AppHash     string   `mapstructure:"app_hash"`
	Phone       string   `mapstructure:"phone"`
	Password    string   `mapstructure:"password"`
	SessionPath string   `mapstructure:"session_path"`
	Channels    []string `mapstructure:"channels"`
	FetchLimit  int      `mapstructure:"fetch_limit"`
}

// Maintenance holds cleanup configuration
type Maintenance struct {
	DigestEmailRetention time.Duration `mapstructure:"digest_email_retention"`
}

// Scheduler holds cron configuration for the daily update
type Scheduler struct {
	Timezone      string `mapstructure:"timezone"`
	DailySchedule string `mapstructure:"daily_schedule"`
}

// Server holds read API configuration
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load loads the configuration from the config file, .env and the environment.
// Every call builds a fresh Config; callers pass it down explicitly.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".octopus")
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	bindEnvironmentVariables(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = v.ConfigFileUsed()

	postProcessConfig(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("app.data_dir", "data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("llm.provider", "azure")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 16000)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.azure.api_version", "2024-10-21")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5")
	v.SetDefault("llm.gemini.model", "gemini-flash-lite-latest")

	v.SetDefault("extraction.diffbot.api_url", "https://api.diffbot.com/v3/article")
	v.SetDefault("extraction.diffbot.max_retries", 3)
	v.SetDefault("extraction.diffbot.initial_delay", "1s")
	v.SetDefault("extraction.diffbot.timeout", "60s")
	v.SetDefault("extraction.readability_fallback", false)
	v.SetDefault("extraction.redis.ttl", "168h")

	v.SetDefault("urls.follow_redirects", true)
	v.SetDefault("urls.resolver", "http")
	v.SetDefault("urls.redirect_timeout", "3s")

	v.SetDefault("enrich.batch_size", 100)
	v.SetDefault("enrich.required_tags", []string{"machine learning", "generative ai", "cybersecurity"})
	v.SetDefault("enrich.hn_min_votes", 100)

	v.SetDefault("digest.relevant_tags", []string{
		"artificial intelligence",
		"machine learning",
		"generative ai",
		"large language models",
		"cybersecurity",
		"computer vision",
		"natural language processing",
	})
	v.SetDefault("digest.min_score", 0.3)
	v.SetDefault("digest.default_days", 7)
	v.SetDefault("digest.max_context_tokens", 100_000)
	v.SetDefault("digest.temperature", 0.3)
	v.SetDefault("digest.archive.kind", "local")
	v.SetDefault("digest.archive.directory", "data/digests")

	v.SetDefault("hackernews.api_url", "https://hacker-news.firebaseio.com")
	v.SetDefault("hackernews.timeout", "15s")
	v.SetDefault("hackernews.comment_max_story_age", "48h")
	v.SetDefault("hackernews.comment_refresh_after", "6h")
	v.SetDefault("hackernews.vote_concurrency", 8)

	v.SetDefault("gmail.query", "(label:AI OR label:tech) newer_than:30d")
	v.SetDefault("gmail.max_results", 200)

	v.SetDefault("telegram.session_path", "data/telegram.session")
	v.SetDefault("telegram.fetch_limit", 100)

	v.SetDefault("maintenance.digest_email_retention", "720h")

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.daily_schedule", "0 6 * * *")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cors.enabled", false)
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables(v *viper.Viper) {
	bindEnvKeys(v, "database.url", []string{"DATABASE_URL", "OCTOPUS_DATABASE_URL", "POSTGRES_DSN"})

	bindEnvKeys(v, "llm.provider", []string{"LLM_PROVIDER"})
	bindEnvKeys(v, "llm.azure.api_key", []string{"AZURE_OPENAI_API_KEY"})
	bindEnvKeys(v, "llm.azure.endpoint", []string{"AZURE_OPENAI_ENDPOINT"})
	bindEnvKeys(v, "llm.azure.api_version", []string{"AZURE_OPENAI_VERSION", "OPENAI_API_VERSION"})
	bindEnvKeys(v, "llm.azure.deployment", []string{"AZURE_OPENAI_DEPLOYMENT"})
	bindEnvKeys(v, "llm.openai.api_key", []string{"OPENAI_API_KEY"})
	bindEnvKeys(v, "llm.anthropic.api_key", []string{"ANTHROPIC_API_KEY"})
	bindEnvKeys(v, "llm.gemini.api_key", []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"})

	bindEnvKeys(v, "extraction.diffbot.token", []string{"DIFFBOT_API_KEY", "DIFFBOT_TOKEN"})
	bindEnvKeys(v, "extraction.redis.addr", []string{"REDIS_ADDR", "REDIS_URL"})
	bindEnvKeys(v, "extraction.redis.password", []string{"REDIS_PASSWORD"})

	bindEnvKeys(v, "gmail.credentials_path", []string{"GMAIL_CREDENTIALS_PATH"})
	bindEnvKeys(v, "gmail.token_path", []string{"GMAIL_TOKEN_PATH"})

	bindEnvKeys(v, "telegram.app_id", []string{"TELEGRAM_API_ID", "TELEGRAM_APP_ID"})
	bindEnvKeys(v, "telegram.app_hash", []string{"TELEGRAM_API_HASH", "TELEGRAM_APP_HASH"})
	bindEnvKeys(v, "telegram.phone", []string{"TELEGRAM_PHONE"})
	bindEnvKeys(v, "telegram.password", []string{"TELEGRAM_PASSWORD"})
	if channels := os.Getenv("TELEGRAM_CHANNELS"); channels != "" {
		v.Set("telegram.channels", splitList(channels))
	}

	bindEnvKeys(v, "digest.archive.s3_bucket", []string{"DIGEST_S3_BUCKET"})
	bindEnvKeys(v, "digest.archive.s3_region", []string{"AWS_REGION", "AWS_DEFAULT_REGION"})

	bindEnvKeys(v, "app.debug", []string{"DEBUG", "OCTOPUS_DEBUG"})
	bindEnvKeys(v, "logging.level", []string{"LOG_LEVEL"})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(v *viper.Viper, viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			v.Set(viperKey, value)
			return
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// postProcessConfig normalizes values after unmarshaling
func postProcessConfig(config *Config) {
	config.App.DataDir = expandPath(config.App.DataDir)
	config.Digest.Archive.Directory = expandPath(config.Digest.Archive.Directory)
	config.Gmail.CredentialsPath = expandPath(config.Gmail.CredentialsPath)
	config.Gmail.TokenPath = expandPath(config.Gmail.TokenPath)
	config.Telegram.SessionPath = expandPath(config.Telegram.SessionPath)

	for i, tag := range config.Enrich.RequiredTags {
		config.Enrich.RequiredTags[i] = strings.ToLower(strings.TrimSpace(tag))
	}
	for i, tag := range config.Digest.RelevantTags {
		config.Digest.RelevantTags[i] = strings.ToLower(strings.TrimSpace(tag))
	}
	config.LLM.Provider = strings.ToLower(config.LLM.Provider)
	config.URLs.Resolver = strings.ToLower(config.URLs.Resolver)
	config.Digest.Archive.Kind = strings.ToLower(config.Digest.Archive.Kind)
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig checks values that no command can run without
func validateConfig(config *Config) error {
	var errors []string

	switch config.LLM.Provider {
	case "azure", "openai", "anthropic", "gemini":
	default:
		errors = append(errors, fmt.Sprintf("Unknown LLM provider: %s. Supported: azure, openai, anthropic, gemini", config.LLM.Provider))
	}

	if config.LLM.MaxRetries < 0 {
		errors = append(errors, "llm.max_retries must not be negative")
	}

	switch config.URLs.Resolver {
	case "http", "browser":
	default:
		errors = append(errors, fmt.Sprintf("Unknown URL resolver: %s. Supported: http, browser", config.URLs.Resolver))
	}

	switch config.Digest.Archive.Kind {
	case "local":
	case "s3":
		if config.Digest.Archive.S3Bucket == "" {
			errors = append(errors, "digest.archive.s3_bucket is required when digest.archive.kind is s3")
		}
	default:
		errors = append(errors, fmt.Sprintf("Unknown digest archive: %s. Supported: local, s3", config.Digest.Archive.Kind))
	}

	if config.Digest.MinScore < 0 || config.Digest.MinScore > 1 {
		errors = append(errors, "digest.min_score must be within [0, 1]")
	}
	if config.Digest.MaxContextTokens <= 0 {
		errors = append(errors, "digest.max_context_tokens must be positive")
	}
	if config.Enrich.BatchSize <= 0 {
		errors = append(errors, "enrich.batch_size must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
