package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	LLM          LLMConfig
	Search       SearchConfig
	Planner      PlannerConfig
	Verification VerificationConfig
	Claims       ClaimsConfig
	Trace        TraceConfig
	Worker       WorkerConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	Seed        int
}

type SearchConfig struct {
	APIKey          string
	EngineID        string
	Endpoint        string
	RatePerSecond   int
	RateWaitSec     int
	FetchTimeoutSec int
	FetchBudgetSec  int
	MinTextLength   int
}

type PlannerConfig struct {
	MaxAttempts       int
	MaxSearches       int
	BaseDocs          int
	DocsStep          int
	MaxDocs           int
	MinVerified       int
	SessionTimeoutSec int
	CacheTTLSec       int
}

type VerificationConfig struct {
	SimilarityThreshold float64
}

type ClaimsConfig struct {
	MinLength int
	MaxHedges int
}

type TraceConfig struct {
	InternalToken string
}

type WorkerConfig struct {
	PoolSize   int
	QueueDepth int
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
	viper.AddConfigPath("/etc/research-agent")

	viper.SetEnvPrefix("RESEARCH_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindFlatEnv()

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

// bindFlatEnv maps the deployment-facing environment variables onto the
// nested keys so both RESEARCH_AGENT_* and the flat names work.
func bindFlatEnv() {
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("search.apikey", "SEARCH_API_KEY")
	viper.BindEnv("search.engineid", "SEARCH_ENGINE_ID")
	viper.BindEnv("search.endpoint", "SEARCH_ENDPOINT")
	viper.BindEnv("llm.apikey", "LLM_API_KEY")
	viper.BindEnv("llm.model", "LLM_MODEL")
	viper.BindEnv("trace.internaltoken", "INTERNAL_TRACE_TOKEN")
	viper.BindEnv("planner.maxattempts", "MAX_ATTEMPTS")
	viper.BindEnv("planner.maxsearches", "MAX_SEARCHES")
	viper.BindEnv("planner.basedocs", "BASE_DOCS")
	viper.BindEnv("planner.docsstep", "DOCS_STEP")
	viper.BindEnv("planner.sessiontimeoutsec", "SESSION_TIMEOUT_SECONDS")
	viper.BindEnv("planner.cachettlsec", "CACHE_TTL_SECONDS")
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("database.url", "./data/research.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 30)
	viper.SetDefault("llm.seed", 42)

	viper.SetDefault("search.endpoint", "https://www.googleapis.com/customsearch/v1")
	viper.SetDefault("search.ratePerSecond", 10)
	viper.SetDefault("search.rateWaitSec", 2)
	viper.SetDefault("search.fetchTimeoutSec", 8)
	viper.SetDefault("search.fetchBudgetSec", 20)
	viper.SetDefault("search.minTextLength", 200)

	viper.SetDefault("planner.maxAttempts", 3)
	viper.SetDefault("planner.maxSearches", 4)
	viper.SetDefault("planner.baseDocs", 5)
	viper.SetDefault("planner.docsStep", 3)
	viper.SetDefault("planner.maxDocs", 15)
	viper.SetDefault("planner.minVerified", 2)
	viper.SetDefault("planner.sessionTimeoutSec", 90)
	viper.SetDefault("planner.cacheTTLSec", 86400)

	viper.SetDefault("verification.similarityThreshold", 0.72)
	viper.SetDefault("claims.minLength", 20)
	viper.SetDefault("claims.maxHedges", 1)

	viper.SetDefault("worker.poolSize", 8)
	viper.SetDefault("worker.queueDepth", 64)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
