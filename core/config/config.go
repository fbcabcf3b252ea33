package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"kairo.dev/agent/core/db"
	"kairo.dev/agent/internal/agent"
)

// Config holds all application configuration, loaded once at process start.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the HTTP status server port
	Port string

	// DB holds database configuration
	DB db.Config

	// Runner is the safety-envelope defaults new runs start from (spec §4.1);
	// per-run options may still override individual fields.
	Runner agent.RunnerConfig

	// LLM holds the model backend selection shared by the planner/reflector.
	LLM LLMConfig

	// Memory controls which MemoryStore backend is wired and how cost is
	// estimated for budget accounting (spec §6's environment surface).
	Memory MemoryConfig

	// OTel controls the OpenTelemetry log/trace exporter used by
	// common/logger in production.
	OTel OTelConfig

	// ArangoDB backs the codegraph tool (internal/agenttools.CodegraphTool).
	// Disabled (tool reports itself unavailable) when URL is empty.
	ArangoDB ArangoConfig
}

// ArangoConfig selects the ArangoDB instance the codegraph tool queries.
type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

func (a ArangoConfig) Enabled() bool {
	return a.URL != ""
}

// OTelConfig selects the OpenTelemetry collector endpoint. Disabled (the
// JSON/text handlers are used instead) when Endpoint is empty.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Headers        string
}

func (o OTelConfig) Enabled() bool {
	return o.Endpoint != ""
}

// LLMConfig is spec §6's LLM_TIMEOUT_SECONDS/LLM_MAX_RETRIES surface plus
// the model/key selection every run needs.
type LLMConfig struct {
	APIKey         string
	Model          string
	TimeoutSeconds int
	MaxRetries     int
}

// MemoryConfig is spec §6's MEMORY_FAISS_DISABLE/MEMORY_EMBED_BACKEND/
// MEMORY_EMBED_MODEL/COST_PER_1K_TOKENS surface.
type MemoryConfig struct {
	FAISSDisabled bool
	EmbedBackend  string
	EmbedModel    string
	CostPer1K     float64
}

// Load loads configuration from environment variables, first loading a
// local .env file if present (godotenv, same as the teacher's dev
// convenience loader — silently ignored if no .env exists).
func Load() Config {
	_ = godotenv.Load()

	runner := agent.DefaultRunnerConfig()
	runner.MaxSteps = getEnvInt("RUNNER_MAX_STEPS", runner.MaxSteps)
	runner.LoopWindow = getEnvInt("RUNNER_LOOP_WINDOW", runner.LoopWindow)
	runner.LoopRepeatThreshold = getEnvInt("RUNNER_LOOP_REPEAT_THRESHOLD", runner.LoopRepeatThreshold)
	runner.NoStateChangeThreshold = getEnvInt("RUNNER_NO_STATE_CHANGE_THRESHOLD", runner.NoStateChangeThreshold)
	runner.NoProgressThreshold = getEnvInt("RUNNER_NO_PROGRESS_THRESHOLD", runner.NoProgressThreshold)
	runner.ToolMaxRetries = getEnvInt("RUNNER_TOOL_MAX_RETRIES", runner.ToolMaxRetries)
	runner.LLMMaxRetries = getEnvInt("LLM_MAX_RETRIES", runner.LLMMaxRetries)
	runner.AllowHumanAsk = getEnvBool("RUNNER_ALLOW_HUMAN_ASK", runner.AllowHumanAsk)
	runner.KillSwitchSource = agent.KillSwitchFromEnv()
	if budget := getEnvFloat("RUNNER_COST_BUDGET", -1); budget >= 0 {
		runner.CostBudget = &budget
	}

	return Config{
		Env:  getEnv("AGENT_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Runner: runner,
		LLM: LLMConfig{
			APIKey:         getEnv("LLM_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", ""),
			TimeoutSeconds: getEnvInt("LLM_TIMEOUT_SECONDS", 60),
			MaxRetries:     getEnvInt("LLM_MAX_RETRIES", 2),
		},
		Memory: MemoryConfig{
			FAISSDisabled: getEnvBool("MEMORY_FAISS_DISABLE", false),
			EmbedBackend:  getEnv("MEMORY_EMBED_BACKEND", "openai"),
			EmbedModel:    getEnv("MEMORY_EMBED_MODEL", "text-embedding-3-small"),
			CostPer1K:     getEnvFloat("COST_PER_1K_TOKENS", 0),
		},
		OTel: OTelConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "kairo-agent"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		},
		ArangoDB: ArangoConfig{
			URL:      getEnv("ARANGODB_URL", ""),
			Username: getEnv("ARANGODB_USERNAME", ""),
			Password: getEnv("ARANGODB_PASSWORD", ""),
			Database: getEnv("ARANGODB_DATABASE", "agent"),
		},
	}
}

// buildDSN constructs the database connection string from individual env vars.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "agent")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
