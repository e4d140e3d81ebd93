package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from the working directory if one exists.
// Secrets come from a single source; a missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// applyEnvOverrides maps the flat, documented environment variables onto the
// config. These take priority over the config file, matching the credential
// priority chain (env → keychain → file).
func applyEnvOverrides(c *Config) {
	setString(&c.DefaultProjectID, "DEVLENS_DEFAULT_PROJECT_ID")

	setString(&c.Storage.PostgresDSN, "DEVLENS_POSTGRES_DSN")
	setString(&c.Storage.Neo4jURI, "NEO4J_URI")
	setString(&c.Storage.Neo4jUser, "NEO4J_USER")
	setString(&c.Storage.Neo4jPassword, "NEO4J_PASSWORD")
	setString(&c.Storage.Neo4jDatabase, "NEO4J_DATABASE")
	setString(&c.Storage.RedisHost, "REDIS_HOST")
	setInt(&c.Storage.RedisPort, "REDIS_PORT")
	setString(&c.Storage.RedisPassword, "REDIS_PASSWORD")
	setString(&c.Storage.VectorPath, "DEVLENS_VECTOR_PATH")
	setString(&c.Storage.NotifyDriver, "DEVLENS_NOTIFY_DRIVER")
	setString(&c.Storage.NotifyDSN, "DEVLENS_NOTIFY_DSN")

	setString(&c.Oracle.Provider, "LLM_PROVIDER")
	setString(&c.Oracle.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.Oracle.OpenAIModel, "OPENAI_MODEL")
	setString(&c.Oracle.GeminiKey, "GEMINI_API_KEY")
	setString(&c.Oracle.GeminiModel, "GEMINI_MODEL")
	setString(&c.Oracle.EmbeddingModel, "EMBEDDING_MODEL")

	setFloat(&c.Scoring.KeepThreshold, "DEVLENS_KEEP_THRESHOLD")
	setFloat(&c.Scoring.CriticalThreshold, "DEVLENS_CRITICAL_THRESHOLD")
	setInt(&c.Scoring.BatchSize, "DEVLENS_BATCH_SIZE")

	setFloat(&c.Inference.MinSimilarity, "DEVLENS_MIN_SIMILARITY")
	setFloat(&c.Inference.MinConfidence, "DEVLENS_MIN_CONFIDENCE")
	setInt(&c.Inference.ContextWindowSize, "DEVLENS_CONTEXT_WINDOW_SIZE")
	setInt(&c.Inference.MaxTimeWindowDays, "DEVLENS_MAX_TIME_WINDOW_DAYS")

	setInt(&c.Pipeline.QueueCapacity, "DEVLENS_QUEUE_CAPACITY")
	setInt(&c.Pipeline.WorkerCount, "DEVLENS_WORKER_COUNT")
	setString(&c.Pipeline.OverflowPolicy, "DEVLENS_OVERFLOW_POLICY")
	setBool(&c.Pipeline.StoreAllEvents, "DEVLENS_STORE_ALL_EVENTS")

	setDuration(&c.Realtime.HeartbeatInterval, "DEVLENS_HEARTBEAT_INTERVAL")
	setDuration(&c.Realtime.HeartbeatTimeout, "DEVLENS_HEARTBEAT_TIMEOUT")

	setInt(&c.Notify.RateLimitPerHour, "DEVLENS_RATE_LIMIT_PER_HOUR")
	setString(&c.Notify.QuietHoursStart, "DEVLENS_QUIET_HOURS_START")
	setString(&c.Notify.QuietHoursEnd, "DEVLENS_QUIET_HOURS_END")

	setDuration(&c.Timeline.DedupWindow, "DEVLENS_DEDUP_WINDOW")
	setDuration(&c.Timeline.CleanupThreshold, "DEVLENS_CLEANUP_THRESHOLD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
