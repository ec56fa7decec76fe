package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port                 string
	Env                  string
	CORSAllowOrigin      []string
	DatabaseURL          string
	ObjectStoreType      string
	LocalStoreDir        string
	AWSRegion            string
	DocumentsBucket      string
	TenantLogosBucket    string
	S3Prefix             string
	SSEKMSKeyID          string
	LLMProvider          string
	LLMModel             string
	LLMBaseURL           string
	LLMAPIKey            string
	LLMRequestsPerMinute int
	EmailProvider        string
	EmailAPIKey          string
	EmailFrom            string
	EmailBaseURL         string
	AppBaseURL           string
	PwnedBaseURL         string
	QueueBackend         string
	SQSQueueURL          string
	NATSURL              string
	NATSSubject          string
	PlanCacheTTL         time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  env,
		CORSAllowOrigin:      splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:          dbURL,
		ObjectStoreType:      normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:        getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:            getEnv("AWS_REGION", "eu-central-2"),
		DocumentsBucket:      getEnv("S3_BUCKET_DOCUMENTS", "documents"),
		TenantLogosBucket:    getEnv("S3_BUCKET_TENANT_LOGOS", "tenant-logos"),
		S3Prefix:             getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:          getEnv("SSE_KMS_KEY_ID", ""),
		LLMProvider:          normalizeLLMProvider(getEnv("LLM_PROVIDER", "gateway")),
		LLMModel:             getEnv("LLM_MODEL", "google/gemini-2.5-flash"),
		LLMBaseURL:           getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:            getEnv("LLM_API_KEY", ""),
		LLMRequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 60),
		EmailProvider:        strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "log"))),
		EmailAPIKey:          getEnv("EMAIL_API_KEY", ""),
		EmailFrom:            getEnv("EMAIL_FROM", "CRM <noreply@example.ch>"),
		EmailBaseURL:         getEnv("EMAIL_BASE_URL", "https://api.resend.com"),
		AppBaseURL:           strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
		PwnedBaseURL:         getEnv("PWNED_BASE_URL", "https://api.pwnedpasswords.com"),
		QueueBackend:         normalizeQueueBackend(getEnv("QUEUE_BACKEND", "none")),
		SQSQueueURL:          getEnv("SQS_QUEUE_URL", ""),
		NATSURL:              getEnv("NATS_URL", ""),
		NATSSubject:          getEnv("NATS_SUBJECT", "crm.scan-batches.classify"),
		PlanCacheTTL:         getEnvDuration("PLAN_CACHE_TTL", 5*time.Minute),
	}
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid duration: %q", key, raw)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeLLMProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "gateway", "openai":
		return "gateway"
	default:
		return "placeholder"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "nats":
		return "nats"
	default:
		return "none"
	}
}
