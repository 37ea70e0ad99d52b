package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	LogMode        string
	RequestTimeout time.Duration
	CORSOrigins    []string

	DatabaseDriver string
	DatabaseURL    string
	SslCertPath    string

	InternalServiceSecret string
	PartnerAPIKeys        map[string]string // partner name -> bcrypt hash

	LLMProvider    string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	GraderModel    string
	AnalysisModel  string
	RoleplayModel  string
	AIAPIKey       string
	GenModel       string
	EmbedModel     string
	EmbedDim       int
	LLMTimeout     time.Duration
	LLMMaxAttempts int

	EvaluationsPerHour int
	FeedbackPerHour    int
	RedisURL           string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitURL       string
	VoiceTokenTTL    time.Duration

	BackgroundWorkers int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		LogMode:        getEnv("LOG_MODE", "development"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 90*time.Second),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "pgx"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SslCertPath:    getEnv("SSL_CERT_PATH", ""),

		InternalServiceSecret: getEnv("INTERNAL_SERVICE_SECRET", ""),
		PartnerAPIKeys:        parsePartnerKeys(getEnv("PARTNER_API_KEYS", "")),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		GraderModel:    getEnv("GRADER_MODEL", "gpt-4.1"),
		AnalysisModel:  getEnv("ANALYSIS_MODEL", "gpt-4.1-mini"),
		RoleplayModel:  getEnv("ROLEPLAY_MODEL", "gpt-4.1-mini"),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GenModel:       getEnv("GEN_MODEL", "gemini-1.5-flash"),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:       getEnvInt("EMBED_DIM", 768),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT", 45*time.Second),
		LLMMaxAttempts: getEnvInt("LLM_MAX_ATTEMPTS", 3),

		EvaluationsPerHour: getEnvInt("EVALUATIONS_PER_HOUR", 5),
		FeedbackPerHour:    getEnvInt("FEEDBACK_PER_HOUR", 10),
		RedisURL:           getEnv("REDIS_URL", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "rehearsal-artifacts"),

		LiveKitAPIKey:    getEnv("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnv("LIVEKIT_API_SECRET", ""),
		LiveKitURL:       getEnv("LIVEKIT_URL", ""),
		VoiceTokenTTL:    getEnvDuration("VOICE_TOKEN_TTL", 15*time.Minute),

		BackgroundWorkers: getEnvInt("BACKGROUND_WORKERS", 8),
	}

	return cfg
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.InternalServiceSecret == "" {
		errs = append(errs, errors.New("INTERNAL_SERVICE_SECRET not set"))
	}
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	case "gemini":
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	default:
		errs = append(errs, errors.New("LLM_PROVIDER must be openai or gemini"))
	}
	if c.EvaluationsPerHour <= 0 || c.FeedbackPerHour <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePartnerKeys reads "acme=<bcrypt hash>,other=<bcrypt hash>".
func parsePartnerKeys(v string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitList(v) {
		name, hash, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(hash) == "" {
			log.Printf("WARN: ignoring malformed PARTNER_API_KEYS entry %q", name)
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(hash)
	}
	return out
}
