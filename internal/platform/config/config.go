package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. It is built once at startup
// and passed into constructors; nothing reads the environment after boot.
type Server struct {
	Addr string

	// PostgresDSN selects the relational stores; empty means in-memory.
	PostgresDSN string

	// SourceDir selects the flat-file source adapter; empty means the
	// relational adapter (or fixtures in tests).
	SourceDir       string
	SnapshotVersion string

	RedisURL        string
	VerdictCacheTTL time.Duration

	KafkaBrokers    []string
	KafkaAuditTopic string

	AnthropicAPIKey  string
	RecommendModel   string
	RecommendTimeout time.Duration

	RemediationURL string

	Workers               int
	ApprovalWindowHorizon time.Duration
	ReconcileDashboard    bool

	// RunInterval enables scheduled full-population runs; zero disables them.
	RunInterval time.Duration

	JWTSigningKey string
}

// DevJWTSigningKey is the fallback when JWT_SIGNING_KEY is unset. Tokens
// signed with it are forgeable; main warns loudly when it is in use.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                  envOr("CHANGEGATE_ADDR", ":8080"),
		PostgresDSN:           os.Getenv("CHANGEGATE_POSTGRES_DSN"),
		SourceDir:             os.Getenv("CHANGEGATE_SOURCE_DIR"),
		SnapshotVersion:       envOr("CHANGEGATE_SNAPSHOT_VERSION", "dev"),
		RedisURL:              os.Getenv("CHANGEGATE_REDIS_URL"),
		VerdictCacheTTL:       envDuration("CHANGEGATE_VERDICT_CACHE_TTL", 24*time.Hour),
		KafkaAuditTopic:       envOr("CHANGEGATE_KAFKA_AUDIT_TOPIC", "changegate.audit"),
		AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		RecommendModel:        envOr("CHANGEGATE_RECOMMEND_MODEL", "claude-3-5-haiku-latest"),
		RecommendTimeout:      envDuration("CHANGEGATE_RECOMMEND_TIMEOUT", 5*time.Second),
		RemediationURL:        os.Getenv("CHANGEGATE_REMEDIATION_URL"),
		Workers:               envInt("CHANGEGATE_WORKERS", 8),
		ApprovalWindowHorizon: envDuration("CHANGEGATE_APPROVAL_WINDOW", 72*time.Hour),
		ReconcileDashboard:    envOr("CHANGEGATE_IPE_RECONCILE", "true") == "true",
		RunInterval:           envDuration("CHANGEGATE_RUN_INTERVAL", 0),
		JWTSigningKey:         envOr("JWT_SIGNING_KEY", DevJWTSigningKey),
	}

	if brokers := os.Getenv("CHANGEGATE_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

// UsingDevJWTKey reports whether the reviewer surface is guarded by the
// built-in development key.
func (s Server) UsingDevJWTKey() bool {
	return s.JWTSigningKey == DevJWTSigningKey
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
