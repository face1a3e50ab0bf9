package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for the public issuer deployment.
const (
	// DefaultDWNEndpoint is the public node. It expects CID-addressed messages,
	// which the HTTP node does not produce, so deployments override it.
	DefaultDWNEndpoint  = "https://dwn.gcda.xyz"
	DefaultAuthEndpoint = "https://vc-to-dwn.tbddev.org/authorize"
	DefaultSchemaURL    = "https://vc.schemas.host/kcc.schema.json"
	// DefaultCredentialExpiry is the fixed expiry of the public issuer. It is in
	// the past, so real deployments must set CREDENTIAL_EXPIRY; production
	// refuses to start with an expiry that has already passed.
	DefaultCredentialExpiry     = "2026-05-19T08:02:04Z"
	DefaultProtocolAcceptedCode = 202
	DefaultStageTimeout         = 10 * time.Second
	DefaultAuditTopic           = "kcc.audit.events"

	// MemoryEndpoint selects the in-process node instead of a remote DWN.
	MemoryEndpoint = "memory"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration

	Issuer   Issuer
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// Issuer configures the issuance pipeline and its collaborators.
type Issuer struct {
	DWNEndpoint          string
	AuthEndpoint         string
	SchemaURL            string
	CredentialExpiry     time.Time
	ProtocolAcceptedCode int
	StageTimeout         time.Duration
	// KeySeed derives a stable issuer key when no key store holds one.
	KeySeed string

	// RetryMaxAttempts applies to authorize and persist only. Zero disables retries.
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
}

// DatabaseConfig holds the audit ledger connection. Empty URL keeps the ledger in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the issuer key store connection. Empty URL keeps the key in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
	// KeySecret seals the stored issuer key. Required in production when URL is set.
	KeySecret string
}

// KafkaConfig holds the audit stream. Empty Brokers disables the stream.
type KafkaConfig struct {
	Brokers    string
	AuditTopic string
	Acks       string
}

// IsProduction reports whether the service runs with production defaults.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// UsesMemoryNode reports whether records stay in process.
func (i Issuer) UsesMemoryNode() bool {
	return i.DWNEndpoint == MemoryEndpoint
}

const (
	// connect, provision, sign, authorize, persist
	issuanceStages = 5
	// authorize and persist
	retriedStages     = 2
	requestTimeoutPad = 5 * time.Second
)

// RequestTimeout bounds a whole issuance request: every stage at its timeout,
// each retried stage once more per retry, and the longest backoff waits.
// Stage failures therefore surface before the router's request timeout.
func (i Issuer) RequestTimeout() time.Duration {
	total := time.Duration(issuanceStages+retriedStages*i.RetryMaxAttempts) * i.StageTimeout

	interval := i.RetryInitialInterval
	for range i.RetryMaxAttempts {
		wait := time.Duration(float64(interval) * (1 + backoff.DefaultRandomizationFactor))
		total += retriedStages * wait
		interval = min(time.Duration(float64(interval)*backoff.DefaultMultiplier), backoff.DefaultMaxInterval)
	}
	return total + requestTimeoutPad
}

// UsesDefaultDWN reports whether DWN_ENDPOINT was left at the public node.
func (i Issuer) UsesDefaultDWN() bool {
	return i.DWNEndpoint == DefaultDWNEndpoint
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	return fromLookup(os.Getenv)
}

func fromLookup(getenv func(string) string) (Server, error) {
	env := envReader{getenv: getenv}

	addr := getenv("ADDR")
	if addr == "" {
		addr = ":" + env.str("PORT", "3000")
	}

	expiry, err := time.Parse(time.RFC3339, env.str("CREDENTIAL_EXPIRY", DefaultCredentialExpiry))
	if err != nil {
		return Server{}, fmt.Errorf("CREDENTIAL_EXPIRY: %w", err)
	}

	cfg := Server{
		Addr:            addr,
		Environment:     env.str("ENVIRONMENT", "development"),
		LogLevel:        env.str("LOG_LEVEL", "info"),
		ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Issuer: Issuer{
			DWNEndpoint:          strings.TrimRight(env.str("DWN_ENDPOINT", DefaultDWNEndpoint), "/"),
			AuthEndpoint:         env.str("AUTH_ENDPOINT", DefaultAuthEndpoint),
			SchemaURL:            env.str("SCHEMA_URL", DefaultSchemaURL),
			CredentialExpiry:     expiry.UTC(),
			ProtocolAcceptedCode: env.integer("PROTOCOL_ACCEPTED_CODE", DefaultProtocolAcceptedCode),
			StageTimeout:         env.duration("STAGE_TIMEOUT", DefaultStageTimeout),
			KeySeed:              getenv("ISSUER_KEY_SEED"),
			RetryMaxAttempts:     env.integer("RETRY_MAX_ATTEMPTS", 0),
			RetryInitialInterval: env.duration("RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
		},
		Database: DatabaseConfig{
			URL:             getenv("DATABASE_URL"),
			MaxOpenConns:    env.integer("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    env.integer("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: env.duration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getenv("REDIS_URL"),
			PoolSize:     env.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: env.integer("REDIS_MIN_IDLE_CONNS", 1),
			DialTimeout:  env.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  env.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: env.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    env.str("REDIS_KEY_PREFIX", "kcc:"),
			KeySecret:    getenv("ISSUER_KEY_STORE_SECRET"),
		},
		Kafka: KafkaConfig{
			Brokers:    getenv("KAFKA_BROKERS"),
			AuditTopic: env.str("AUDIT_TOPIC", DefaultAuditTopic),
			Acks:       env.str("KAFKA_ACKS", "all"),
		},
	}

	if len(env.errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(env.errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (s Server) validate() error {
	i := s.Issuer
	if !i.UsesMemoryNode() {
		if err := requireHTTPURL("DWN_ENDPOINT", i.DWNEndpoint); err != nil {
			return err
		}
	}
	if err := requireHTTPURL("AUTH_ENDPOINT", i.AuthEndpoint); err != nil {
		return err
	}
	if err := requireHTTPURL("SCHEMA_URL", i.SchemaURL); err != nil {
		return err
	}
	if i.ProtocolAcceptedCode < 100 || i.ProtocolAcceptedCode > 599 {
		return fmt.Errorf("PROTOCOL_ACCEPTED_CODE must be an HTTP status code, got %d", i.ProtocolAcceptedCode)
	}
	if i.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive")
	}
	if i.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative")
	}
	if s.IsProduction() && !i.CredentialExpiry.After(time.Now()) {
		return fmt.Errorf("CREDENTIAL_EXPIRY must be in the future in production, got %s", i.CredentialExpiry.Format(time.RFC3339))
	}
	if s.IsProduction() && s.Redis.URL != "" && s.Redis.KeySecret == "" {
		return fmt.Errorf("ISSUER_KEY_STORE_SECRET is required in production when REDIS_URL is set")
	}
	if s.IsProduction() && i.UsesMemoryNode() {
		return fmt.Errorf("DWN_ENDPOINT=%s is not allowed in production", MemoryEndpoint)
	}
	return nil
}

func requireHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
	}
	return nil
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	getenv func(string) string
	errs   []string
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: not an integer", key))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: not a duration", key))
		return def
	}
	return d
}
