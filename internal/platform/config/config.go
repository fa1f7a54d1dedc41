package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"postage/pkg/domain"
	pkgstrings "postage/pkg/platform/strings"
)

// DefaultProgramID seeds address derivation when none is configured.
const DefaultProgramID = "35Mv6Nx3Z8TzYWtWKa4arf51KWyeM2o1FQr8JvqfcN6Y"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Server captures process-level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ProgramID       string        `yaml:"program_id"`
	MessageMode     string        `yaml:"message_mode"`
	LedgerBackend   string        `yaml:"ledger_backend"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	DevAirdropToken string        `yaml:"dev_airdrop_token"`

	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Proof    ProofConfig    `yaml:"proof"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	Driver       string `yaml:"driver"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	Migrate      bool   `yaml:"migrate"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig enables the Kafka audit sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AuditTopic string   `yaml:"audit_topic"`
	Partitions int32    `yaml:"partitions"`
	// DeliveryTimeout bounds how long the producer keeps retrying one event.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

type ProofConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	ReplayBackend string        `yaml:"replay_backend"`
}

// Defaults returns the development configuration.
func Defaults() Server {
	return Server{
		Addr:            ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		ProgramID:       DefaultProgramID,
		MessageMode:     "single",
		LedgerBackend:   BackendMemory,
		TxTimeout:       5 * time.Second,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"http://localhost:3000"},
		Postgres: PostgresConfig{
			Driver:       "postgres",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
			Migrate:      true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			AuditTopic:      "postage.audit",
			Partitions:      1,
			DeliveryTimeout: 5 * time.Second,
		},
		Proof: ProofConfig{
			MaxAge:        5 * time.Minute,
			ReplayBackend: BackendMemory,
		},
	}
}

// FromEnv builds the configuration from defaults, an optional YAML file named
// by POSTAGE_CONFIG_FILE, then environment overrides, and validates it.
func FromEnv() (Server, error) {
	cfg := Defaults()
	if path := os.Getenv("POSTAGE_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Server{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Server{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Server{}, err
	}
	cfg.CORSOrigins = pkgstrings.DedupeAndTrim(cfg.CORSOrigins)
	cfg.Kafka.Brokers = pkgstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Server) error {
	setString(&cfg.Addr, "POSTAGE_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.ProgramID, "PROGRAM_ID")
	setString(&cfg.MessageMode, "MESSAGE_MODE")
	setString(&cfg.LedgerBackend, "LEDGER_BACKEND")
	setString(&cfg.DevAirdropToken, "DEV_AIRDROP_TOKEN")
	setList(&cfg.CORSOrigins, "CORS_ALLOWED_ORIGINS")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setString(&cfg.Postgres.Driver, "DB_DRIVER")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setList(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&cfg.Kafka.AuditTopic, "KAFKA_AUDIT_TOPIC")
	setString(&cfg.Proof.ReplayBackend, "PROOF_REPLAY_BACKEND")

	var errs []error
	errs = append(errs,
		setDuration(&cfg.TxTimeout, "TX_TIMEOUT"),
		setDuration(&cfg.RequestTimeout, "REQUEST_TIMEOUT"),
		setDuration(&cfg.Proof.MaxAge, "PROOF_MAX_AGE"),
		setDuration(&cfg.Kafka.DeliveryTimeout, "KAFKA_DELIVERY_TIMEOUT"),
		setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE"),
		setBool(&cfg.Postgres.Migrate, "DB_MIGRATE"),
	)
	return errors.Join(errs...)
}

// Validate rejects combinations the server cannot start with.
func (c Server) Validate() error {
	var errs []error
	if _, err := domain.ParseAddress(c.ProgramID); err != nil {
		errs = append(errs, fmt.Errorf("program_id: %w", err))
	}
	switch c.MessageMode {
	case "single", "log":
	default:
		errs = append(errs, fmt.Errorf("message_mode must be single or log, got %q", c.MessageMode))
	}
	switch c.LedgerBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres ledger requires DATABASE_URL"))
		}
		if c.Postgres.Driver != "postgres" && c.Postgres.Driver != "pgx" {
			errs = append(errs, fmt.Errorf("db driver must be postgres or pgx, got %q", c.Postgres.Driver))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis ledger requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger_backend must be memory, postgres or redis, got %q", c.LedgerBackend))
	}
	switch c.Proof.ReplayBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis replay cache requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("proof replay_backend must be memory or redis, got %q", c.Proof.ReplayBackend))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("kafka delivery_timeout must be positive"))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, errors.New("tx_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis connection.
func (c Server) UsesRedis() bool {
	return c.LedgerBackend == BackendRedis || c.Proof.ReplayBackend == BackendRedis
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = pkgstrings.SplitList(v)
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
