package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the complete docstore configuration.
type Config struct {
	Backend     string   `yaml:"backend" validate:"required,oneof=dynamodb postgres memory"`
	Site        string   `yaml:"site" validate:"excludes=#"`
	StrictDates bool     `yaml:"strictDates"`
	Log         Log      `yaml:"log"`
	DynamoDB    DynamoDB `yaml:"dynamodb"`
	Postgres    Postgres `yaml:"postgres"`
	Lock        Lock     `yaml:"lock"`
	Breaker     Breaker  `yaml:"circuitBreaker"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// DynamoDB configures the DynamoDB backend.
type DynamoDB struct {
	Table          string `yaml:"table"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint" validate:"omitempty,url"`
	MaxAttempts    int    `yaml:"maxAttempts" validate:"min=1"`
	ConsistentRead bool   `yaml:"consistentRead"`
}

// Postgres configures the Postgres backend.
type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	Table    string `yaml:"table"`
}

// Lock configures the locks guarding action list writes.
type Lock struct {
	AcquireTimeout time.Duration `yaml:"acquireTimeout" validate:"gte=0s"`
	Lease          time.Duration `yaml:"lease" validate:"gt=0s"`
}

// Breaker configures the circuit breaker guarding store calls.
type Breaker struct {
	Enabled      bool          `yaml:"enabled"`
	MinRequests  uint32        `yaml:"minRequests" validate:"min=1"`
	FailureRatio float64       `yaml:"failureRatio" validate:"gt=0,lte=1"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0s"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0s"`
	MaxRequests  uint32        `yaml:"maxRequests" validate:"min=1"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Backend: BackendDynamoDB,
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		DynamoDB: DynamoDB{
			MaxAttempts: 5,
		},
		Postgres: Postgres{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "prefer",
			Table:   "items",
		},
		Lock: Lock{
			AcquireTimeout: 10 * time.Second,
			Lease:          30 * time.Second,
		},
		Breaker: Breaker{
			MinRequests:  10,
			FailureRatio: 0.5,
			Interval:     30 * time.Second,
			Timeout:      15 * time.Second,
			MaxRequests:  3,
		},
	}
}

// Load reads the YAML file at path, when path is not empty, over the
// defaults, then applies the process environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is [Load] with a custom environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("DOCSTORE_BACKEND", &cfg.Backend)
	str("DOCSTORE_SITE", &cfg.Site)
	str("DOCSTORE_TABLE", &cfg.DynamoDB.Table)
	str("DOCSTORE_DYNAMODB_ENDPOINT", &cfg.DynamoDB.Endpoint)
	str("AWS_REGION", &cfg.DynamoDB.Region)
	str("DOCSTORE_POSTGRES_HOST", &cfg.Postgres.Host)
	str("DOCSTORE_POSTGRES_USER", &cfg.Postgres.User)
	str("DOCSTORE_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	str("DOCSTORE_POSTGRES_DATABASE", &cfg.Postgres.Database)
	str("DOCSTORE_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	str("DOCSTORE_POSTGRES_TABLE", &cfg.Postgres.Table)
	str("DOCSTORE_LOG_LEVEL", &cfg.Log.Level)
	str("DOCSTORE_LOG_FORMAT", &cfg.Log.Format)

	if v, ok := lookup("DOCSTORE_POSTGRES_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DOCSTORE_POSTGRES_PORT %q: %w", v, err)
		}

		cfg.Postgres.Port = port
	}

	if v, ok := lookup("DOCSTORE_STRICT_DATES"); ok && v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DOCSTORE_STRICT_DATES %q: %w", v, err)
		}

		cfg.StrictDates = strict
	}

	if v, ok := lookup("DOCSTORE_CIRCUIT_BREAKER"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DOCSTORE_CIRCUIT_BREAKER %q: %w", v, err)
		}

		cfg.Breaker.Enabled = enabled
	}

	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return formatValidationError(err)
	}

	switch c.Backend {
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return errors.New("dynamodb.table is required for the dynamodb backend")
		}
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return errors.New("postgres.host and postgres.database are required for the postgres backend")
		}
	}

	return nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))

	for _, e := range validationErrors {
		field := strings.TrimPrefix(e.Namespace(), "Config.")

		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "excludes":
			msgs = append(msgs, fmt.Sprintf("%s cannot contain '%s'", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s=%s)", field, e.Tag(), e.Param()))
		}
	}

	return errors.New(strings.Join(msgs, "; "))
}
