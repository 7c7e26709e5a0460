// Package config loads a client definition from YAML and UNIREQ_*
// environment variables and builds the corresponding policy chain.
//
// Priority: defaults, then the YAML file, then the environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete file configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http" env:"HTTP"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Retry     RetryConfig     `yaml:"retry" env:"RETRY"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Breaker   BreakerConfig   `yaml:"breaker" env:"BREAKER"`
	Throttle  ThrottleConfig  `yaml:"throttle" env:"THROTTLE"`
	Dedupe    DedupeConfig    `yaml:"dedupe" env:"DEDUPE"`
	Audit     AuditConfig     `yaml:"audit" env:"AUDIT"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// HTTPConfig configures the connector and request defaults.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Timeout bounds the whole chain, retries included. Zero disables it.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// TransportTimeout is the net/http client timeout for one exchange.
	TransportTimeout time.Duration     `yaml:"transport_timeout" env:"TRANSPORT_TIMEOUT"`
	MaxResponseBytes int64             `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	Headers          map[string]string `yaml:"headers"`
	// Parser is json, text or empty.
	Parser string `yaml:"parser" env:"PARSER"`
	Timing bool   `yaml:"timing" env:"TIMING"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Requests logs every call through the Log policy.
	Requests bool `yaml:"requests" env:"REQUESTS"`
}

// AuthConfig selects one authentication policy.
type AuthConfig struct {
	// Type: bearer, basic, apikey, jwt or empty.
	Type     string    `yaml:"type" env:"TYPE"`
	Token    string    `yaml:"token" env:"TOKEN"`
	User     string    `yaml:"user" env:"USER"`
	Password string    `yaml:"password" env:"PASSWORD"`
	Header   string    `yaml:"header" env:"HEADER"`
	Key      string    `yaml:"key" env:"KEY"`
	JWT      JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig configures HMAC-signed tokens.
type JWTConfig struct {
	Secret   string        `yaml:"secret" env:"SECRET"`
	Issuer   string        `yaml:"issuer" env:"ISSUER"`
	Subject  string        `yaml:"subject" env:"SUBJECT"`
	Audience []string      `yaml:"audience" env:"AUDIENCE"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// RetryConfig configures Retry with HTTPRetryPredicate.
type RetryConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	Tries             int           `yaml:"tries" env:"TRIES"`
	Initial           time.Duration `yaml:"initial" env:"INITIAL"`
	Max               time.Duration `yaml:"max" env:"MAX"`
	Jitter            bool          `yaml:"jitter" env:"JITTER"`
	Decorrelated      bool          `yaml:"decorrelated" env:"DECORRELATED"`
	RespectRetryAfter bool          `yaml:"respect_retry_after" env:"RESPECT_RETRY_AFTER"`
	RetryAfterCap     time.Duration `yaml:"retry_after_cap" env:"RETRY_AFTER_CAP"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	StatusCodes       []int         `yaml:"status_codes"`
	Budget            BudgetConfig  `yaml:"budget" env:"BUDGET"`
}

// BudgetConfig configures a RetryBudget. MaxRetries zero disables it.
type BudgetConfig struct {
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Window     time.Duration `yaml:"window" env:"WINDOW"`
}

// CacheConfig configures Cache or Conditional.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Mode: ttl (Cache) or conditional (Conditional).
	Mode                string        `yaml:"mode" env:"MODE"`
	TTL                 time.Duration `yaml:"ttl" env:"TTL"`
	RespectCacheControl bool          `yaml:"respect_cache_control" env:"RESPECT_CACHE_CONTROL"`
	// Backend: memory, redis or sql.
	Backend    string         `yaml:"backend" env:"BACKEND"`
	MaxEntries int            `yaml:"max_entries" env:"MAX_ENTRIES"`
	Redis      RedisConfig    `yaml:"redis" env:"REDIS"`
	Database   DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	Prefix    string        `yaml:"prefix" env:"PREFIX"`
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	PoolSize  int           `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig configures the sql backend.
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// BreakerConfig configures Breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" env:"ENABLED"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	SuccessThreshold int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
}

// ThrottleConfig configures Throttle or ThrottleByKey.
type ThrottleConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Rate is requests per second.
	Rate  float64 `yaml:"rate" env:"RATE"`
	Burst int     `yaml:"burst" env:"BURST"`
	// Key: empty (one limiter), host, route or host_route.
	Key      string `yaml:"key" env:"KEY"`
	FailFast bool   `yaml:"fail_fast" env:"FAIL_FAST"`
}

// DedupeConfig configures Dedupe.
type DedupeConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// AuditConfig configures Audit.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Sink: zap or jsonl.
	Sink          string   `yaml:"sink" env:"SINK"`
	Path          string   `yaml:"path" env:"PATH"`
	RedactHeaders []string `yaml:"redact_headers" env:"REDACT_HEADERS"`
}

// MetricsConfig configures prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Addr serves /metrics when set (CLI only).
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the defaults every load starts from.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			TransportTimeout: 30 * time.Second,
			MaxResponseBytes: 32 << 20,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Retry: RetryConfig{
			Enabled:           true,
			Tries:             3,
			Initial:           100 * time.Millisecond,
			Max:               10 * time.Second,
			Jitter:            true,
			RespectRetryAfter: true,
			RetryAfterCap:     time.Minute,
			Budget:            BudgetConfig{Window: time.Minute},
		},
		Cache: CacheConfig{
			Mode:    "ttl",
			TTL:     5 * time.Minute,
			Backend: "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Prefix:    "unireq:cache:",
				Retention: 24 * time.Hour,
				PoolSize:  10,
			},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 2,
		},
		Throttle: ThrottleConfig{
			Rate:  10,
			Burst: 10,
		},
		Audit: AuditConfig{Sink: "zap"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "unireq",
			SampleRate:   1,
		},
	}
}

// Validate checks the configuration for values Build cannot honour.
func (c *Config) Validate() error {
	var errs []string

	if c.HTTP.Timeout < 0 || c.HTTP.TransportTimeout < 0 {
		errs = append(errs, "http timeouts must be non-negative")
	}
	switch c.HTTP.Parser {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("unknown parser %q", c.HTTP.Parser))
	}

	switch c.Auth.Type {
	case "":
	case "bearer":
		if c.Auth.Token == "" {
			errs = append(errs, "auth.token is required for bearer auth")
		}
	case "basic":
		if c.Auth.User == "" {
			errs = append(errs, "auth.user is required for basic auth")
		}
	case "apikey":
		if c.Auth.Header == "" || c.Auth.Key == "" {
			errs = append(errs, "auth.header and auth.key are required for apikey auth")
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" {
			errs = append(errs, "auth.jwt.secret is required for jwt auth")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown auth type %q", c.Auth.Type))
	}

	if c.Retry.Enabled {
		if c.Retry.Tries < 1 {
			errs = append(errs, "retry.tries must be at least 1")
		}
		if c.Retry.Max < c.Retry.Initial {
			errs = append(errs, "retry.max must be greater than or equal to retry.initial")
		}
	}

	if c.Cache.Enabled {
		switch c.Cache.Mode {
		case "ttl", "conditional":
		default:
			errs = append(errs, fmt.Sprintf("unknown cache mode %q", c.Cache.Mode))
		}
		switch c.Cache.Backend {
		case "memory", "redis":
		case "sql":
			if c.Cache.Database.Driver == "" {
				errs = append(errs, "cache.database.driver is required for the sql backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
		}
	}

	if c.Throttle.Enabled {
		if c.Throttle.Rate <= 0 || c.Throttle.Burst <= 0 {
			errs = append(errs, "throttle.rate and throttle.burst must be positive")
		}
		switch c.Throttle.Key {
		case "", "host", "route", "host_route":
		default:
			errs = append(errs, fmt.Sprintf("unknown throttle key %q", c.Throttle.Key))
		}
	}

	if c.Audit.Enabled && c.Audit.Sink == "jsonl" && c.Audit.Path == "" {
		errs = append(errs, "audit.path is required for the jsonl sink")
	}

	if c.Telemetry.Enabled && (c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1) {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
