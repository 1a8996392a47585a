package storage

import "time"

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	QueryTimeout        time.Duration
	ApplicationName     string
}

const defaultPostgresQueryTimeout = 10 * time.Second

func newPostgresConfig(dsn string, opts ...PostgresOption) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		QueryTimeout:    defaultPostgresQueryTimeout,
		ApplicationName: "vodserve",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultPostgresQueryTimeout
	}
	return cfg
}

// PostgresOption tunes the Postgres repository configuration.
type PostgresOption func(*PostgresConfig)

// WithPostgresPoolLimits caps the connection pool size.
func WithPostgresPoolLimits(min, max int32) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.MinConnections = min
		cfg.MaxConnections = max
	}
}

// WithPostgresQueryTimeout bounds individual repository operations.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.QueryTimeout = timeout
	}
}

// WithPostgresApplicationName sets the application_name runtime parameter.
func WithPostgresApplicationName(name string) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	}
}
