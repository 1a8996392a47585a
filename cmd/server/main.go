// Command server starts the vodserve API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodserve/internal/api"
	"vodserve/internal/media"
	"vodserve/internal/observability/logging"
	"vodserve/internal/pipeline"
	"vodserve/internal/queue"
	"vodserve/internal/server"
	"vodserve/internal/storage"
	"vodserve/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	dataPath := flag.String("data", "", "path to the JSON snapshot for the memory datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresQueryTimeout := flag.Duration("postgres-query-timeout", 0, "per-statement timeout for Postgres queries")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mediaRoot := flag.String("media-root", "", "root directory for uploads, renditions, and thumbnails")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe-path", "", "path to the ffprobe binary")
	queueDriver := flag.String("queue-driver", "", "transcode queue driver (memory or redis)")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	queueRedisKeyPrefix := flag.String("queue-redis-key-prefix", "", "Redis key prefix for transcode queue state")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the transcode queue")
	queueRedisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the transcode queue")
	queueRedisDialTimeout := flag.Duration("queue-redis-dial-timeout", 0, "dial timeout for transcode queue Redis connections")
	queueRedisBlockTimeout := flag.Duration("queue-redis-block-timeout", 0, "how long dequeue blocks on Redis before polling again")
	queueRedisLeaseTTL := flag.Duration("queue-redis-lease-ttl", 0, "lease duration before a stalled job is requeued")
	queueRedisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate for the transcode queue")
	queueRedisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate for the transcode queue")
	queueRedisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key for the transcode queue")
	queueRedisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name for the transcode queue")
	queueRedisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification for the transcode queue")
	workers := flag.Int("workers", 0, "number of concurrent transcode workers")
	maxAttempts := flag.Int("transcode-max-attempts", 0, "attempts before a transcode job fails permanently")
	backoffBase := flag.Duration("transcode-backoff-base", 0, "base delay before retrying a failed transcode")
	backoffMax := flag.Duration("transcode-backoff-max", 0, "upper bound on the transcode retry delay")
	disableWorkers := flag.Bool("disable-workers", false, "serve the API without running transcode workers in-process")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VODSERVE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VODSERVE_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")

	serverMode := modeValue(*mode, os.Getenv("VODSERVE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("VODSERVE_ADDR"))

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("VODSERVE_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VODSERVE_TLS_KEY")),
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("VODSERVE_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openDatastore(bootCtx, driver, *dataPath, postgresDefaultDSN,
		*postgresMaxConns, *postgresMinConns, *postgresQueryTimeout, *postgresAppName)
	bootCancel()
	if err != nil {
		logger.Error("failed to open datastore", "driver", driver, "error", err)
		os.Exit(1)
	}

	library, err := media.NewLibrary(resolveMediaRoot(*mediaRoot, os.Getenv("VODSERVE_MEDIA_ROOT")))
	if err != nil {
		logger.Error("failed to prepare media library", "error", err)
		os.Exit(1)
	}

	executor := transcode.NewExecutor(transcode.Config{
		FFmpegPath:  firstNonEmpty(*ffmpegPath, os.Getenv("VODSERVE_FFMPEG_PATH")),
		FFprobePath: firstNonEmpty(*ffprobePath, os.Getenv("VODSERVE_FFPROBE_PATH")),
		Logger:      logging.WithComponent(logger, "transcode"),
	})

	queueRedisCfg := queue.RedisBackendConfig{
		Addr:         firstNonEmpty(*queueRedisAddr, os.Getenv("VODSERVE_QUEUE_REDIS_ADDR")),
		Addrs:        splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("VODSERVE_QUEUE_REDIS_ADDRS"))),
		Username:     firstNonEmpty(*queueRedisUsername, os.Getenv("VODSERVE_QUEUE_REDIS_USERNAME")),
		Password:     firstNonEmpty(*queueRedisPassword, os.Getenv("VODSERVE_QUEUE_REDIS_PASSWORD")),
		KeyPrefix:    firstNonEmpty(*queueRedisKeyPrefix, os.Getenv("VODSERVE_QUEUE_REDIS_KEY_PREFIX")),
		MasterName:   firstNonEmpty(*queueRedisMasterName, os.Getenv("VODSERVE_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:     resolveInt(*queueRedisPoolSize, "VODSERVE_QUEUE_REDIS_POOL_SIZE"),
		DialTimeout:  resolveDuration(*queueRedisDialTimeout, "VODSERVE_QUEUE_REDIS_DIAL_TIMEOUT", 0),
		BlockTimeout: resolveDuration(*queueRedisBlockTimeout, "VODSERVE_QUEUE_REDIS_BLOCK_TIMEOUT", 0),
		LeaseTTL:     resolveDuration(*queueRedisLeaseTTL, "VODSERVE_QUEUE_REDIS_LEASE_TTL", 0),
		TLS: queue.RedisTLSConfig{
			CAFile:             firstNonEmpty(*queueRedisTLSCA, os.Getenv("VODSERVE_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*queueRedisTLSCert, os.Getenv("VODSERVE_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*queueRedisTLSKey, os.Getenv("VODSERVE_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*queueRedisTLSServerName, os.Getenv("VODSERVE_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*queueRedisTLSSkipVerify, "VODSERVE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	backend, err := configureQueueBackend(*queueDriver, queueRedisCfg, logger)
	if err != nil {
		logger.Error("failed to configure transcode queue", "error", err)
		os.Exit(1)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Repository:  store,
		Executor:    executor,
		Library:     library,
		Backend:     backend,
		Workers:     resolveInt(*workers, "VODSERVE_WORKERS"),
		MaxAttempts: resolveInt(*maxAttempts, "VODSERVE_TRANSCODE_MAX_ATTEMPTS"),
		BaseBackoff: resolveDuration(*backoffBase, "VODSERVE_TRANSCODE_BACKOFF_BASE", 0),
		MaxBackoff:  resolveDuration(*backoffMax, "VODSERVE_TRANSCODE_BACKOFF_MAX", 0),
		Logger:      logging.WithComponent(logger, "pipeline"),
	})
	if err != nil {
		logger.Error("failed to build transcode pipeline", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, pipe, executor, library, logger)

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "VODSERVE_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "VODSERVE_RATE_GLOBAL_BURST"),
		UploadLimit:   resolveInt(*uploadLimit, "VODSERVE_RATE_UPLOAD_LIMIT"),
		UploadWindow:  resolveDuration(*uploadWindow, "VODSERVE_RATE_UPLOAD_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("VODSERVE_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("VODSERVE_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "VODSERVE_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         tlsCfg,
		RateLimit:   rateCfg,
		Logger:      logger,
		AuditLogger: auditLogger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	errs := make(chan error, 2)
	runWorkers := !resolveBool(*disableWorkers, "VODSERVE_DISABLE_WORKERS")
	if runWorkers {
		go func() {
			if err := pipe.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("pipeline: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("vodserve API listening", "addr", listenAddr, "mode", serverMode, "workers", runWorkers)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if err := backend.Close(); err != nil {
		logger.Warn("failed to close queue backend", "error", err)
	}

	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

func openDatastore(ctx context.Context, driver, dataPath, dsn string, maxConns, minConns int, queryTimeout time.Duration, appName string) (storage.Repository, error) {
	switch driver {
	case "memory":
		snapshot := resolveDataPath(dataPath, os.Getenv("VODSERVE_DATA"))
		return storage.NewStorage(storage.WithSnapshotPath(snapshot))
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage selected without DSN")
		}
		var pgOptions []storage.PostgresOption
		maxConnsValue := resolveInt(maxConns, "VODSERVE_POSTGRES_MAX_CONNS")
		minConnsValue := resolveInt(minConns, "VODSERVE_POSTGRES_MIN_CONNS")
		if maxConnsValue > 0 || minConnsValue > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(minConnsValue), int32(maxConnsValue)))
		}
		if timeout := resolveDuration(queryTimeout, "VODSERVE_POSTGRES_QUERY_TIMEOUT", 0); timeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresQueryTimeout(timeout))
		}
		if name := firstNonEmpty(appName, os.Getenv("VODSERVE_POSTGRES_APP_NAME")); name != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(name))
		}
		return storage.NewPostgresRepository(ctx, dsn, pgOptions...)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func configureQueueBackend(driver string, cfg queue.RedisBackendConfig, logger *slog.Logger) (queue.Backend, error) {
	resolved := strings.ToLower(strings.TrimSpace(firstNonEmpty(driver, os.Getenv("VODSERVE_QUEUE_DRIVER"))))
	switch resolved {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the transcode queue")
		}
		cfg.Logger = logging.WithComponent(logger, "queue")
		return queue.NewRedisBackend(cfg)
	case "", "memory":
		return queue.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", resolved)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "memory", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/videos.json"
}

func resolveMediaRoot(flagValue, envValue string) string {
	if root := firstNonEmpty(flagValue, envValue); root != "" {
		return root
	}
	return "data/media"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("VODSERVE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
