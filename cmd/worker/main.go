// Command worker runs the transcode worker pool without the HTTP API. It
// shares jobs and video records with API replicas through the Redis queue
// and the Postgres datastore.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodserve/internal/media"
	"vodserve/internal/observability/logging"
	"vodserve/internal/pipeline"
	"vodserve/internal/queue"
	"vodserve/internal/serverutil"
	"vodserve/internal/storage"
	"vodserve/internal/transcode"

	"golang.org/x/sync/errgroup"
)

func main() {
	healthAddr := flag.String("health-addr", "", "listen address for the health endpoint (empty disables it)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	mediaRoot := flag.String("media-root", "", "root directory for uploads, renditions, and thumbnails")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe-path", "", "path to the ffprobe binary")
	redisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	redisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	redisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	redisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	redisKeyPrefix := flag.String("queue-redis-key-prefix", "", "Redis key prefix for transcode queue state")
	redisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the transcode queue")
	redisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the transcode queue")
	redisLeaseTTL := flag.Duration("queue-redis-lease-ttl", 0, "lease duration before a stalled job is requeued")
	workers := flag.Int("workers", 0, "number of concurrent transcode workers")
	maxAttempts := flag.Int("transcode-max-attempts", 0, "attempts before a transcode job fails permanently")
	backoffBase := flag.Duration("transcode-backoff-base", 0, "base delay before retrying a failed transcode")
	backoffMax := flag.Duration("transcode-backoff-max", 0, "upper bound on the transcode retry delay")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VODSERVE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VODSERVE_LOG_FORMAT")),
	})

	// Workers only make sense against shared state, so Postgres and Redis
	// are mandatory here even though the server can run fully in-process.
	dsn := strings.TrimSpace(firstNonEmpty(*postgresDSN, os.Getenv("VODSERVE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	if dsn == "" {
		logger.Error("worker requires a Postgres DSN")
		os.Exit(1)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.NewPostgresRepository(bootCtx, dsn)
	bootCancel()
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
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

	redisCfg := queue.RedisBackendConfig{
		Addr:       firstNonEmpty(*redisAddr, os.Getenv("VODSERVE_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("VODSERVE_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*redisUsername, os.Getenv("VODSERVE_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*redisPassword, os.Getenv("VODSERVE_QUEUE_REDIS_PASSWORD")),
		KeyPrefix:  firstNonEmpty(*redisKeyPrefix, os.Getenv("VODSERVE_QUEUE_REDIS_KEY_PREFIX")),
		MasterName: firstNonEmpty(*redisMasterName, os.Getenv("VODSERVE_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*redisPoolSize, "VODSERVE_QUEUE_REDIS_POOL_SIZE"),
		LeaseTTL:   resolveDuration(*redisLeaseTTL, "VODSERVE_QUEUE_REDIS_LEASE_TTL", 0),
		Logger:     logging.WithComponent(logger, "queue"),
	}
	if len(redisCfg.Addrs) == 0 && redisCfg.Addr == "" {
		logger.Error("worker requires a Redis address for the transcode queue")
		os.Exit(1)
	}
	backend, err := queue.NewRedisBackend(redisCfg)
	if err != nil {
		logger.Error("failed to connect to transcode queue", "error", err)
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

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := pipe.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})

	healthBind := firstNonEmpty(*healthAddr, os.Getenv("VODSERVE_WORKER_HEALTH_ADDR"))
	if healthBind != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "datastore unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		handler := logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(mux)
		healthServer := &http.Server{
			Addr:              healthBind,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			return serverutil.Run(groupCtx, serverutil.Config{Server: healthServer, ShutdownTimeout: 10 * time.Second})
		})
	}

	logger.Info("vodserve worker running", "health_addr", healthBind)
	if err := group.Wait(); err != nil {
		logger.Error("worker error", "error", err)
	}

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := backend.Close(); err != nil {
		logger.Warn("failed to close queue backend", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("worker stopped")
}

func resolveMediaRoot(flagValue, envValue string) string {
	if root := firstNonEmpty(flagValue, envValue); root != "" {
		return root
	}
	return "data/media"
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
