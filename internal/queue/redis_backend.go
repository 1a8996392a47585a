package queue

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisBackendConfig configures the Redis-backed queue implementation.
type RedisBackendConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	KeyPrefix    string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	LeaseTTL     time.Duration
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

// RedisBackend stores jobs in Redis so they survive process restarts and can
// be shared by separate worker processes. Layout per key prefix:
//
//	<prefix>:wait     list of waiting job payloads
//	<prefix>:active   list of leased job payloads
//	<prefix>:delayed  zset of retry payloads scored by ready time
//	<prefix>:pending  set of video IDs with an unfinished job
//	<prefix>:lease:<videoID>  TTL key marking a live worker
//
// A background promoter moves due delayed jobs to the wait list and a reaper
// requeues active jobs whose lease expired.
type RedisBackend struct {
	client       redis.UniversalClient
	prefix       string
	blockTimeout time.Duration
	leaseTTL     time.Duration
	logger       *slog.Logger

	stop     context.CancelFunc
	stopped  sync.WaitGroup
	stopOnce sync.Once
}

// NewRedisBackend connects to Redis and starts the promoter and reaper
// loops. The caller is responsible for ensuring Redis is reachable.
func NewRedisBackend(cfg RedisBackendConfig) (*RedisBackend, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "vodserve:transcode"
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})

	backend := &RedisBackend{
		client:       client,
		prefix:       prefix,
		blockTimeout: cfg.BlockTimeout,
		leaseTTL:     cfg.LeaseTTL,
		logger:       cfg.Logger,
	}
	if backend.logger == nil {
		backend.logger = slog.Default()
	}
	if backend.blockTimeout <= 0 {
		backend.blockTimeout = 2 * time.Second
	}
	if backend.leaseTTL <= 0 {
		backend.leaseTTL = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	backend.stop = cancel
	backend.stopped.Add(2)
	go backend.runPromoter(ctx)
	go backend.runReaper(ctx)
	return backend, nil
}

func (b *RedisBackend) waitKey() string    { return b.prefix + ":wait" }
func (b *RedisBackend) activeKey() string  { return b.prefix + ":active" }
func (b *RedisBackend) delayedKey() string { return b.prefix + ":delayed" }
func (b *RedisBackend) pendingKey() string { return b.prefix + ":pending" }
func (b *RedisBackend) leaseKey(videoID string) string {
	return b.prefix + ":lease:" + videoID
}

func encodeJob(job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return string(payload), nil
}

func decodeJob(payload string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

func (b *RedisBackend) Enqueue(ctx context.Context, job Job) error {
	added, err := b.client.SAdd(ctx, b.pendingKey(), job.VideoID).Result()
	if err != nil {
		return fmt.Errorf("mark job pending: %w", err)
	}
	if added == 0 {
		return ErrDuplicateJob
	}
	payload, err := encodeJob(job)
	if err != nil {
		b.client.SRem(ctx, b.pendingKey(), job.VideoID)
		return err
	}
	if err := b.client.LPush(ctx, b.waitKey(), payload).Err(); err != nil {
		b.client.SRem(ctx, b.pendingKey(), job.VideoID)
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		payload, err := b.client.BLMove(ctx, b.waitKey(), b.activeKey(), "RIGHT", "LEFT", b.blockTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("dequeue job: %w", err)
		}
		job, err := decodeJob(payload)
		if err != nil {
			// Drop the malformed entry so it cannot wedge the queue.
			b.client.LRem(ctx, b.activeKey(), 1, payload)
			b.logger.Error("redis queue payload discarded", "error", err)
			continue
		}
		if err := b.client.Set(ctx, b.leaseKey(job.VideoID), payload, b.leaseTTL).Err(); err != nil {
			b.logger.Warn("redis lease set failed", "videoId", job.VideoID, "error", err)
		}
		return job, nil
	}
}

func (b *RedisBackend) Extend(ctx context.Context, job Job) error {
	return b.client.Expire(ctx, b.leaseKey(job.VideoID), b.leaseTTL).Err()
}

func (b *RedisBackend) Retry(ctx context.Context, job Job, delay time.Duration) error {
	previous := job
	previous.Attempt--
	previousPayload, err := encodeJob(previous)
	if err != nil {
		return err
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}

	pending, err := b.client.SIsMember(ctx, b.pendingKey(), job.VideoID).Result()
	if err != nil {
		return fmt.Errorf("check pending: %w", err)
	}
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.activeKey(), 1, previousPayload)
	pipe.Del(ctx, b.leaseKey(job.VideoID))
	if pending {
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		pipe.ZAdd(ctx, b.delayedKey(), redis.Z{Score: readyAt, Member: payload})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Ack(ctx context.Context, job Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.activeKey(), 1, payload)
	pipe.Del(ctx, b.leaseKey(job.VideoID))
	pipe.SRem(ctx, b.pendingKey(), job.VideoID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Remove(ctx context.Context, videoID string) (bool, error) {
	removed, err := b.client.SRem(ctx, b.pendingKey(), videoID).Result()
	if err != nil {
		return false, fmt.Errorf("clear pending: %w", err)
	}
	if removed == 0 {
		return false, nil
	}
	// Scan the wait list and delayed set for payloads carrying the video ID.
	// Active jobs keep running; clearing pending above stops their retries.
	entries, err := b.client.LRange(ctx, b.waitKey(), 0, -1).Result()
	if err == nil {
		for _, payload := range entries {
			job, decodeErr := decodeJob(payload)
			if decodeErr != nil || job.VideoID != videoID {
				continue
			}
			b.client.LRem(ctx, b.waitKey(), 1, payload)
		}
	}
	delayed, err := b.client.ZRange(ctx, b.delayedKey(), 0, -1).Result()
	if err == nil {
		for _, payload := range delayed {
			job, decodeErr := decodeJob(payload)
			if decodeErr != nil || job.VideoID != videoID {
				continue
			}
			b.client.ZRem(ctx, b.delayedKey(), payload)
		}
	}
	return true, nil
}

func (b *RedisBackend) Close() error {
	b.stopOnce.Do(func() {
		b.stop()
		b.stopped.Wait()
	})
	return b.client.Close()
}

// runPromoter moves due delayed jobs back to the wait list.
func (b *RedisBackend) runPromoter(ctx context.Context) {
	defer b.stopped.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.promoteDue(ctx)
		}
	}
}

func (b *RedisBackend) promoteDue(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("redis delayed scan failed", "error", err)
		}
		return
	}
	for _, payload := range due {
		removed, err := b.client.ZRem(ctx, b.delayedKey(), payload).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, b.waitKey(), payload).Err(); err != nil {
			b.logger.Error("redis delayed promote failed", "error", err)
		}
	}
}

// runReaper requeues active jobs whose worker lease has expired, typically
// after a worker crash.
func (b *RedisBackend) runReaper(ctx context.Context) {
	defer b.stopped.Done()
	ticker := time.NewTicker(b.leaseTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reapExpired(ctx)
		}
	}
}

func (b *RedisBackend) reapExpired(ctx context.Context) {
	entries, err := b.client.LRange(ctx, b.activeKey(), 0, -1).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("redis active scan failed", "error", err)
		}
		return
	}
	for _, payload := range entries {
		job, err := decodeJob(payload)
		if err != nil {
			b.client.LRem(ctx, b.activeKey(), 1, payload)
			continue
		}
		alive, err := b.client.Exists(ctx, b.leaseKey(job.VideoID)).Result()
		if err != nil || alive > 0 {
			continue
		}
		removed, err := b.client.LRem(ctx, b.activeKey(), 1, payload).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, b.waitKey(), payload).Err(); err != nil {
			b.logger.Error("redis reap requeue failed", "videoId", job.VideoID, "error", err)
			continue
		}
		b.logger.Warn("requeued abandoned transcode job", "videoId", job.VideoID, "attempt", job.Attempt)
	}
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

var _ Backend = (*RedisBackend)(nil)
