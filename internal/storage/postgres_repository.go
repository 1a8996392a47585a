package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vodserve/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migrations before returning.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...PostgresOption) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.QueryTimeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const videoColumns = "id, channel_id, title, description, language, status, is_published, is_deleted, thumbnail, original_asset, renditions, available_resolutions, created_at, updated_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var (
		video          models.Video
		originalAsset  []byte
		renditionsJSON []byte
	)
	err := row.Scan(
		&video.ID,
		&video.ChannelID,
		&video.Title,
		&video.Description,
		&video.Language,
		&video.Status,
		&video.IsPublished,
		&video.IsDeleted,
		&video.Thumbnail,
		&originalAsset,
		&renditionsJSON,
		&video.AvailableResolutions,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	if err != nil {
		return models.Video{}, err
	}
	if len(originalAsset) > 0 {
		var asset models.MediaInfo
		if err := json.Unmarshal(originalAsset, &asset); err != nil {
			return models.Video{}, fmt.Errorf("decode original asset for %s: %w", video.ID, err)
		}
		video.OriginalAsset = &asset
	}
	if len(renditionsJSON) > 0 {
		if err := json.Unmarshal(renditionsJSON, &video.Renditions); err != nil {
			return models.Video{}, fmt.Errorf("decode renditions for %s: %w", video.ID, err)
		}
	}
	return video, nil
}

func encodeOptionalJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return payload, nil
}

func (r *postgresRepository) CreateChannel(params CreateChannelParams) (models.Channel, string, error) {
	name := normalizeText(params.Name)
	if name == "" {
		return models.Channel{}, "", fmt.Errorf("channel name is required")
	}
	id, err := generateID()
	if err != nil {
		return models.Channel{}, "", err
	}
	secret, err := generateOwnerSecret()
	if err != nil {
		return models.Channel{}, "", err
	}
	hash, err := hashOwnerSecret(secret)
	if err != nil {
		return models.Channel{}, "", err
	}
	channel := models.Channel{
		ID:           id,
		Name:         name,
		OwnerKeyHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		"INSERT INTO channels (id, name, owner_key_hash, created_at) VALUES ($1, $2, $3, $4)",
		channel.ID, channel.Name, channel.OwnerKeyHash, channel.CreatedAt)
	if err != nil {
		return models.Channel{}, "", fmt.Errorf("insert channel: %w", err)
	}
	return channel, id + "." + secret, nil
}

func (r *postgresRepository) GetChannel(id string) (models.Channel, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	var channel models.Channel
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, owner_key_hash, created_at FROM channels WHERE id = $1", id).
		Scan(&channel.ID, &channel.Name, &channel.OwnerKeyHash, &channel.CreatedAt)
	if err != nil {
		return models.Channel{}, false
	}
	return channel, true
}

func (r *postgresRepository) ListChannels() []models.Channel {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT id, name, owner_key_hash, created_at FROM channels ORDER BY created_at")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var channels []models.Channel
	for rows.Next() {
		var channel models.Channel
		if err := rows.Scan(&channel.ID, &channel.Name, &channel.OwnerKeyHash, &channel.CreatedAt); err != nil {
			return nil
		}
		channels = append(channels, channel)
	}
	if rows.Err() != nil {
		return nil
	}
	return channels
}

func (r *postgresRepository) AuthenticateOwner(key string) (models.Channel, bool) {
	channelID, secret, ok := splitOwnerKey(key)
	if !ok {
		return models.Channel{}, false
	}
	channel, exists := r.GetChannel(channelID)
	if !exists {
		return models.Channel{}, false
	}
	if !verifyOwnerSecret(secret, channel.OwnerKeyHash) {
		return models.Channel{}, false
	}
	return channel, true
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := normalizeText(params.Title)
	if title == "" {
		return models.Video{}, fmt.Errorf("video title is required")
	}
	if _, ok := r.GetChannel(params.ChannelID); !ok {
		return models.Video{}, ErrChannelNotFound
	}
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	asset := params.OriginalAsset
	now := time.Now().UTC()
	video := models.Video{
		ID:            id,
		ChannelID:     params.ChannelID,
		Title:         title,
		Description:   normalizeText(params.Description),
		Language:      normalizeText(params.Language),
		Status:        models.StatusReadyForProcessing,
		Thumbnail:     params.Thumbnail,
		OriginalAsset: &asset,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	assetJSON, err := encodeOptionalJSON(video.OriginalAsset)
	if err != nil {
		return models.Video{}, err
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		"INSERT INTO videos (id, channel_id, title, description, language, status, is_published, is_deleted, thumbnail, original_asset, renditions, available_resolutions, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		video.ID, video.ChannelID, video.Title, video.Description, video.Language,
		string(video.Status), video.IsPublished, video.IsDeleted, video.Thumbnail,
		assetJSON, nil, []string{}, video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		"SELECT "+videoColumns+" FROM videos WHERE id = $1", id))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) ListVideos(channelID string) ([]models.Video, error) {
	if channelID != "" {
		if _, ok := r.GetChannel(channelID); !ok {
			return nil, ErrChannelNotFound
		}
	}
	ctx, cancel := r.opContext()
	defer cancel()
	query := "SELECT " + videoColumns + " FROM videos WHERE NOT is_deleted"
	args := []any{}
	if channelID != "" {
		query += " AND channel_id = $1"
		args = append(args, channelID)
	}
	query += " ORDER BY created_at DESC, id"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()
	videos := make([]models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

func (r *postgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	current, ok := r.GetVideo(id)
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if current.IsDeleted {
		return models.Video{}, ErrVideoDeleted
	}

	title := current.Title
	if update.Title != nil {
		title = normalizeText(*update.Title)
		if title == "" {
			return models.Video{}, fmt.Errorf("video title is required")
		}
	}
	description := current.Description
	if update.Description != nil {
		description = normalizeText(*update.Description)
	}
	language := current.Language
	if update.Language != nil {
		language = normalizeText(*update.Language)
	}
	thumbnail := current.Thumbnail
	if update.Thumbnail != nil {
		thumbnail = *update.Thumbnail
	}

	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		"UPDATE videos SET title = $2, description = $3, language = $4, thumbnail = $5, updated_at = $6 WHERE id = $1 AND NOT is_deleted RETURNING "+videoColumns,
		id, title, description, language, thumbnail, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrVideoDeleted
		}
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) UpdateVideoStatus(id string, expect []models.VideoStatus, update StatusUpdate) (models.Video, error) {
	if !models.KnownStatus(update.Status) {
		return models.Video{}, fmt.Errorf("unknown video status %q", update.Status)
	}
	current, ok := r.GetVideo(id)
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if current.IsDeleted {
		return models.Video{}, ErrVideoDeleted
	}
	if !models.CanTransition(current.Status, update.Status) {
		return models.Video{}, fmt.Errorf("%w: cannot move %s from %s to %s", ErrInvalidState, id, current.Status, update.Status)
	}

	// The expectation doubles as the guard in the WHERE clause so concurrent
	// writers race on the database row, not on the read above.
	expected := make([]string, 0, len(expect))
	for _, status := range expect {
		expected = append(expected, string(status))
	}
	if len(expected) == 0 {
		for _, status := range models.AllStatuses() {
			expected = append(expected, string(status))
		}
	}

	renditionsJSON, err := encodeOptionalJSON(update.Renditions)
	if err != nil {
		return models.Video{}, err
	}

	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		`UPDATE videos SET
			status = $3,
			is_published = $4,
			renditions = COALESCE($5, renditions),
			available_resolutions = CASE WHEN $6::TEXT[] IS NULL THEN available_resolutions ELSE $6 END,
			original_asset = CASE WHEN $7 THEN NULL ELSE original_asset END,
			updated_at = $8
		WHERE id = $1 AND NOT is_deleted AND status = ANY($2)
		RETURNING `+videoColumns,
		id, expected, string(update.Status), update.Status == models.StatusPublished,
		renditionsJSON, update.AvailableResolutions, update.ClearOriginalAsset, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, fmt.Errorf("%w: video %s is no longer in an expected status", ErrInvalidState, id)
		}
		return models.Video{}, fmt.Errorf("update video status: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) DeleteVideo(id string) (models.Video, error) {
	current, ok := r.GetVideo(id)
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if current.IsDeleted {
		return models.Video{}, ErrAlreadyDeleted
	}

	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		"UPDATE videos SET status = $2, is_published = FALSE, is_deleted = TRUE, updated_at = $3 WHERE id = $1 AND NOT is_deleted RETURNING "+videoColumns,
		id, string(models.StatusDeleted), time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrAlreadyDeleted
		}
		return models.Video{}, fmt.Errorf("delete video: %w", err)
	}
	return video, nil
}

var _ Repository = (*postgresRepository)(nil)
