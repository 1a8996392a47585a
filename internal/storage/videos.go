package storage

import (
	"fmt"
	"sort"
	"time"

	"vodserve/internal/models"
)

func cloneVideo(video models.Video) models.Video {
	clone := video
	if video.OriginalAsset != nil {
		asset := *video.OriginalAsset
		clone.OriginalAsset = &asset
	}
	if video.Renditions != nil {
		clone.Renditions = make(map[string]models.Rendition, len(video.Renditions))
		for name, rendition := range video.Renditions {
			clone.Renditions[name] = rendition
		}
	}
	if video.AvailableResolutions != nil {
		clone.AvailableResolutions = append([]string(nil), video.AvailableResolutions...)
	}
	return clone
}

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := normalizeText(params.Title)
	if title == "" {
		return models.Video{}, fmt.Errorf("video title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Channels[params.ChannelID]; !ok {
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

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, false
	}
	return cloneVideo(video), true
}

// ListVideos returns the channel's videos newest first. Deleted records are
// excluded; callers that need them have the ID already.
func (s *Storage) ListVideos(channelID string) ([]models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if channelID != "" {
		if _, ok := s.data.Channels[channelID]; !ok {
			return nil, ErrChannelNotFound
		}
	}
	videos := make([]models.Video, 0)
	for _, video := range s.data.Videos {
		if video.IsDeleted {
			continue
		}
		if channelID != "" && video.ChannelID != channelID {
			continue
		}
		videos = append(videos, cloneVideo(video))
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos, nil
}

func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if video.IsDeleted {
		return models.Video{}, ErrVideoDeleted
	}

	previous := video
	if update.Title != nil {
		title := normalizeText(*update.Title)
		if title == "" {
			return models.Video{}, fmt.Errorf("video title is required")
		}
		video.Title = title
	}
	if update.Description != nil {
		video.Description = normalizeText(*update.Description)
	}
	if update.Language != nil {
		video.Language = normalizeText(*update.Language)
	}
	if update.Thumbnail != nil {
		video.Thumbnail = *update.Thumbnail
	}
	video.UpdatedAt = time.Now().UTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) UpdateVideoStatus(id string, expect []models.VideoStatus, update StatusUpdate) (models.Video, error) {
	if !models.KnownStatus(update.Status) {
		return models.Video{}, fmt.Errorf("unknown video status %q", update.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if video.IsDeleted {
		return models.Video{}, ErrVideoDeleted
	}
	if len(expect) > 0 {
		matched := false
		for _, status := range expect {
			if video.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return models.Video{}, fmt.Errorf("%w: video %s is %s", ErrInvalidState, id, video.Status)
		}
	}
	if !models.CanTransition(video.Status, update.Status) {
		return models.Video{}, fmt.Errorf("%w: cannot move %s from %s to %s", ErrInvalidState, id, video.Status, update.Status)
	}

	previous := video
	video.Status = update.Status
	video.IsPublished = update.Status == models.StatusPublished
	if update.Renditions != nil {
		video.Renditions = update.Renditions
	}
	if update.AvailableResolutions != nil {
		video.AvailableResolutions = update.AvailableResolutions
	}
	if update.ClearOriginalAsset {
		video.OriginalAsset = nil
	}
	video.UpdatedAt = time.Now().UTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) DeleteVideo(id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if video.IsDeleted {
		return models.Video{}, ErrAlreadyDeleted
	}

	previous := video
	video.Status = models.StatusDeleted
	video.IsDeleted = true
	video.IsPublished = false
	video.UpdatedAt = time.Now().UTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}
