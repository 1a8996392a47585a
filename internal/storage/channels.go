package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"vodserve/internal/models"
)

// Owner keys are issued as "<channelID>.<secret>" so authentication can look
// up the channel before paying for one key derivation.
func splitOwnerKey(key string) (string, string, bool) {
	trimmed := strings.TrimSpace(key)
	idx := strings.IndexByte(trimmed, '.')
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

func (s *Storage) CreateChannel(params CreateChannelParams) (models.Channel, string, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Channels[id] = channel
	if err := s.persist(); err != nil {
		delete(s.data.Channels, id)
		return models.Channel{}, "", err
	}
	return channel, id + "." + secret, nil
}

func (s *Storage) GetChannel(id string) (models.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[id]
	return channel, ok
}

func (s *Storage) ListChannels() []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]models.Channel, 0, len(s.data.Channels))
	for _, channel := range s.data.Channels {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels
}

func (s *Storage) AuthenticateOwner(key string) (models.Channel, bool) {
	channelID, secret, ok := splitOwnerKey(key)
	if !ok {
		return models.Channel{}, false
	}
	s.mu.RLock()
	channel, exists := s.data.Channels[channelID]
	s.mu.RUnlock()
	if !exists {
		return models.Channel{}, false
	}
	if !verifyOwnerSecret(secret, channel.OwnerKeyHash) {
		return models.Channel{}, false
	}
	return channel, true
}
