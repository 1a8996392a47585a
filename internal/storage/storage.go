package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vodserve/internal/models"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	ownerKeySaltLength  = 16
	ownerKeyHashLength  = 32
	ownerKeyIterations  = 120000
	ownerKeySecretBytes = 24
)

type dataset struct {
	Channels map[string]models.Channel `json:"channels"`
	Videos   map[string]models.Video   `json:"videos"`
}

// Storage is the in-memory repository. When a snapshot path is configured
// every mutation is persisted as a JSON snapshot and rolled back if the
// write fails.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithSnapshotPath enables JSON snapshot persistence at the given path.
func WithSnapshotPath(path string) Option {
	return func(s *Storage) {
		s.filePath = strings.TrimSpace(path)
	}
}

// NewStorage builds an in-memory repository, loading an existing snapshot
// when one is configured and present.
func NewStorage(opts ...Option) (*Storage, error) {
	s := &Storage{data: newDataset()}
	for _, opt := range opts {
		opt(s)
	}
	if s.filePath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newDataset() dataset {
	return dataset{
		Channels: make(map[string]models.Channel),
		Videos:   make(map[string]models.Video),
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.filePath, err)
	}
	if data.Channels == nil {
		data.Channels = make(map[string]models.Channel)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]models.Video)
	}
	s.data = data
	return nil
}

// persist writes the dataset while the caller holds the write lock.
func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	if s.filePath == "" {
		return nil
	}
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), s.filePath)
}

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func generateOwnerSecret() (string, error) {
	bytes := make([]byte, ownerKeySecretBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate owner secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func hashOwnerSecret(secret string) (string, error) {
	salt := make([]byte, ownerKeySaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), salt, ownerKeyIterations, ownerKeyHashLength, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(derived), nil
}

func verifyOwnerSecret(secret, encoded string) bool {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	derived := pbkdf2.Key([]byte(secret), salt, ownerKeyIterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(derived, expected) == 1
}

// normalizeText trims and NFC-normalizes user-supplied text so equivalent
// Unicode sequences compare equal in the store.
func normalizeText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
