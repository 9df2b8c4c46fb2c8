package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/discordgate/discordgate/internal/models"
)

// ErrStateNotFound is returned when a state parameter is unknown or expired.
var ErrStateNotFound = errors.New("store: oauth state not found or expired")

const stateTTL = 10 * time.Minute

// StateStore persists one-time OAuth state parameters.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore creates a StateStore
func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// Create generates a random state parameter and persists it with a ten
// minute expiry.
func (s *StateStore) Create(ctx context.Context) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)

	record := models.OAuthState{
		State:     state,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(stateTTL),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}

	return state, nil
}

// Consume verifies a state parameter and deletes it. States are one-time
// use; a second callback with the same state fails.
func (s *StateStore) Consume(ctx context.Context, state string) error {
	var record models.OAuthState
	err := s.db.WithContext(ctx).
		Where("state = ? AND expires_at > ?", state, time.Now()).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrStateNotFound
	}
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Delete(&record).Error
}

// DeleteExpired removes expired states and returns how many were deleted.
func (s *StateStore) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.OAuthState{})
	return result.RowsAffected, result.Error
}
