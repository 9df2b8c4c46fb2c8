// Package store persists authorized users and OAuth flow state.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/discordgate/discordgate/internal/models"
)

// ErrNotFound is returned when a user record does not exist.
var ErrNotFound = errors.New("store: user not found")

// UserStore persists users with GORM. Tokens are sealed before they are
// written and opened again on read.
type UserStore struct {
	db     *gorm.DB
	sealer *Sealer
}

// NewUserStore creates a UserStore
func NewUserStore(db *gorm.DB, sealer *Sealer) *UserStore {
	return &UserStore{db: db, sealer: sealer}
}

// Upsert creates or updates a user record keyed by the Discord snowflake as a
// single atomic statement. Partial field updates never interleave between
// concurrent logins for the same user; the last writer wins wholesale.
// cached_roles is only replaced when the record carries a role map, so logins
// that skipped role gating keep the previous cache.
func (s *UserStore) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	record := *user
	if err := record.BeforeSave(); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(record.AccessToken)
	if err != nil {
		return nil, err
	}
	record.AccessToken = sealed

	if record.RefreshToken != nil {
		sealedRefresh, err := s.sealer.Seal(*record.RefreshToken)
		if err != nil {
			return nil, err
		}
		record.RefreshToken = &sealedRefresh
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	columns := []string{"username", "email", "access_token", "refresh_token", "updated_at"}
	if record.CachedRoles != nil {
		columns = append(columns, "cached_roles")
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&record).Error
	if err != nil {
		return nil, err
	}

	// Re-read so the caller sees the authoritative record; created_at is
	// preserved by the conflict clause on re-logins.
	return s.Get(ctx, record.ID)
}

// Get loads a user by Discord snowflake, opening the sealed tokens.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := user.AfterLoad(); err != nil {
		return nil, err
	}

	opened, err := s.sealer.Open(user.AccessToken)
	if err != nil {
		return nil, err
	}
	user.AccessToken = opened

	if user.RefreshToken != nil {
		openedRefresh, err := s.sealer.Open(*user.RefreshToken)
		if err != nil {
			return nil, err
		}
		user.RefreshToken = &openedRefresh
	}

	return &user, nil
}

// List returns all user records with opened tokens.
func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}

	for i := range users {
		if err := users[i].AfterLoad(); err != nil {
			return nil, err
		}
		opened, err := s.sealer.Open(users[i].AccessToken)
		if err != nil {
			return nil, err
		}
		users[i].AccessToken = opened
		if users[i].RefreshToken != nil {
			openedRefresh, err := s.sealer.Open(*users[i].RefreshToken)
			if err != nil {
				return nil, err
			}
			users[i].RefreshToken = &openedRefresh
		}
	}

	return users, nil
}

// UpdateCachedRoles replaces a user's cached role map.
func (s *UserStore) UpdateCachedRoles(ctx context.Context, userID string, roles map[string][]string) error {
	record := models.User{CachedRoles: roles}
	if err := record.BeforeSave(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"cached_roles": record.CachedRolesRaw,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// Delete removes a user record.
func (s *UserStore) Delete(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("id = ?", userID).Delete(&models.User{}).Error
}
