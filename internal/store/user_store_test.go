package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/discordgate/discordgate/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func TestUserStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	sealer := newTestSealer(t)
	store := NewUserStore(db, sealer)

	sealed, err := sealer.Seal("plain-token")
	require.NoError(t, err)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "access_token", "refresh_token", "cached_roles", "created_at", "updated_at"}).
		AddRow("100", "wumpus", "w@example.com", sealed, nil, `{"111":["adminRole"]}`, now, now)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id =`).
		WithArgs("100", 1).
		WillReturnRows(rows)

	user, err := store.Get(context.Background(), "100")

	require.NoError(t, err)
	assert.Equal(t, "wumpus", user.Username)
	assert.Equal(t, "plain-token", user.AccessToken)
	assert.Equal(t, map[string][]string{"111": {"adminRole"}}, user.CachedRoles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUserStore(db, nil)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), "100")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserStore_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUserStore(db, nil)

	mock.ExpectExec(`DELETE FROM "users" WHERE id =`).
		WithArgs("100").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), "100")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_UpdateCachedRoles(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewUserStore(db, nil)

	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateCachedRoles(context.Background(), "100", map[string][]string{"111": {"adminRole"}})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUser_CachedRolesSerialization(t *testing.T) {
	user := models.User{
		CachedRoles: map[string][]string{"111": {"adminRole", "memberRole"}},
	}

	require.NoError(t, user.BeforeSave())
	assert.JSONEq(t, `{"111":["adminRole","memberRole"]}`, user.CachedRolesRaw)

	loaded := models.User{CachedRolesRaw: user.CachedRolesRaw}
	require.NoError(t, loaded.AfterLoad())
	assert.Equal(t, user.CachedRoles, loaded.CachedRoles)
	assert.True(t, loaded.HasRole("111", "adminRole"))
	assert.False(t, loaded.HasRole("111", "otherRole"))
	assert.Empty(t, loaded.RolesIn("222"))
}
