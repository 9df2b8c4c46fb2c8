package models

import (
	"encoding/json"
	"time"
)

// User represents a Discord user that has been allowed to log in. Records are
// only ever created or updated after the authorization decision is ALLOW.
type User struct {
	// ID is the Discord snowflake of the user.
	ID       string  `json:"id" gorm:"primaryKey"`
	Username string  `json:"username" gorm:"not null"`
	Email    *string `json:"email,omitempty"`

	// OAuth tokens, sealed at rest by the store. Never sent to clients.
	AccessToken  string  `json:"-" gorm:"not null"`
	RefreshToken *string `json:"-"`

	// CachedRoles maps guild IDs to the role IDs the user held in that guild
	// the last time role gating ran. The login flow writes this cache and
	// never reads it; middleware in consuming applications reads it.
	CachedRolesRaw string              `json:"-" gorm:"column:cached_roles"`
	CachedRoles    map[string][]string `json:"cached_roles,omitempty" gorm:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// BeforeSave marshals CachedRoles to JSON
func (u *User) BeforeSave() error {
	if u.CachedRoles != nil {
		rolesJSON, err := json.Marshal(u.CachedRoles)
		if err != nil {
			return err
		}
		u.CachedRolesRaw = string(rolesJSON)
	}
	return nil
}

// AfterLoad unmarshals CachedRoles from JSON
func (u *User) AfterLoad() error {
	if u.CachedRolesRaw != "" {
		return json.Unmarshal([]byte(u.CachedRolesRaw), &u.CachedRoles)
	}
	return nil
}

// RolesIn returns the cached role IDs for a guild.
func (u *User) RolesIn(guildID string) []string {
	return u.CachedRoles[guildID]
}

// HasRole checks whether the cached roles contain the given role in the
// given guild.
func (u *User) HasRole(guildID, roleID string) bool {
	for _, r := range u.CachedRoles[guildID] {
		if r == roleID {
			return true
		}
	}
	return false
}
