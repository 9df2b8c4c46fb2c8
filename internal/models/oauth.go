package models

import "time"

// OAuthState represents a one-time state parameter for the OAuth2
// authorization flow, used for CSRF protection on the callback.
type OAuthState struct {
	ID        int       `json:"id" gorm:"primaryKey;autoIncrement"`
	State     string    `json:"state" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
}

// TableName specifies the table name for OAuthState
func (OAuthState) TableName() string {
	return "oauth_states"
}

// IsExpired checks if the state has expired
func (s *OAuthState) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
