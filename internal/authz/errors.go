package authz

import "net/http"

// Kind identifies a login failure and selects its user-facing message.
type Kind string

const (
	KindMissingCode               Kind = "missing_code"
	KindInvalidCode               Kind = "invalid_code"
	KindAuthorizationFailed       Kind = "authorization_failed"
	KindMissingEmail              Kind = "missing_email"
	KindInvalidUser               Kind = "invalid_user"
	KindDatabaseError             Kind = "database_error"
	KindMissingGuildsScope        Kind = "missing_guilds_scope"
	KindAuthorizationFailedGuilds Kind = "authorization_failed_guilds"
	KindNotMemberGuildOnly        Kind = "not_member_guild_only"
	KindMissingAccessToken        Kind = "missing_access_token"
	KindAuthorizationFailedRoles  Kind = "authorization_failed_roles"
	KindMissingRole               Kind = "missing_role"
)

// Success message keys.
const (
	MsgUserAuthenticated = "user_authenticated"
	MsgUserDeleted       = "user_deleted"
)

// defaultMessages maps every error and success key to its default user-facing
// text. Deployments can override individual entries via configuration without
// changing engine behavior.
var defaultMessages = map[string]string{
	"missing_code":                "The authorization code is missing.",
	"invalid_code":                "The authorization code is invalid.",
	"authorization_failed":        "The authorization failed.",
	"missing_email":               "Couldn't get your e-mail address.",
	"invalid_user":                "The user ID doesn't match the logged-in user.",
	"database_error":              "There was an error with the database. Please try again later.",
	"missing_guilds_scope":        "The \"guilds\" scope is required.",
	"authorization_failed_guilds": "Couldn't get the servers you're in.",
	"not_member_guild_only":       "You are not allowed to login.",
	"missing_access_token":        "The access token is missing.",
	"authorization_failed_roles":  "Couldn't get the roles you have.",
	"missing_role":                "You are not allowed to login.",
	"user_authenticated":          "You have been logged in.",
	"user_deleted":                "Your account has been deleted.",
}

// Messages resolves message keys to user-facing text.
type Messages map[string]string

// NewMessages returns the default message table with the given overrides
// applied on top.
func NewMessages(overrides map[string]string) Messages {
	m := make(Messages, len(defaultMessages))
	for k, v := range defaultMessages {
		m[k] = v
	}
	for k, v := range overrides {
		if _, known := defaultMessages[k]; known {
			m[k] = v
		}
	}
	return m
}

// Get returns the message for a key, falling back to the key itself.
func (m Messages) Get(key string) string {
	if msg, ok := m[key]; ok {
		return msg
	}
	return key
}

// Error is a terminal login failure. Every collaborator error is translated
// into one of the Kind values before it reaches a caller; no transport or
// store error types leak past the engine.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.cause.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes the collaborator error for logging.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindMissingCode, KindInvalidCode:
		return http.StatusBadRequest
	case KindMissingEmail, KindMissingGuildsScope, KindMissingAccessToken:
		return http.StatusUnauthorized
	case KindNotMemberGuildOnly, KindMissingRole, KindInvalidUser:
		return http.StatusForbidden
	case KindDatabaseError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (e *Engine) errorOf(kind Kind, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: e.messages.Get(string(kind)),
		cause:   cause,
	}
}
