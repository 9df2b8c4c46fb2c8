package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/discordgate/discordgate/internal/authz"
	"github.com/discordgate/discordgate/internal/config"
	"github.com/discordgate/discordgate/internal/metrics"
	"github.com/discordgate/discordgate/internal/models"
	"github.com/discordgate/discordgate/internal/store"
)

// Authorizer runs the login authorization decision.
type Authorizer interface {
	Authorize(ctx context.Context, code string) (*authz.Result, *authz.Error)
	DeleteAccount(ctx context.Context, userID string) (string, *authz.Error)
	Messages() authz.Messages
}

// StateStore issues and consumes one-time OAuth state parameters.
type StateStore interface {
	Create(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) error
}

// AuthURLBuilder builds the Discord authorization redirect URL.
type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

// HandleOAuthLogin redirects the user to Discord's authorization screen.
func HandleOAuthLogin(states StateStore, discord AuthURLBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := states.Create(r.Context())
		if err != nil {
			log.Println("OAuth: Failed to create state:", err)
			http.Error(w, "Failed to initiate login", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, discord.AuthCodeURL(state), http.StatusFound)
	}
}

// HandleOAuthCallback processes the OAuth2 callback and runs the login
// authorization decision.
func HandleOAuthCallback(engine Authorizer, states StateStore, cfg *config.Config, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// A Discord-reported denial maps straight to authorization_failed;
		// no token exchange is attempted.
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			log.Println("OAuth: Discord reported error:", errParam)
			collector.RecordLoginDenied(string(authz.KindAuthorizationFailed), time.Since(start))
			writeMessage(w, http.StatusBadGateway, engine.Messages().Get(string(authz.KindAuthorizationFailed)))
			return
		}

		if err := states.Consume(r.Context(), r.URL.Query().Get("state")); err != nil {
			if !errors.Is(err, store.ErrStateNotFound) {
				log.Println("OAuth: Failed to verify state:", err)
			}
			collector.RecordLoginDenied(string(authz.KindAuthorizationFailed), time.Since(start))
			writeMessage(w, http.StatusBadRequest, engine.Messages().Get(string(authz.KindAuthorizationFailed)))
			return
		}

		result, authzErr := engine.Authorize(r.Context(), r.URL.Query().Get("code"))
		if authzErr != nil {
			if cause := authzErr.Unwrap(); cause != nil {
				log.Printf("OAuth: Login denied (%s): %v", authzErr.Kind, cause)
			} else {
				log.Printf("OAuth: Login denied (%s)", authzErr.Kind)
			}
			collector.RecordLoginDenied(string(authzErr.Kind), time.Since(start))
			writeMessage(w, authzErr.HTTPStatus(), authzErr.Message)
			return
		}

		// A logged-in user re-authorizing as a different Discord account is
		// rejected without issuing a new session.
		if sessionID, err := userIDFromRequest(r, cfg.JWTSecret); err == nil && sessionID != result.User.ID {
			log.Printf("OAuth: Session user %s re-authenticated as %s", sessionID, result.User.ID)
			collector.RecordLoginDenied(string(authz.KindInvalidUser), time.Since(start))
			writeMessage(w, http.StatusForbidden, engine.Messages().Get(string(authz.KindInvalidUser)))
			return
		}

		token, err := generateJWT(result.User.ID, cfg.JWTSecret)
		if err != nil {
			log.Println("OAuth: Failed to generate JWT:", err)
			writeMessage(w, http.StatusInternalServerError, "Failed to generate authentication token")
			return
		}

		log.Printf("OAuth: User %s logged in", result.User.ID)
		collector.RecordLoginAllowed(time.Since(start))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{
			Token:   token,
			User:    result.User,
			Message: result.Message,
		})
	}
}

// HandleDeleteAccount removes the authenticated user's record.
func HandleDeleteAccount(engine Authorizer, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)

		message, authzErr := engine.DeleteAccount(r.Context(), user.ID)
		if authzErr != nil {
			log.Printf("OAuth: Failed to delete account %s: %v", user.ID, authzErr)
			writeMessage(w, authzErr.HTTPStatus(), authzErr.Message)
			return
		}

		collector.RecordAccountDeleted()
		writeMessage(w, http.StatusOK, message)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
