// Package authz decides whether a Discord login attempt is allowed. Given an
// authorization code it exchanges the code, fetches the user's identity, and
// applies the configured guild and role gating before the user record is
// persisted. Every failure maps to a stable message key.
package authz

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/oauth2"

	"github.com/discordgate/discordgate/internal/config"
	"github.com/discordgate/discordgate/internal/discord"
	"github.com/discordgate/discordgate/internal/models"
)

// DiscordAPI is the Discord collaborator consumed by the engine.
type DiscordAPI interface {
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*discord.Identity, error)
	FetchUserGuilds(ctx context.Context, token *oauth2.Token) ([]string, error)
	FetchGuildMemberRoles(ctx context.Context, token *oauth2.Token, guildID string) ([]string, error)
}

// UserStore persists authorized users. Upsert must be atomic per user ID and
// must leave cached_roles untouched when the record's CachedRoles is nil.
type UserStore interface {
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
	Delete(ctx context.Context, userID string) error
}

// Result is a successful login decision.
type Result struct {
	User *models.User
	// MessageKey is the success message key for the session layer.
	MessageKey string
	Message    string
}

// Engine is the login authorization engine. It is safe for concurrent use;
// the config is read-only after construction and each Authorize call is
// independent.
type Engine struct {
	cfg      *config.DiscordConfig
	api      DiscordAPI
	store    UserStore
	messages Messages
}

// NewEngine creates an Engine for the given gating configuration.
func NewEngine(cfg *config.DiscordConfig, api DiscordAPI, store UserStore) *Engine {
	return &Engine{
		cfg:      cfg,
		api:      api,
		store:    store,
		messages: NewMessages(cfg.MessageOverrides),
	}
}

// Messages returns the engine's resolved message table.
func (e *Engine) Messages() Messages {
	return e.messages
}

// Authorize runs the login decision for an authorization code. Stages run in
// order and the first failure short-circuits the rest:
//
//  1. code validation
//  2. token exchange
//  3. identity fetch (email required when the email scope is configured)
//  4. guild-only gating
//  5. guild-role gating
//  6. user upsert
//
// Guild-only and role gating are independent toggles; both run when both are
// enabled. The record is never written on a DENY.
func (e *Engine) Authorize(ctx context.Context, code string) (*Result, *Error) {
	if code == "" {
		return nil, e.errorOf(KindMissingCode, nil)
	}

	token, err := e.api.ExchangeCode(ctx, code)
	if err != nil {
		if discord.IsCodeRejected(err) {
			return nil, e.errorOf(KindInvalidCode, err)
		}
		return nil, e.errorOf(KindAuthorizationFailed, err)
	}

	identity, err := e.api.FetchIdentity(ctx, token)
	if err != nil {
		return nil, e.errorOf(KindAuthorizationFailed, err)
	}
	if e.cfg.HasScope("email") && identity.Email == nil {
		return nil, e.errorOf(KindMissingEmail, nil)
	}

	if e.cfg.GuildOnly {
		if authzErr := e.checkGuildOnly(ctx, token); authzErr != nil {
			return nil, authzErr
		}
	}

	var fetchedRoles map[string][]string
	if e.cfg.GuildRolesEnabled {
		roles, authzErr := e.checkGuildRoles(ctx, token)
		if authzErr != nil {
			return nil, authzErr
		}
		fetchedRoles = roles
	}

	user := &models.User{
		ID:          identity.ID,
		Username:    identity.Username,
		Email:       identity.Email,
		AccessToken: token.AccessToken,
		CachedRoles: fetchedRoles,
	}
	if token.RefreshToken != "" {
		refresh := token.RefreshToken
		user.RefreshToken = &refresh
	}

	saved, err := e.store.Upsert(ctx, user)
	if err != nil {
		return nil, e.errorOf(KindDatabaseError, err)
	}

	return &Result{
		User:       saved,
		MessageKey: MsgUserAuthenticated,
		Message:    e.messages.Get(MsgUserAuthenticated),
	}, nil
}

// checkGuildOnly denies the login unless the user belongs to at least one of
// the allowed guilds.
func (e *Engine) checkGuildOnly(ctx context.Context, token *oauth2.Token) *Error {
	if !hasGrantedScope(token, e.cfg, "guilds") {
		return e.errorOf(KindMissingGuildsScope, nil)
	}

	guildIDs, err := e.api.FetchUserGuilds(ctx, token)
	if err != nil {
		return e.errorOf(KindAuthorizationFailedGuilds, err)
	}

	for _, id := range guildIDs {
		for _, allowed := range e.cfg.Guilds {
			if id == allowed {
				return nil
			}
		}
	}

	return e.errorOf(KindNotMemberGuildOnly, nil)
}

// checkGuildRoles fetches the user's roles in every configured guild and
// denies the login unless at least one guild yields a required role. Fetches
// run concurrently; when several fail the error reported is the one for the
// first guild in configuration order, so transient failures surface
// deterministically.
func (e *Engine) checkGuildRoles(ctx context.Context, token *oauth2.Token) (map[string][]string, *Error) {
	if token.AccessToken == "" {
		return nil, e.errorOf(KindMissingAccessToken, nil)
	}

	type roleResult struct {
		roles  []string
		member bool
		err    error
	}

	results := make([]roleResult, len(e.cfg.GuildRoles))
	var wg sync.WaitGroup
	for i, rule := range e.cfg.GuildRoles {
		wg.Add(1)
		go func(i int, guildID string) {
			defer wg.Done()
			roles, err := e.api.FetchGuildMemberRoles(ctx, token, guildID)
			if err != nil {
				if errors.Is(err, discord.ErrNotGuildMember) {
					return
				}
				results[i].err = err
				return
			}
			results[i].roles = roles
			results[i].member = true
		}(i, rule.GuildID)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return nil, e.errorOf(KindAuthorizationFailedRoles, r.err)
		}
	}

	fetched := make(map[string][]string)
	allowed := false
	for i, rule := range e.cfg.GuildRoles {
		if !results[i].member {
			continue
		}
		fetched[rule.GuildID] = results[i].roles
		if holdsAny(results[i].roles, rule.RoleIDs) {
			allowed = true
		}
	}

	if !allowed {
		return nil, e.errorOf(KindMissingRole, nil)
	}

	return fetched, nil
}

// DeleteAccount removes the user record. There are no cascading side effects
// beyond the removal itself.
func (e *Engine) DeleteAccount(ctx context.Context, userID string) (string, *Error) {
	if err := e.store.Delete(ctx, userID); err != nil {
		return "", e.errorOf(KindDatabaseError, err)
	}
	log.Printf("Authz: Deleted account %s", userID)
	return e.messages.Get(MsgUserDeleted), nil
}

// hasGrantedScope checks the scopes Discord reported on the token, falling
// back to the configured scopes when the token response omitted them.
func hasGrantedScope(token *oauth2.Token, cfg *config.DiscordConfig, scope string) bool {
	granted := discord.GrantedScopes(token)
	if granted == nil {
		return cfg.HasScope(scope)
	}
	for _, s := range granted {
		if s == scope {
			return true
		}
	}
	return false
}

func holdsAny(held, required []string) bool {
	for _, h := range held {
		for _, r := range required {
			if h == r {
				return true
			}
		}
	}
	return false
}
