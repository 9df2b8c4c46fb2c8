// Package discord implements the subset of the Discord API needed for login:
// authorization-code exchange plus authenticated reads of the user's
// identity, guild list, and per-guild member roles.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/discordgate/discordgate/internal/config"
)

const defaultAPIBaseURL = "https://discord.com/api/v10"

// ErrNotGuildMember is returned by FetchGuildMemberRoles when Discord reports
// that the user is not a member of the requested guild.
var ErrNotGuildMember = errors.New("discord: user is not a member of the guild")

// Identity holds the authenticated user's profile from /users/@me.
type Identity struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email"`
}

// Client performs OAuth2 and API calls against Discord
type Client struct {
	oauth      *oauth2.Config
	prompt     string
	apiBaseURL string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the OAuth2 endpoint, for tests.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *Client) {
		c.oauth.Endpoint = endpoint
	}
}

// WithAPIBaseURL overrides the REST API base URL, for tests.
func WithAPIBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.apiBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewClient creates a Discord client from the application config
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.Discord.ClientID,
			ClientSecret: cfg.Discord.ClientSecret,
			Endpoint:     endpoints.Discord,
			RedirectURL:  cfg.RedirectURI(),
			Scopes:       cfg.Discord.Scopes(),
		},
		prompt:     cfg.Discord.Prompt,
		apiBaseURL: defaultAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL returns the Discord authorization URL for the login redirect.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", c.prompt))
}

// ExchangeCode exchanges an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

// IsCodeRejected reports whether an ExchangeCode error means Discord rejected
// the authorization code itself, as opposed to some other failure.
func IsCodeRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	// Older token endpoint responses carry the code only in the body.
	return strings.Contains(string(retrieveErr.Body), "invalid_grant")
}

// GrantedScopes returns the scopes Discord actually granted for a token. The
// token endpoint reports them space-delimited in the "scope" field.
func GrantedScopes(token *oauth2.Token) []string {
	raw, _ := token.Extra("scope").(string)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// FetchIdentity fetches the authenticated user's profile.
func (c *Client) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	var identity Identity
	if err := c.get(ctx, token, "/users/@me", &identity); err != nil {
		return nil, err
	}

	if identity.ID == "" {
		return nil, fmt.Errorf("identity response missing user id")
	}
	if identity.Email != nil && *identity.Email == "" {
		identity.Email = nil
	}

	return &identity, nil
}

// FetchUserGuilds fetches the IDs of the guilds the user belongs to. Requires
// the "guilds" scope.
func (c *Client) FetchUserGuilds(ctx context.Context, token *oauth2.Token) ([]string, error) {
	var guilds []struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, token, "/users/@me/guilds", &guilds); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(guilds))
	for _, g := range guilds {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// FetchGuildMemberRoles fetches the role IDs the user holds in a guild.
// Requires the "guilds.members.read" scope, which is distinct from the
// "guilds" scope used for the guild list. Returns ErrNotGuildMember when the
// user does not belong to the guild.
func (c *Client) FetchGuildMemberRoles(ctx context.Context, token *oauth2.Token, guildID string) ([]string, error) {
	var member struct {
		Roles []string `json:"roles"`
	}

	err := c.get(ctx, token, "/users/@me/guilds/"+guildID+"/member", &member)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("guild %s: %w", guildID, ErrNotGuildMember)
		}
		return nil, err
	}

	return member.Roles, nil
}

// APIError represents a non-2xx response from the Discord API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord API %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// get issues an authenticated GET against the Discord API and decodes the
// JSON response into out.
func (c *Client) get(ctx context.Context, token *oauth2.Token, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}

	// oauth2's client injects the Authorization header and refreshes the
	// token if a refresh token is present.
	resp, err := c.oauth.Client(c.withHTTPClient(ctx), token).Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}

	return nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
