package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	AppURL      string `env:"APP_URL" envDefault:"http://localhost:8000"`
	JWTSecret   string `env:"JWT_SECRET"`

	// Key used to seal OAuth tokens at rest. Base64, 32 bytes decoded.
	TokenSealKey string `env:"TOKEN_SEAL_KEY"`

	Database DatabaseConfig
	Discord  DiscordConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string `env:"DATABASE_TYPE" envDefault:"postgres"`
	DSN          string `env:"DATABASE_DSN"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"discordgate"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"secret"`
	Name     string `env:"POSTGRES_DB" envDefault:"discordgate"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
}

// DiscordConfig holds the Discord application settings and login gating rules.
type DiscordConfig struct {
	ClientID     string `env:"LARASCORD_CLIENT_ID"`
	ClientSecret string `env:"LARASCORD_CLIENT_SECRET"`
	GrantType    string `env:"LARASCORD_GRANT_TYPE" envDefault:"authorization_code"`
	Prefix       string `env:"LARASCORD_PREFIX" envDefault:"larascord"`

	// Ampersand-delimited OAuth2 scopes, e.g. "identify&email".
	Scope string `env:"LARASCORD_SCOPE" envDefault:"identify&email"`

	// "none" skips the authorization screen for previously authorized
	// users, "consent" always asks for re-approval.
	Prompt string `env:"LARASCORD_PROMPT" envDefault:"none"`

	// Guild-only login: users must be a member of at least one of Guilds.
	GuildOnly bool     `env:"LARASCORD_GUILD_ONLY" envDefault:"false"`
	Guilds    []string `env:"LARASCORD_GUILDS"`

	// Guild-role gating: users must hold one of the listed roles in one of
	// the listed guilds. GuildRolesRaw is a JSON object mapping guild IDs to
	// role ID arrays; declaration order is kept for deterministic error
	// reporting.
	GuildRolesEnabled bool   `env:"LARASCORD_GUILD_ROLES_ENABLED" envDefault:"false"`
	GuildRolesRaw     string `env:"LARASCORD_GUILD_ROLES"`
	GuildRoles        []GuildRoleRule

	// Optional JSON overrides for user-facing messages, keyed by message key.
	MessageOverridesRaw string `env:"LARASCORD_MESSAGES"`
	MessageOverrides    map[string]string
}

// GuildRoleRule lists the accepted roles for a single guild.
type GuildRoleRule struct {
	GuildID string
	RoleIDs []string
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = buildPostgresDSN(cfg.Database)
	}
	cfg.JWTSecret = loadJWTSecret(cfg.JWTSecret, cfg.Environment)

	if cfg.Discord.GuildRolesRaw != "" {
		rules, err := parseGuildRoles(cfg.Discord.GuildRolesRaw)
		if err != nil {
			log.Fatalf("Failed to parse LARASCORD_GUILD_ROLES: %v", err)
		}
		cfg.Discord.GuildRoles = rules
	}

	if cfg.Discord.MessageOverridesRaw != "" {
		if err := json.Unmarshal([]byte(cfg.Discord.MessageOverridesRaw), &cfg.Discord.MessageOverrides); err != nil {
			log.Fatalf("Failed to parse LARASCORD_MESSAGES: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN(db DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(db.User, db.Password),
		Host:   fmt.Sprintf("%s:%s", db.Host, db.Port),
		Path:   db.Name,
	}

	query := u.Query()
	query.Set("sslmode", db.SSLMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration. Gating invariants are checked here so
// a broken setup fails at startup instead of at login time.
func (c *Config) Validate() error {
	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Environment == "production" {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.TokenSealKey == "" {
			return fmt.Errorf("TOKEN_SEAL_KEY is required in production")
		}
	}

	if c.TokenSealKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.TokenSealKey)
		if err != nil {
			return fmt.Errorf("TOKEN_SEAL_KEY must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("TOKEN_SEAL_KEY must decode to 32 bytes, got %d", len(key))
		}
	}

	return c.Discord.Validate()
}

// Validate checks the Discord application settings and the gating invariants.
func (d *DiscordConfig) Validate() error {
	if d.ClientID == "" {
		return fmt.Errorf("LARASCORD_CLIENT_ID is required")
	}
	for _, r := range d.ClientID {
		if r < '0' || r > '9' {
			return fmt.Errorf("LARASCORD_CLIENT_ID must be a numeric snowflake")
		}
	}
	if d.ClientSecret == "" {
		return fmt.Errorf("LARASCORD_CLIENT_SECRET is required")
	}
	if d.GrantType != "authorization_code" {
		return fmt.Errorf("LARASCORD_GRANT_TYPE must be \"authorization_code\", got %q", d.GrantType)
	}
	if d.Prefix == "" {
		return fmt.Errorf("LARASCORD_PREFIX must not be empty")
	}
	if d.Prompt != "none" && d.Prompt != "consent" {
		return fmt.Errorf("LARASCORD_PROMPT must be \"none\" or \"consent\", got %q", d.Prompt)
	}

	if d.GuildOnly && len(d.Guilds) == 0 {
		return fmt.Errorf("LARASCORD_GUILDS must not be empty when guild-only login is enabled")
	}

	if d.GuildRolesEnabled {
		if len(d.GuildRoles) == 0 {
			return fmt.Errorf("LARASCORD_GUILD_ROLES must not be empty when guild-role gating is enabled")
		}
		if !d.HasScope("guilds") {
			return fmt.Errorf("the \"guilds\" scope is required when guild-role gating is enabled")
		}
		for _, rule := range d.GuildRoles {
			if len(rule.RoleIDs) == 0 {
				return fmt.Errorf("guild %s has no roles configured", rule.GuildID)
			}
		}
	}

	if (d.GuildOnly || d.GuildRolesEnabled) && !d.HasScope("guilds") {
		return fmt.Errorf("the \"guilds\" scope is required when guild gating is enabled")
	}

	return nil
}

// Scopes returns the configured OAuth2 scopes as a slice.
func (d *DiscordConfig) Scopes() []string {
	var scopes []string
	for _, s := range strings.Split(d.Scope, "&") {
		s = strings.TrimSpace(s)
		if s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// HasScope reports whether the given scope is configured.
func (d *DiscordConfig) HasScope(scope string) bool {
	for _, s := range d.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// RedirectURI derives the OAuth2 redirect URI from the app URL and route
// prefix. It must exactly match the URI registered in the Discord developer
// portal.
func (c *Config) RedirectURI() string {
	return c.AppURL + "/" + c.Discord.Prefix + "/callback"
}

func loadJWTSecret(secret, environment string) string {
	if secret == "" {
		if environment == "production" {
			log.Fatal("FATAL: JWT_SECRET environment variable is required in production")
		}

		log.Println("WARNING: JWT_SECRET not set. Generating random secret for development.")
		log.Println("WARNING: This secret will change on restart. Set JWT_SECRET in production!")
		return generateRandomSecret()
	}

	if len(secret) < 16 {
		log.Fatal("FATAL: JWT_SECRET must be at least 16 characters long")
	}

	return secret
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("Failed to generate random secret:", err)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// parseGuildRoles decodes the guild role table while preserving the
// declaration order of the guild keys. encoding/json maps would randomize
// the order, which matters for deterministic error reporting during the
// per-guild role fetch.
func parseGuildRoles(raw string) ([]GuildRoleRule, error) {
	dec := json.NewDecoder(strings.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var rules []GuildRoleRule
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		guildID, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected a guild ID key, got %v", keyTok)
		}

		var roleIDs []string
		if err := dec.Decode(&roleIDs); err != nil {
			return nil, fmt.Errorf("guild %s: %w", guildID, err)
		}

		rules = append(rules, GuildRoleRule{GuildID: guildID, RoleIDs: roleIDs})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return rules, nil
}
