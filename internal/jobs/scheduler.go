// Package jobs runs the background maintenance work: expired OAuth state
// cleanup and periodic refresh of cached guild roles.
package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"github.com/discordgate/discordgate/internal/config"
	"github.com/discordgate/discordgate/internal/discord"
	"github.com/discordgate/discordgate/internal/metrics"
	"github.com/discordgate/discordgate/internal/store"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron      *cron.Cron
	cfg       *config.Config
	users     *store.UserStore
	states    *store.StateStore
	discord   *discord.Client
	collector *metrics.Collector
}

// NewScheduler creates a new job scheduler
func NewScheduler(cfg *config.Config, users *store.UserStore, states *store.StateStore, dc *discord.Client, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		cfg:       cfg,
		users:     users,
		states:    states,
		discord:   dc,
		collector: collector,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Clean up expired OAuth states every 10 minutes
	s.cron.AddFunc("*/10 * * * *", func() {
		s.cleanupExpiredStates()
	})

	// Cached roles otherwise only refresh when a user logs in, so stale
	// role changes are picked up nightly.
	if s.cfg.Discord.GuildRolesEnabled {
		s.cron.AddFunc("45 4 * * *", func() {
			log.Println("Jobs: Running role re-sync...")
			s.resyncRoles()
		})
	}

	s.cron.Start()
	log.Println("Job scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

func (s *Scheduler) cleanupExpiredStates() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.states.DeleteExpired(ctx)
	if err != nil {
		log.Println("Jobs: Failed to delete expired states:", err)
		return
	}
	if deleted > 0 {
		log.Printf("Jobs: Deleted %d expired OAuth states", deleted)
	}
}

// resyncRoles refreshes the cached roles of every stored user from the
// Discord API. Failures only log; a user's gating decision is never revisited
// outside a login attempt.
func (s *Scheduler) resyncRoles() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	users, err := s.users.List(ctx)
	if err != nil {
		log.Println("Jobs: Failed to list users for role re-sync:", err)
		return
	}

	for _, user := range users {
		token := &oauth2.Token{AccessToken: user.AccessToken}
		if user.RefreshToken != nil {
			token.RefreshToken = *user.RefreshToken
		}

		roles := make(map[string][]string)
		failed := false
		for _, rule := range s.cfg.Discord.GuildRoles {
			memberRoles, err := s.discord.FetchGuildMemberRoles(ctx, token, rule.GuildID)
			if err != nil {
				if errors.Is(err, discord.ErrNotGuildMember) {
					continue
				}
				log.Printf("Jobs: Role re-sync for %s failed on guild %s: %v", user.ID, rule.GuildID, err)
				failed = true
				break
			}
			roles[rule.GuildID] = memberRoles
		}
		if failed {
			s.collector.RecordRoleResync("error")
			continue
		}

		if err := s.users.UpdateCachedRoles(ctx, user.ID, roles); err != nil {
			log.Printf("Jobs: Failed to store roles for %s: %v", user.ID, err)
			s.collector.RecordRoleResync("error")
			continue
		}
		s.collector.RecordRoleResync("ok")
	}
}
