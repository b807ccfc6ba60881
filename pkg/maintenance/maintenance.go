// Package maintenance runs scheduled housekeeping: archiving stale
// conversation history and pruning old grounding-log entries. It never
// touches conversations with recent activity.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/history"
)

// Config holds the housekeeping schedule and retention windows.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// ArchiveAfter is how long a conversation may stay idle before its
	// turns move to the archive.
	ArchiveAfter time.Duration
	// ActionLogRetention is how long grounding entries are kept.
	ActionLogRetention time.Duration
}

// Service schedules and runs housekeeping passes.
type Service struct {
	history *history.Store
	actions *actionlog.Log
	cfg     Config
	cron    *cron.Cron
}

// New creates a maintenance service.
func New(hist *history.Store, actions *actionlog.Log, cfg Config) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 4 * * *"
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}
	if cfg.ActionLogRetention <= 0 {
		cfg.ActionLogRetention = 24 * time.Hour
	}
	return &Service{
		history: hist,
		actions: actions,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start registers the cron job and begins scheduling.
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, _, err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("maintenance pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.cfg.Schedule).Msg("maintenance scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running pass to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("maintenance scheduler stopped")
}

// RunOnce performs one housekeeping pass and reports how many turns
// were archived and how many grounding entries were pruned.
func (s *Service) RunOnce(ctx context.Context) (archived int64, pruned int, err error) {
	now := time.Now().UTC()

	archived, err = s.history.ArchiveStale(ctx, now.Add(-s.cfg.ArchiveAfter))
	if err != nil {
		return 0, 0, fmt.Errorf("archive stale conversations: %w", err)
	}
	pruned = s.actions.PruneBefore(now.Add(-s.cfg.ActionLogRetention))

	log.Info().
		Int64("archived_turns", archived).
		Int("pruned_actions", pruned).
		Msg("maintenance pass finished")
	return archived, pruned, nil
}
