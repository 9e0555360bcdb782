package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultIdleTimeout is how long an episode may sit untouched before the
	// sweep archives it.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultSweepSchedule runs the sweep every five minutes.
	DefaultSweepSchedule = "*/5 * * * *"
)

// Archiver sweeps idle episode transcripts into the archive on a cron
// schedule.
type Archiver struct {
	manager     *Manager
	idleTimeout time.Duration
	schedule    string
	cron        *cron.Cron
	entryID     cron.EntryID
}

// NewArchiver creates an archiver for the given manager.
func NewArchiver(manager *Manager, idleTimeout time.Duration, schedule string) *Archiver {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	return &Archiver{
		manager:     manager,
		idleTimeout: idleTimeout,
		schedule:    schedule,
		cron:        cron.New(),
	}
}

// Start schedules the sweep.
func (a *Archiver) Start() error {
	id, err := a.cron.AddFunc(a.schedule, func() {
		if n, err := a.SweepOnce(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to archive idle sessions")
		} else if n > 0 {
			log.Info().Int("archived", n).Msg("Idle sessions archived")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule archive sweep: %w", err)
	}
	a.entryID = id
	a.cron.Start()

	log.Info().
		Dur("idle_timeout", a.idleTimeout).
		Str("schedule", a.schedule).
		Msg("Session archiver started")
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (a *Archiver) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Session archiver stopped")
}

// SweepOnce archives every episode idle for longer than the timeout and
// returns how many were archived.
func (a *Archiver) SweepOnce(ctx context.Context) (int, error) {
	keys, err := a.manager.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	archived := 0

	for _, key := range keys {
		mod, err := a.manager.LastModified(key)
		if err != nil {
			continue
		}
		if now.Sub(mod) < a.idleTimeout {
			continue
		}
		if err := a.manager.Reset(ctx, key); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Failed to archive idle session")
			continue
		}
		archived++
	}

	return archived, nil
}
