// Package schedule decides when each configured list is synchronized and
// records the outcome of successful runs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/retry"
	"github.com/cybertec-postgresql/list_sync/internal/state"
	"github.com/cybertec-postgresql/list_sync/internal/sync"
)

const (
	// DefaultCheckInterval is the pause between two passes over all lists
	DefaultCheckInterval = 60 * time.Second
	// DefaultStaleness is how old the last successful run may get before a list is synced again
	DefaultStaleness = 2 * time.Hour
	// DefaultQuitFile stops the controller when present after a pause
	DefaultQuitFile = "state/controller.quit"
)

// Mode tells whether a run loads a list from scratch or picks up changes
type Mode string

const (
	ModeLoad Mode = "LOAD"
	ModeSync Mode = "SYNC"
)

// Runner executes one synchronization
type Runner interface {
	Run(ctx context.Context, p sync.RunParams) (*sync.RunResult, error)
}

// Config holds the controller settings
type Config struct {
	CheckInterval time.Duration
	Staleness     time.Duration
	QuitFile      string
	// Once stops after the first pass without pausing
	Once bool
}

// Controller runs due lists one after another
type Controller struct {
	store  state.Store
	runner Runner
	cfg    Config
	now    func() time.Time
	policy retry.Policy
}

// Option configures the controller
type Option func(*Controller)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithRecordPolicy sets the retry policy for writing state back
func WithRecordPolicy(p retry.Policy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// NewController creates a controller, filling unset durations with defaults
func NewController(store state.Store, runner Runner, cfg Config, opts ...Option) *Controller {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	c := &Controller{
		store:  store,
		runner: runner,
		cfg:    cfg,
		now:    time.Now,
		policy: retry.StatePolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsDue reports whether a list last synced at lastSync needs a run at now
func IsDue(lastSync *time.Time, now time.Time, staleness time.Duration) bool {
	return lastSync == nil || lastSync.Add(staleness).Before(now)
}

// ModeFor returns LOAD for lists that were never synced
func ModeFor(lastSync *time.Time) Mode {
	if lastSync == nil {
		return ModeLoad
	}
	return ModeSync
}

// Start loops over all lists until ctx is done, the quit file shows up or,
// with Once, after the first pass
func (c *Controller) Start(ctx context.Context) error {
	logrus.Info("Controller starting")
	for {
		if err := c.CheckAll(ctx); err != nil {
			return err
		}
		if c.cfg.Once {
			logrus.Info("Controller done after a single pass")
			return nil
		}

		logrus.Infof("Controller sleeping for %s", c.cfg.CheckInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.CheckInterval):
		}

		if c.shouldQuit() {
			logrus.Warn("Controller done")
			return nil
		}
	}
}

// CheckAll makes one pass over all lists. Only state store failures and
// cancellation are returned; failed runs are retried on a later pass.
func (c *Controller) CheckAll(ctx context.Context) error {
	entries, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	logrus.WithField("lists", len(entries)).Info("Checking all lists")
	for _, e := range entries {
		if err := c.check(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) check(ctx context.Context, e state.Entry) error {
	p, err := e.RunParams()
	if err != nil {
		logrus.WithError(err).WithField("entry", e).Warn(`Failed to load "list_id", entry is ignored`)
		return nil
	}
	log := logrus.WithField("source", p.SourceID)

	if !IsDue(p.Since, c.now(), c.cfg.Staleness) {
		log.Infof("List up to date, last updated on %s", state.FormatTimestamp(*p.Since))
		return nil
	}
	log.WithField("mode", ModeFor(p.Since)).Info("List requires a run, firing")

	res, err := c.runner.Run(ctx, p)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, sync.ErrInvalidParams):
		log.WithError(err).Warn("List skipped")
		return nil
	case err != nil:
		log.WithError(err).Error("Sync failed")
		return nil
	case !res.Success:
		log.WithField("failures", res.Failures).Warn("Sync unsuccessful, state not updated")
		return nil
	}

	rec := state.NewRunRecord(p.SourceID, res)
	err = retry.Do(ctx, c.policy, "state update", func(ctx context.Context) error {
		err := c.store.Record(ctx, rec)
		if errors.Is(err, state.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, state.ErrNotFound) {
		log.WithError(err).Warn("List removed from state during the run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record run of %s: %w", p.SourceID, err)
	}
	return nil
}

// shouldQuit removes the quit file and reports whether it was present
func (c *Controller) shouldQuit() bool {
	if c.cfg.QuitFile == "" {
		return false
	}
	if _, err := os.Stat(c.cfg.QuitFile); err != nil {
		return false
	}
	if err := os.Remove(c.cfg.QuitFile); err != nil {
		logrus.WithError(err).WithField("path", c.cfg.QuitFile).Warn("Failed to remove quit file")
	}
	return true
}
