// Package janitor periodically removes credentials that can no longer be used.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"ediportal.org/internal/obs"
)

// Purger deletes expired reset tokens and refresh-token records.
type Purger interface {
	PurgeExpired(ctx context.Context) (resets, refresh int64, err error)
}

const runTimeout = 30 * time.Second

type Janitor struct {
	purger Purger
	cron   *cron.Cron
}

// New schedules the purge job. schedule accepts standard cron expressions
// and descriptors such as "@every 15m".
func New(p Purger, schedule string) (*Janitor, error) {
	if p == nil {
		return nil, errors.New("janitor: purger is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, errors.New("janitor: schedule is required")
	}
	logger := cron.PrintfLogger(obs.Logger())
	j := &Janitor{
		purger: p,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := j.RunOnce(ctx); err != nil {
		obs.Logger().WithError(err).Error("janitor run failed")
	}
}

// RunOnce purges immediately.
func (j *Janitor) RunOnce(ctx context.Context) error {
	resets, refresh, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	obs.Logger().WithFields(logrus.Fields{
		"reset_tokens":   resets,
		"refresh_tokens": refresh,
	}).Info("expired credentials purged")
	return nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling and waits for a running purge, or until ctx is done.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
