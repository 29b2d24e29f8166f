// Package schedule runs the recurring daily budget reset.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// A Resetter puts every user back at the full daily allotment.
type Resetter interface {
	ResetAllBudgets(ctx context.Context) error
}

type Config struct {
	// Timezone is an IANA name, e.g. "US/Eastern". The reset fires on this
	// zone's wall clock.
	Timezone string
	// Hour of the day (0-23) the reset fires at.
	Hour int
	// RetryMaxInterval caps the backoff between reset attempts. Zero means
	// five minutes.
	RetryMaxInterval time.Duration
}

// A Scheduler fires the bulk budget reset once a day at a fixed wall-clock
// hour. A failed reset is treated as transient and retried with capped
// exponential backoff until it lands exactly once, then the scheduler waits
// for the next day's firing.
type Scheduler struct {
	cron     *cron.Cron
	resetter Resetter
	maxWait  time.Duration
	l        *zap.SugaredLogger

	// ctx is cancelled by Stop so an in-flight retry loop doesn't outlive
	// the scheduler.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(c Config, r Resetter, l *zap.SugaredLogger) (*Scheduler, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("error loading timezone %q: %s", c.Timezone, err)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return nil, fmt.Errorf("reset hour %d out of range", c.Hour)
	}

	maxWait := c.RetryMaxInterval
	if maxWait == 0 {
		maxWait = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		resetter: r,
		maxWait:  maxWait,
		l:        l,
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("0 %d * * *", c.Hour), s.resetJob); err != nil {
		cancel()
		return nil, fmt.Errorf("error scheduling reset job: %s", err)
	}

	return s, nil
}

// Start begins firing. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.l.Infow("reset scheduler started")
}

// Stop halts the timer, cancels any in-flight retry loop, and waits for a
// running job to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.l.Infow("reset scheduler stopped")
}

func (s *Scheduler) resetJob() {
	s.l.Infow("resetting available votes")
	if err := s.ResetWithRetry(s.ctx); err != nil {
		// Only happens on shutdown mid-retry.
		s.l.Errorw("reset abandoned", "err", err)
		return
	}
	s.l.Infow("available votes reset")
}

// ResetWithRetry calls the resetter until it succeeds, backing off
// exponentially up to the configured cap between attempts. It only returns
// an error if ctx is cancelled first.
func (s *Scheduler) ResetWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.maxWait
	if bo.InitialInterval > s.maxWait {
		bo.InitialInterval = s.maxWait
	}
	bo.MaxElapsedTime = 0 // retry until success

	return backoff.Retry(func() error {
		if err := s.resetter.ResetAllBudgets(ctx); err != nil {
			s.l.Errorw("reset attempt failed", "err", err)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
