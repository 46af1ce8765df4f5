package session

import (
	"context"
	"time"
)

// Sweeper periodically deletes sessions that expired more than Retention ago.
// Revoked sessions are kept until they expire so the audit trail can still
// resolve them.
type Sweeper struct {
	Repo      Repository
	Interval  time.Duration
	Retention time.Duration

	// OnSweep, if set, is called after every pass.
	OnSweep func(deleted int64, err error)

	now func() time.Time
}

// SweepOnce runs a single pass and returns the number of rows deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	n, err := s.Repo.DeleteExpired(ctx, now().Add(-s.Retention))
	if s.OnSweep != nil {
		s.OnSweep(n, err)
	}
	return n, err
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx) //nolint:errcheck // reported through OnSweep
		}
	}
}
