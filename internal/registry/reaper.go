package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the duration from now until the schedule next
// fires.
func nextCronDuration(sched cron.Schedule, now time.Time) time.Duration {
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Reap closes every session that has been idle longer than the idle timeout.
// Sessions with a turn in flight are never reaped, and a session touched
// while Reap runs is kept. It returns the closed keys.
func (r *Registry) Reap(now time.Time) []string {
	if r.idle == 0 {
		return nil
	}
	cutoff := now.Add(-r.idle)

	r.mu.Lock()
	candidates := make(map[string]*entry, len(r.entries))
	for key, e := range r.entries {
		if e.ctrl.LastActivity().After(cutoff) {
			continue
		}
		candidates[key] = e
	}
	r.mu.Unlock()

	var reaped []string
	for key, e := range candidates {
		// The idle check and the close happen under the controller's lock,
		// so a trigger that lands first keeps the session alive.
		if !e.ctrl.CloseIfIdle(cutoff) {
			continue
		}
		r.mu.Lock()
		if r.entries[key] == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()

		if err := r.finishEntry(key, e); err != nil {
			r.log.Warn("reap failed", zap.String("session_key", key), zap.Error(err))
			continue
		}
		reaped = append(reaped, key)
	}
	if len(reaped) > 0 {
		sort.Strings(reaped)
		r.log.Info("reaped idle sessions", zap.Int("count", len(reaped)), zap.Duration("idle_timeout", r.idle))
	}
	return reaped
}

// RunReaper reaps idle sessions whenever the cron schedule fires, until ctx
// is cancelled.
func (r *Registry) RunReaper(ctx context.Context, schedule string) error {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("registry: reap schedule %q: %w", schedule, err)
	}
	if r.idle == 0 {
		r.log.Info("idle reaping disabled")
		<-ctx.Done()
		return nil
	}

	timer := time.NewTimer(nextCronDuration(sched, time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-timer.C:
			r.Reap(now)
			timer.Reset(nextCronDuration(sched, time.Now()))
		}
	}
}
