// Package scheduler fires templates that carry a daily trigger time.
//
// The loop wakes once per interval, works out which wall-clock minutes
// have passed since the previous tick, and hands every template due in
// those minutes to the execute callback. A firing ledger keyed by phrase
// records the calendar date of the last firing so a template runs at
// most once per day. The ledger lives in memory only: a restart on the
// same day can fire a template again.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/asistente/internal/commands"
)

// DefaultInterval is how often the loop scans the template table.
const DefaultInterval = time.Minute

// maxCatchUp bounds how many missed minutes a late tick scans.
const maxCatchUp = 60

const dateLayout = "2006-01-02"

// ExecuteFunc is called when a template fires.
type ExecuteFunc func(ctx context.Context, tpl *commands.Template)

// Options configures a Loop.
type Options struct {
	Logger   *slog.Logger
	Interval time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Loop runs time-triggered templates.
type Loop struct {
	logger   *slog.Logger
	table    *commands.Table
	execute  ExecuteFunc
	interval time.Duration
	now      func() time.Time

	// tickMu serializes ticks and guards the ledger.
	tickMu   sync.Mutex
	fired    map[string]string // phrase -> date last fired
	lastScan time.Time         // minute of the previous scan

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a trigger loop over table.
func New(table *commands.Table, execute ExecuteFunc, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		logger:   logger,
		table:    table,
		execute:  execute,
		interval: interval,
		now:      now,
		fired:    make(map[string]string),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. It returns immediately; calling it
// on a running loop does nothing. A loop cannot be restarted after Stop.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true

	triggered := l.table.Triggered()
	l.logger.Debug("trigger loop starting", "templates", len(triggered), "interval", l.interval)

	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for a tick in progress to
// finish. It is safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("trigger loop stopped")
}

// Tick scans the minutes elapsed since the previous tick (just the
// current minute on the first one) and fires every template due in
// them that has not fired today. It returns the phrases it fired.
func (l *Loop) Tick(ctx context.Context) []string {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	now := l.now().Truncate(time.Minute)
	minutes := l.pendingMinutes(now)
	l.lastScan = now

	var fired []string
	for _, minute := range minutes {
		date := minute.Format(dateLayout)
		for _, tpl := range l.table.Due(minute.Format("15:04")) {
			if l.fired[tpl.Phrase] == date {
				continue
			}
			// Record before executing so a slow or panicking action
			// cannot fire twice.
			l.fired[tpl.Phrase] = date
			fired = append(fired, tpl.Phrase)

			l.logger.Info("trigger firing",
				"phrase", tpl.Phrase,
				"kind", tpl.Kind,
				"trigger_time", tpl.TriggerTime,
			)
			l.fire(ctx, tpl)
		}
	}
	return fired
}

// pendingMinutes lists the minutes after the previous scan up to now,
// oldest first. Only the current minute is returned on the first scan,
// when the clock moved backwards, or across a date change.
func (l *Loop) pendingMinutes(now time.Time) []time.Time {
	if l.lastScan.IsZero() || !now.After(l.lastScan) || now.Format(dateLayout) != l.lastScan.Format(dateLayout) {
		return []time.Time{now}
	}
	var out []time.Time
	for m := l.lastScan.Add(time.Minute); !m.After(now); m = m.Add(time.Minute) {
		out = append(out, m)
	}
	if len(out) > maxCatchUp {
		l.logger.Warn("trigger loop fell behind", "missed_minutes", len(out)-maxCatchUp)
		out = out[len(out)-maxCatchUp:]
	}
	return out
}

func (l *Loop) fire(ctx context.Context, tpl *commands.Template) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("trigger action panicked", "phrase", tpl.Phrase, "panic", r)
		}
	}()
	if l.execute != nil {
		l.execute(ctx, tpl)
	}
}

// LastFired returns the date (YYYY-MM-DD) phrase last fired, or "".
func (l *Loop) LastFired(phrase string) string {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	return l.fired[phrase]
}

// Stats returns loop statistics.
func (l *Loop) Stats() map[string]any {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()

	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	return map[string]any{
		"running":         running,
		"triggered":       len(l.table.Triggered()),
		"fired_templates": len(l.fired),
	}
}
