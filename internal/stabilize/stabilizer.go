// Package stabilize decides when a folder has stopped changing.
//
// Each tracked path carries two deadlines: a quiet deadline that every
// NotifyChange pushes back, and a fixed max-wait deadline armed when the wait
// begins. Whichever fires first resolves the wait. Concurrent WaitForStable
// calls on the same path share one deadline pair and resolve together.
package stabilize

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCancelled is returned to waiters whose wait was cancelled.
var ErrCancelled = errors.New("stabilization cancelled")

// Outcome reports how a wait resolved.
type Outcome int

const (
	// Quiet means no change was seen for the full quiet period.
	Quiet Outcome = iota
	// Forced means the max-wait deadline expired while the folder was still
	// changing; the current file set may be incomplete.
	Forced
)

func (o Outcome) String() string {
	if o == Forced {
		return "forced"
	}
	return "quiet"
}

// Options configures a Stabilizer. Zero values take the defaults.
type Options struct {
	Quiet   time.Duration // default 30s
	MaxWait time.Duration // default 5m
	Logger  *slog.Logger
	// OnForced, if set, is called once per wait that resolves through the
	// max-wait deadline.
	OnForced func(path string)
}

// Stabilizer tracks pending waits keyed by path. It is safe for concurrent use.
type Stabilizer struct {
	quiet    time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
	onForced func(string)

	mu      sync.Mutex
	pending map[string]*wait
	closed  bool
}

type wait struct {
	started    time.Time
	lastChange time.Time
	quietTimer *time.Timer
	maxTimer   *time.Timer
	gen        uint64 // bumped on every quiet-timer reset

	done    chan struct{}
	outcome Outcome
	err     error
}

// New creates a Stabilizer.
func New(opts Options) *Stabilizer {
	if opts.Quiet <= 0 {
		opts.Quiet = 30 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stabilizer{
		quiet:    opts.Quiet,
		maxWait:  opts.MaxWait,
		logger:   logger.With("component", "stabilizer"),
		onForced: opts.OnForced,
		pending:  make(map[string]*wait),
	}
}

// WaitForStable blocks until path has been quiet for the quiet period or the
// max-wait deadline passes. A second call for a path that is already pending
// joins the existing wait. Cancelling ctx releases only this caller; the
// shared wait keeps running for the others. After Close it returns
// ErrCancelled at once.
func (s *Stabilizer) WaitForStable(ctx context.Context, path string) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Quiet, ErrCancelled
	}
	w, ok := s.pending[path]
	if !ok {
		w = s.arm(path)
	}
	s.mu.Unlock()

	select {
	case <-w.done:
		return w.outcome, w.err
	case <-ctx.Done():
		return Quiet, ctx.Err()
	}
}

// NotifyChange pushes back the quiet deadline for path. It is a no-op when no
// wait is pending.
func (s *Stabilizer) NotifyChange(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.pending[path]
	if !ok {
		return
	}
	w.lastChange = time.Now()
	w.gen++
	w.quietTimer.Stop()
	w.quietTimer = s.quietTimer(path, w, w.gen)
}

// Cancel stops the wait for path; its waiters receive ErrCancelled.
func (s *Stabilizer) Cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.pending[path]; ok {
		s.resolveLocked(path, w, Quiet, ErrCancelled)
	}
}

// CancelAll cancels every pending wait. Later waits are accepted.
func (s *Stabilizer) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

// Close cancels every pending wait and rejects every later one. A task that
// reaches WaitForStable after its watcher stopped must not arm a wait that
// nothing will ever notify or cancel.
func (s *Stabilizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelAllLocked()
}

// IsPending reports whether a wait is tracked for path.
func (s *Stabilizer) IsPending(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[path]
	return ok
}

// PendingCount returns the number of tracked waits.
func (s *Stabilizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ── private helpers ────────────────────────────────────────────────────────

// arm creates and registers a new wait. Caller holds s.mu.
func (s *Stabilizer) arm(path string) *wait {
	now := time.Now()
	w := &wait{started: now, lastChange: now, done: make(chan struct{})}
	w.quietTimer = s.quietTimer(path, w, w.gen)
	w.maxTimer = time.AfterFunc(s.maxWait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending[path] != w {
			return
		}
		s.logger.Warn("stabilizer: max wait reached, forcing ready",
			"path", path,
			"forced", true,
			"max_wait", s.maxWait,
			"since_last_change", time.Since(w.lastChange).Round(time.Millisecond))
		s.resolveLocked(path, w, Forced, nil)
		if s.onForced != nil {
			go s.onForced(path)
		}
	})
	s.pending[path] = w
	s.logger.Debug("stabilizer: waiting", "path", path, "quiet", s.quiet, "max_wait", s.maxWait)
	return w
}

// quietTimer starts a quiet-period timer bound to generation gen. A timer
// whose generation was superseded by a later NotifyChange does nothing.
func (s *Stabilizer) quietTimer(path string, w *wait, gen uint64) *time.Timer {
	return time.AfterFunc(s.quiet, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending[path] != w || w.gen != gen {
			return
		}
		s.logger.Debug("stabilizer: folder quiet", "path", path,
			"waited", time.Since(w.started).Round(time.Millisecond))
		s.resolveLocked(path, w, Quiet, nil)
	})
}

func (s *Stabilizer) cancelAllLocked() {
	if n := len(s.pending); n > 0 {
		s.logger.Info("stabilizer: cancelling pending waits", "count", n)
	}
	for path, w := range s.pending {
		s.resolveLocked(path, w, Quiet, ErrCancelled)
	}
}

// resolveLocked stops both timers, records the result and wakes every
// waiter. Caller holds s.mu.
func (s *Stabilizer) resolveLocked(path string, w *wait, outcome Outcome, err error) {
	w.quietTimer.Stop()
	w.maxTimer.Stop()
	w.outcome = outcome
	w.err = err
	close(w.done)
	delete(s.pending, path)
}
