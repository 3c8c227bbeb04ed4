// Package watcher watches the studio drive for new product folders and drives
// each one through stabilization, matching and draft handoff.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eargollo/studiowatch/internal/commerce"
	"github.com/eargollo/studiowatch/internal/match"
	"github.com/eargollo/studiowatch/internal/stabilize"
	"github.com/eargollo/studiowatch/internal/templates"
	"github.com/eargollo/studiowatch/internal/watchlog"
)

// ErrNotRunning is returned by operations that need a running watcher.
var ErrNotRunning = errors.New("watcher is not running")

// ErrNoWatchPath is returned by Start when no watch path is configured.
var ErrNoWatchPath = errors.New("no watch path configured")

// State is the orchestrator lifecycle state. It is not persisted.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Matcher resolves a parsed folder name to a catalog entry.
type Matcher interface {
	Find(ctx context.Context, productName, serial string) (*match.Result, error)
}

// DraftCreator hands a matched folder's images to draft creation.
type DraftCreator interface {
	Create(ctx context.Context, h commerce.Handoff) (commerce.HandoffResult, error)
}

// TemplateApplier applies a preset's template after a folder is done.
type TemplateApplier interface {
	TemplateFor(preset string) (string, bool)
	ApplyForPreset(ctx context.Context, preset, catalogID string) (templates.Result, error)
}

// Config holds the orchestrator timings. Zero values take the defaults.
type Config struct {
	WatchPath          string
	Stabilize          time.Duration // default 30s
	MaxWait            time.Duration // default 5m
	MountPoll          time.Duration // default 60s
	DownstreamTimeout  time.Duration // default 120s
	AutoApplyTemplates bool
}

// Deps are the orchestrator's collaborators. Templates may be nil.
type Deps struct {
	Store     *watchlog.Store
	Matcher   Matcher
	Drafts    DraftCreator
	Templates TemplateApplier
	Logger    *slog.Logger
}

// StartOptions override the configured watch path and quiet period.
type StartOptions struct {
	WatchPath   string `json:"watch_path,omitempty"`
	StabilizeMs int    `json:"stabilize_ms,omitempty"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State          string         `json:"state"`
	Running        bool           `json:"running"`
	WatchPath      string         `json:"watch_path"`
	MountConnected bool           `json:"mount_connected"`
	LastScanTime   *time.Time     `json:"last_scan_time"`
	InFlight       int            `json:"in_flight"`
	Stabilizing    int            `json:"stabilizing"`
	ForcedReady    int64          `json:"forced_ready"`
	Stats          watchlog.Stats `json:"stats"`
}

// Orchestrator owns the filesystem subscription, the mount poll, the
// in-flight guard and the per-folder pipeline tasks. It is safe for
// concurrent use.
type Orchestrator struct {
	cfg       Config
	store     *watchlog.Store
	matcher   Matcher
	drafts    DraftCreator
	templates TemplateApplier
	logger    *slog.Logger
	probe     func(root string) bool

	inflight *inFlight
	tasks    sync.WaitGroup
	loops    sync.WaitGroup
	forced   atomic.Int64

	mu             sync.Mutex
	state          State
	watchPath      string
	quiet          time.Duration
	stab           *stabilize.Stabilizer
	cancel         context.CancelFunc
	sub            *subscription
	mountConnected bool
	lastScan       time.Time
}

// New creates a stopped Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Stabilize <= 0 {
		cfg.Stabilize = 30 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if cfg.MountPoll <= 0 {
		cfg.MountPoll = 60 * time.Second
	}
	if cfg.DownstreamTimeout <= 0 {
		cfg.DownstreamTimeout = 120 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		matcher:   deps.Matcher,
		drafts:    deps.Drafts,
		templates: deps.Templates,
		logger:    logger.With("component", "watcher"),
		probe:     mountAvailable,
		inflight:  newInFlight(),
		watchPath: cfg.WatchPath,
		quiet:     cfg.Stabilize,
	}
}

// Start begins watching. It is a no-op if the orchestrator is not stopped. An
// unreachable mount is not an error: the orchestrator runs disconnected and
// the mount poll attaches once the drive appears.
func (o *Orchestrator) Start(opts StartOptions) error {
	o.mu.Lock()
	if o.state != Stopped {
		o.mu.Unlock()
		o.logger.Debug("watcher: start ignored", "state", o.State())
		return nil
	}
	root := o.watchPath
	if opts.WatchPath != "" {
		root = opts.WatchPath
	}
	if root == "" {
		o.mu.Unlock()
		return ErrNoWatchPath
	}
	o.state = Starting
	o.watchPath = root
	if opts.StabilizeMs > 0 {
		o.quiet = time.Duration(opts.StabilizeMs) * time.Millisecond
	}
	o.stab = stabilize.New(stabilize.Options{
		Quiet:    o.quiet,
		MaxWait:  o.cfg.MaxWait,
		Logger:   o.logger,
		OnForced: func(string) { o.forced.Add(1) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.mu.Unlock()

	// The mount may be a hung network share; probe and walk it unlocked.
	connected := o.probe(root)
	if connected {
		if err := o.subscribe(ctx, root); err != nil {
			o.logger.Error("watcher: subscribe failed", "path", root, "error", err)
			connected = false
		}
	} else {
		o.logger.Warn("watcher: mount unavailable, running disconnected", "path", root)
	}

	o.mu.Lock()
	o.mountConnected = connected
	o.state = Running
	quiet := o.quiet
	o.loops.Add(1)
	o.mu.Unlock()

	go o.pollMount(ctx, root)
	o.logger.Info("watcher: started",
		"path", root,
		"connected", connected,
		"stabilize", quiet,
		"max_wait", o.cfg.MaxWait)
	if connected {
		go o.scanLogged("initial")
	}
	return nil
}

// Stop closes the subscription, cancels pending stabilization waits and
// stops the mount poll. It is a no-op when not running, including while a
// Start is still probing the mount.
//
// The stabilizer is closed, not just drained: a task spawned before Stop that
// has not yet reached stabilization gives up when it gets there. Tasks
// already past stabilization run to completion, and Stop leaves their
// in-flight entries in place. Each entry is released when its task returns,
// so a Start right after Stop cannot run a second task for a folder whose
// first one is still uploading. Use Drain to wait for them.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != Running {
		o.mu.Unlock()
		return
	}
	o.state = Stopping
	cancel, sub, stab := o.cancel, o.sub, o.stab
	o.cancel, o.sub = nil, nil
	o.mu.Unlock()

	cancel()
	if sub != nil {
		sub.close()
	}
	stab.Close()
	o.loops.Wait()

	o.mu.Lock()
	o.state = Stopped
	o.mountConnected = false
	o.mu.Unlock()
	o.logger.Info("watcher: stopped", "in_flight", o.inflight.len())
}

// Drain waits for every pipeline task to return, or for ctx to expire.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain pipeline tasks: %w", ctx.Err())
	}
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Scan walks the watch root and spawns a pipeline task for every product
// folder that is neither in flight nor done. It returns the number spawned.
func (o *Orchestrator) Scan(ctx context.Context) (int, error) {
	o.mu.Lock()
	running, root, connected := o.state == Running, o.watchPath, o.mountConnected
	o.mu.Unlock()
	if !running {
		return 0, ErrNotRunning
	}
	if !connected {
		o.logger.Info("watcher: scan skipped, mount disconnected", "path", root)
		return 0, nil
	}

	found, err := WalkProducts(root, func(path string, err error) {
		o.logger.Warn("watcher: cannot list folder", "path", path, "error", err)
	})
	if err != nil {
		return 0, err
	}
	spawned := 0
	for _, c := range found {
		if o.inflight.has(c.AbsolutePath) {
			continue
		}
		if o.store != nil {
			done, err := o.store.IsProcessed(ctx, c.AbsolutePath)
			if err != nil {
				o.logger.Error("watcher: idempotency check failed", "path", c.AbsolutePath, "error", err)
				continue
			}
			if done {
				continue
			}
		}
		if o.spawn(c, "scan") {
			spawned++
		}
	}

	o.mu.Lock()
	o.lastScan = time.Now()
	o.mu.Unlock()
	o.logger.Info("watcher: scan complete", "path", root, "folders", len(found), "spawned", spawned)
	return spawned, nil
}

// Status reports the runtime state and watch log counts. Stats are zero when
// the store is unavailable.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.Lock()
	st := Status{
		State:          o.state.String(),
		Running:        o.state == Running,
		WatchPath:      o.watchPath,
		MountConnected: o.mountConnected,
	}
	if !o.lastScan.IsZero() {
		t := o.lastScan
		st.LastScanTime = &t
	}
	if o.stab != nil && o.state == Running {
		st.Stabilizing = o.stab.PendingCount()
	}
	o.mu.Unlock()

	st.InFlight = o.inflight.len()
	st.ForcedReady = o.forced.Load()
	if o.store != nil {
		stats, err := o.store.GetStats(ctx)
		if err != nil {
			o.logger.Warn("watcher: stats unavailable", "error", err)
		} else {
			st.Stats = stats
		}
	}
	return st
}

// ManualLink ties a watch log row to a catalog entry. When the watcher is
// running the folder is sent back through the pipeline with the linked id.
func (o *Orchestrator) ManualLink(ctx context.Context, id int64, catalogID, title string) (*watchlog.Entry, error) {
	if err := o.store.ManualLink(ctx, id, catalogID, title); err != nil {
		return nil, err
	}
	e, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.logger.Info("watcher: manual link", "id", id, "catalog_id", catalogID, "path", e.FolderPath)
	if o.State() == Running {
		o.spawn(Candidate{
			PresetName:        e.PresetName,
			ProductFolderName: e.FolderName,
			AbsolutePath:      e.FolderPath,
		}, "manual-link")
	}
	return e, nil
}

// Unmatched returns folders awaiting a manual link.
func (o *Orchestrator) Unmatched(ctx context.Context) ([]watchlog.Entry, error) {
	return o.store.GetUnmatched(ctx)
}

// Recent returns the limit most recently detected folders.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]watchlog.Entry, error) {
	return o.store.GetRecent(ctx, limit)
}

// Pending returns folders still moving through the pipeline.
func (o *Orchestrator) Pending(ctx context.Context) ([]watchlog.Entry, error) {
	return o.store.GetPending(ctx)
}

// ── private helpers ────────────────────────────────────────────────────────

// subscribe builds a subscription on root and installs it, closing the one
// it replaces. The directory walk runs without o.mu held. It fails with
// ErrNotRunning once Stop has begun.
func (o *Orchestrator) subscribe(parent context.Context, root string) error {
	sub, err := newSubscription(root, o.logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(parent)
	sub.cancel = cancel

	o.mu.Lock()
	if o.state != Starting && o.state != Running {
		o.mu.Unlock()
		cancel()
		_ = sub.fsw.Close()
		return ErrNotRunning
	}
	old := o.sub
	o.sub = sub
	go sub.run(ctx, o)
	o.mu.Unlock()

	if old != nil {
		// close waits for the old loop, which may be blocked on o.mu in spawn.
		old.close()
	}
	return nil
}

// pollMount probes the mount on a fixed interval. A false to true
// transition restarts the subscription and rescans; true to false is only
// logged.
func (o *Orchestrator) pollMount(ctx context.Context, root string) {
	defer o.loops.Done()
	tick := time.NewTicker(o.cfg.MountPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		now := o.probe(root)

		o.mu.Lock()
		if o.state != Running {
			o.mu.Unlock()
			return
		}
		was := o.mountConnected
		o.mountConnected = now
		o.mu.Unlock()

		switch {
		case now && !was:
			o.logger.Info("watcher: mount reconnected", "path", root)
			if err := o.subscribe(ctx, root); err != nil {
				if !errors.Is(err, ErrNotRunning) {
					o.logger.Error("watcher: resubscribe failed", "path", root, "error", err)
				}
				o.mu.Lock()
				o.mountConnected = false
				o.mu.Unlock()
				continue
			}
			o.scanLogged("reconnect")
		case !now && was:
			o.logger.Warn("watcher: mount disconnected, waiting", "path", root)
		}
	}
}

func (o *Orchestrator) scanLogged(reason string) {
	if _, err := o.Scan(context.Background()); err != nil && !errors.Is(err, ErrNotRunning) {
		o.logger.Error("watcher: scan failed", "reason", reason, "error", err)
	}
}

func (o *Orchestrator) notifyChange(productPath string) {
	o.mu.Lock()
	stab := o.stab
	o.mu.Unlock()
	if stab != nil {
		stab.NotifyChange(productPath)
	}
}

// spawn starts a pipeline task for c unless one is already in flight or the
// orchestrator is not running. It reports whether a task was started.
func (o *Orchestrator) spawn(c Candidate, trigger string) bool {
	o.mu.Lock()
	if o.state != Running {
		o.mu.Unlock()
		return false
	}
	if !o.inflight.acquire(c.AbsolutePath) {
		o.mu.Unlock()
		o.logger.Debug("watcher: already in flight", "path", c.AbsolutePath, "trigger", trigger)
		return false
	}
	stab := o.stab
	o.tasks.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.tasks.Done()
		defer o.inflight.release(c.AbsolutePath)
		o.runTask(c, stab, trigger)
	}()
	return true
}
