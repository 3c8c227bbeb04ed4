package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// subscription is one live fsnotify session over the watch root. fsnotify is
// not recursive, so the root, every preset and every product folder carry
// their own watch.
type subscription struct {
	fsw    *fsnotify.Watcher
	root   string
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

func newSubscription(root string, logger *slog.Logger) (*subscription, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &subscription{fsw: fsw, root: root, done: make(chan struct{}), logger: logger}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	presets, err := subdirs(root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, preset := range presets {
		s.watchPreset(preset)
	}
	return s, nil
}

// watchPreset adds watches on a preset folder and its product folders and
// returns the products found.
func (s *subscription) watchPreset(preset string) []Candidate {
	s.add(filepath.Join(s.root, preset))
	found, err := WalkPreset(s.root, preset)
	if err != nil {
		s.logger.Warn("watcher: cannot list preset", "preset", preset, "error", err)
		return nil
	}
	for _, c := range found {
		s.add(c.AbsolutePath)
	}
	return found
}

func (s *subscription) add(dir string) {
	if err := s.fsw.Add(dir); err != nil {
		s.logger.Warn("watcher: add watch failed", "path", dir, "error", err)
	}
}

// close stops the event loop and releases the watches. Safe to call once the
// loop has been started.
func (s *subscription) close() {
	s.cancel()
	_ = s.fsw.Close()
	<-s.done
}

// eventKind classifies a filesystem event by its depth below the root.
type eventKind int

const (
	eventIgnored eventKind = iota
	eventPresetCreated
	eventProductCreated
	eventFileChanged
)

func classify(root string, ev fsnotify.Event, isDir func(string) bool) (eventKind, []string) {
	segs := segments(root, ev.Name)
	switch {
	case len(segs) == 0:
		return eventIgnored, nil
	case len(segs) >= 3:
		if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
			return eventFileChanged, segs
		}
	case ev.Op&fsnotify.Create != 0 && isDir(ev.Name):
		if len(segs) == 1 {
			return eventPresetCreated, segs
		}
		return eventProductCreated, segs
	}
	return eventIgnored, segs
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// run dispatches events until ctx is cancelled or the watcher closes.
// Transport errors are logged and otherwise ignored; they are usually a
// mount hiccup and the mount poll handles recovery.
func (s *subscription) run(ctx context.Context, o *Orchestrator) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handle(o, ev)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher: filesystem watch error", "error", err)
		}
	}
}

func (s *subscription) handle(o *Orchestrator, ev fsnotify.Event) {
	kind, segs := classify(s.root, ev, isDir)
	switch kind {
	case eventFileChanged:
		o.notifyChange(filepath.Join(s.root, segs[0], segs[1]))
	case eventProductCreated:
		s.add(ev.Name)
		c, _ := candidateFor(s.root, ev.Name)
		s.logger.Info("watcher: new product folder", "path", c.AbsolutePath)
		o.spawn(c, "event")
	case eventPresetCreated:
		s.logger.Info("watcher: new preset folder", "preset", segs[0])
		for _, c := range s.watchPreset(segs[0]) {
			o.spawn(c, "event")
		}
	}
}
