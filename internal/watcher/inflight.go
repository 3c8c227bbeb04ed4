package watcher

import "sync"

// inFlight is the set of folder paths currently inside the pipeline.
type inFlight struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newInFlight() *inFlight {
	return &inFlight{paths: make(map[string]struct{})}
}

// acquire adds path and reports whether it was absent.
func (f *inFlight) acquire(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.paths[path]; ok {
		return false
	}
	f.paths[path] = struct{}{}
	return true
}

func (f *inFlight) release(path string) {
	f.mu.Lock()
	delete(f.paths, path)
	f.mu.Unlock()
}

func (f *inFlight) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.paths[path]
	return ok
}

func (f *inFlight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}
