package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process already holds the database lock.
var ErrLocked = errors.New("database is locked by another studiowatch process")

// Lock takes an exclusive, non-blocking lock on "<dbPath>.lock". The watcher
// keeps in-flight state in memory, so two processes sharing one database
// would both claim the same folders.
func Lock(dbPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	fl := flock.New(dbPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %q: %w", fl.Path(), err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl, nil
}
