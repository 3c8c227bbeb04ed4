package watcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eargollo/studiowatch/internal/media"
)

// Candidate is a product folder found at <root>/<preset>/<product>.
type Candidate struct {
	PresetName        string
	ProductFolderName string
	AbsolutePath      string
}

// ErrorReporter is called for directories that could not be read during a
// walk. The walk continues past them.
type ErrorReporter func(path string, err error)

// WalkProducts lists every product folder two levels below root, in directory
// order. Hidden and OS metadata entries are skipped at both levels. An
// unreadable root is an error; an unreadable preset is reported and skipped.
func WalkProducts(root string, report ErrorReporter) ([]Candidate, error) {
	presets, err := subdirs(root)
	if err != nil {
		return nil, fmt.Errorf("read watch root: %w", err)
	}
	var out []Candidate
	for _, preset := range presets {
		found, err := WalkPreset(root, preset)
		if err != nil {
			if report != nil {
				report(filepath.Join(root, preset), err)
			}
			continue
		}
		out = append(out, found...)
	}
	return out, nil
}

// WalkPreset lists the product folders inside one preset folder.
func WalkPreset(root, preset string) ([]Candidate, error) {
	dir := filepath.Join(root, preset)
	products, err := subdirs(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(products))
	for _, name := range products {
		out = append(out, Candidate{
			PresetName:        preset,
			ProductFolderName: name,
			AbsolutePath:      filepath.Join(dir, name),
		})
	}
	return out, nil
}

// candidateFor builds the Candidate owning a path relative to root, or false
// if path is not at least two levels deep.
func candidateFor(root, path string) (Candidate, bool) {
	segs := segments(root, path)
	if len(segs) < 2 {
		return Candidate{}, false
	}
	return Candidate{
		PresetName:        segs[0],
		ProductFolderName: segs[1],
		AbsolutePath:      filepath.Join(root, segs[0], segs[1]),
	}, true
}

// segments splits path relative to root. It returns nil for root itself, for
// paths outside root, and for paths passing through a hidden entry.
func segments(root, path string) []string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	segs := strings.Split(rel, string(filepath.Separator))
	for _, s := range segs {
		if s == "" || media.IsHidden(s) {
			return nil
		}
	}
	return segs
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !media.IsHidden(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// mountAvailable reports whether root exists, is a directory and can be
// listed. A stale network mount usually fails the listing, not the stat.
func mountAvailable(root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.Open(root)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return err == nil || errors.Is(err, io.EOF)
}
