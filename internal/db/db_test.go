package db

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if err := RunMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := SaveSetting(d, "watch_path", "/mnt/a"); err != nil {
		t.Fatal(err)
	}
	if err := SaveSetting(d, "watch_path", "/mnt/b"); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSettings(d)
	if err != nil {
		t.Fatal(err)
	}
	if got["watch_path"] != "/mnt/b" {
		t.Errorf("watch_path = %q, want /mnt/b", got["watch_path"])
	}
	if len(got) != 1 {
		t.Errorf("got %d settings, want 1", len(got))
	}
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first, err := Lock(path)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer first.Unlock()

	if _, err := Lock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock: got %v, want ErrLocked", err)
	}
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	// Nested path: Open creates the directory.
	d, err := Open(filepath.Join(t.TempDir(), "state", "nested", "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	for pragma, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"synchronous":  "1",
	} {
		var got string
		if err := d.QueryRow("PRAGMA " + pragma).Scan(&got); err != nil {
			t.Fatalf("pragma %s: %v", pragma, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", pragma, got, want)
		}
	}
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	for i := 0; i < 2; i++ {
		if err := RunMigrations(d); err != nil {
			t.Fatalf("migrate pass %d: %v", i+1, err)
		}
	}
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM watch_log`).Scan(&n); err != nil {
		t.Fatalf("watch_log missing: %v", err)
	}
}
