package watchlog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	internaldb "github.com/eargollo/studiowatch/internal/db"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

func mustRecord(tb testing.TB, s *Store, path string) int64 {
	tb.Helper()
	id, err := s.RecordDetection(context.Background(), Detection{
		FolderPath:  path,
		FolderName:  filepath.Base(path),
		PresetName:  filepath.Base(filepath.Dir(path)),
		ProductName: "Canon 50mm",
	})
	if err != nil {
		tb.Fatalf("record %q: %v", path, err)
	}
	return id
}

func TestRecordDetectionThenHasRecord(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))
	path := "/mnt/studio/Lenses/Canon 50mm #1234"

	if ok, _ := s.HasRecord(ctx, path); ok {
		t.Fatal("HasRecord true before detection")
	}
	id := mustRecord(t, s, path)

	if ok, err := s.HasRecord(ctx, path); err != nil || !ok {
		t.Fatalf("HasRecord = %v, %v; want true", ok, err)
	}
	if ok, _ := s.IsProcessed(ctx, path); ok {
		t.Fatal("IsProcessed true right after detection")
	}

	e, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != StatusDetected {
		t.Errorf("status = %s, want detected", e.Status)
	}
	if e.ParsedSerialSuffix != nil {
		t.Errorf("serial = %v, want nil", *e.ParsedSerialSuffix)
	}
}

func TestRecordDetectionTwiceFails(t *testing.T) {
	s := New(mustOpenDB(t))
	mustRecord(t, s, "/mnt/a/b")
	if _, err := s.RecordDetection(context.Background(), Detection{FolderPath: "/mnt/a/b", FolderName: "b"}); err == nil {
		t.Fatal("expected unique-key failure on second detection")
	}
}

func TestHappyPathTransitions(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))
	path := "/mnt/a/b"
	id := mustRecord(t, s, path)

	if err := s.UpdateMatch(ctx, id, "gid://1", "Canon 50mm f/1.8", ConfidenceExact); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateUploading(ctx, id); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsProcessed(ctx, path); ok {
		t.Fatal("IsProcessed true before UpdateDone")
	}
	if err := s.UpdateDone(ctx, id, 3); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsProcessed(ctx, path); !ok {
		t.Fatal("IsProcessed false after UpdateDone")
	}

	e, _ := s.Get(ctx, id)
	if e.Status != StatusDone || e.ImageCount != 3 {
		t.Errorf("got status=%s images=%d, want done/3", e.Status, e.ImageCount)
	}
	if e.MatchConfidence == nil || *e.MatchConfidence != "exact" {
		t.Errorf("confidence = %v, want exact", e.MatchConfidence)
	}
	if e.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
}

func TestUpdateMatchWithoutCatalogIsUnmatched(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))
	id := mustRecord(t, s, "/mnt/a/b")

	if err := s.UpdateMatch(ctx, id, "", "", ConfidenceFuzzy); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Get(ctx, id)
	if e.Status != StatusUnmatched {
		t.Errorf("status = %s, want unmatched", e.Status)
	}
	if e.MatchConfidence != nil {
		t.Errorf("confidence = %q, want nil", *e.MatchConfidence)
	}

	got, err := s.GetUnmatched(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Errorf("GetUnmatched = %+v", got)
	}
}

func TestDoneRowCannotRegress(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))
	id := mustRecord(t, s, "/mnt/a/b")
	_ = s.UpdateMatch(ctx, id, "gid://1", "T", ConfidenceExact)
	_ = s.UpdateUploading(ctx, id)
	_ = s.UpdateDone(ctx, id, 2)

	if err := s.UpdateMatch(ctx, id, "", "", ConfidenceFuzzy); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateMatch on done: got %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateError(ctx, id, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateError on done: got %v, want ErrInvalidTransition", err)
	}
	e, _ := s.Get(ctx, id)
	if e.Status != StatusDone {
		t.Errorf("status = %s, want done", e.Status)
	}
}

func TestUpdateDoneRequiresUploading(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))
	id := mustRecord(t, s, "/mnt/a/b")
	if err := s.UpdateDone(ctx, id, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateDone(ctx, 9999, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestManualLinkFromAnyStatus(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))
	id := mustRecord(t, s, "/mnt/a/b")
	_ = s.UpdateMatch(ctx, id, "", "", ConfidenceFuzzy)

	if err := s.ManualLink(ctx, id, "gid://9", "Picked by hand"); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Get(ctx, id)
	if e.Status != StatusMatched {
		t.Errorf("status = %s, want matched", e.Status)
	}
	if e.MatchConfidence == nil || *e.MatchConfidence != "manual" {
		t.Errorf("confidence = %v, want manual", e.MatchConfidence)
	}
	if e.MatchedCatalogID == nil || *e.MatchedCatalogID != "gid://9" {
		t.Errorf("catalog id = %v", e.MatchedCatalogID)
	}
	if err := s.UpdateMatch(ctx, id, "gid://1", "Matcher pick", ConfidenceExact); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("matcher overwrote manual link: got %v, want ErrInvalidTransition", err)
	}

	if err := s.ManualLink(ctx, 424242, "x", "y"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestRecoverStuckUploadsTouchesOnlyUploadingRows(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))

	stuck := mustRecord(t, s, "/mnt/a/stuck")
	_ = s.UpdateMatch(ctx, stuck, "gid://1", "T", ConfidenceExact)
	_ = s.UpdateUploading(ctx, stuck)

	done := mustRecord(t, s, "/mnt/a/done")
	_ = s.UpdateMatch(ctx, done, "gid://2", "T", ConfidenceExact)
	_ = s.UpdateUploading(ctx, done)
	_ = s.UpdateDone(ctx, done, 1)

	unmatched := mustRecord(t, s, "/mnt/a/unmatched")
	_ = s.UpdateMatch(ctx, unmatched, "", "", ConfidenceFuzzy)

	detected := mustRecord(t, s, "/mnt/a/detected")

	n, err := s.RecoverStuckUploads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered %d rows, want 1", n)
	}

	want := map[int64]Status{
		stuck:     StatusMatched,
		done:      StatusDone,
		unmatched: StatusUnmatched,
		detected:  StatusDetected,
	}
	for id, status := range want {
		e, err := s.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != status {
			t.Errorf("entry %d: status = %s, want %s", id, e.Status, status)
		}
	}
}

func TestRecordFailureIsNoOpWhenRowExists(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))

	d := Detection{FolderPath: "/mnt/a/empty", FolderName: "empty", PresetName: "a"}
	if err := s.RecordFailure(ctx, d, "no images found"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, d, "second"); err != nil {
		t.Fatal(err)
	}
	e, err := s.GetByPath(ctx, d.FolderPath)
	if err != nil || e == nil {
		t.Fatalf("GetByPath = %v, %v", e, err)
	}
	if e.Status != StatusError || e.ErrorMessage == nil || *e.ErrorMessage != "no images found" {
		t.Errorf("got status=%s error=%v", e.Status, e.ErrorMessage)
	}
}

func TestStatsAndListings(t *testing.T) {
	ctx := context.Background()
	s := New(mustOpenDB(t))

	a := mustRecord(t, s, "/mnt/p/a")
	b := mustRecord(t, s, "/mnt/p/b")
	c := mustRecord(t, s, "/mnt/p/c")
	mustRecord(t, s, "/mnt/p/d")

	_ = s.UpdateMatch(ctx, a, "gid://1", "T", ConfidenceExact)
	_ = s.UpdateUploading(ctx, a)
	_ = s.UpdateDone(ctx, a, 4)
	_ = s.UpdateMatch(ctx, b, "", "", ConfidenceFuzzy)
	_ = s.UpdateError(ctx, c, "boom")

	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Total: 4, Done: 1, Unmatched: 1, Errors: 1, Pending: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}

	pending, _ := s.GetPending(ctx)
	if len(pending) != 1 || pending[0].FolderPath != "/mnt/p/d" {
		t.Errorf("GetPending = %+v", pending)
	}

	recent, _ := s.GetRecent(ctx, 2)
	if len(recent) != 2 {
		t.Fatalf("GetRecent(2) returned %d rows", len(recent))
	}
	if recent[0].FolderPath != "/mnt/p/d" {
		t.Errorf("newest first: got %q", recent[0].FolderPath)
	}
}

func TestStatsOnEmptyStore(t *testing.T) {
	st, err := New(mustOpenDB(t)).GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st != (Stats{}) {
		t.Errorf("stats = %+v, want zero", st)
	}
}
