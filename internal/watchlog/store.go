package watchlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNotFound is returned when no row has the requested id.
var ErrNotFound = errors.New("watch log entry not found")

// ErrInvalidTransition is returned when a write would move a row out of a
// state it may not leave (for example regressing a done folder).
var ErrInvalidTransition = errors.New("invalid watch log status transition")

// Store persists watch log rows in SQLite. It is safe for concurrent use;
// serialisation is provided by the single-connection pool from db.Open.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Store over an already-migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const entryColumns = `id, folder_name, folder_path, preset_name, parsed_product_name,
	parsed_serial_suffix, matched_catalog_id, matched_catalog_title, match_confidence,
	image_count, status, error, detected_at, processed_at, created_at, updated_at`

// HasRecord reports whether a row exists for path.
func (s *Store) HasRecord(ctx context.Context, path string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM watch_log WHERE folder_path = ?`, path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has record: %w", err)
	}
	return n > 0, nil
}

// IsProcessed reports whether path has reached done.
func (s *Store) IsProcessed(ctx context.Context, path string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM watch_log WHERE folder_path = ? AND status = ?`,
		path, StatusDone).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is processed: %w", err)
	}
	return n > 0, nil
}

// RecordDetection inserts a new row in detected status and returns its id.
// Callers guard with HasRecord; a second insert for the same path fails on
// the unique key.
func (s *Store) RecordDetection(ctx context.Context, d Detection) (int64, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_log
			(folder_name, folder_path, preset_name, parsed_product_name,
			 parsed_serial_suffix, image_count, status, detected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FolderName, d.FolderPath, d.PresetName, d.ProductName,
		nullableString(d.SerialSuffix), d.ImageCount, StatusDetected, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("record detection %q: %w", d.FolderPath, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// RecordFailure writes an error row for a folder that has no row yet
// (for example one containing no images). It is a no-op if a row exists.
func (s *Store) RecordFailure(ctx context.Context, d Detection, message string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_log
			(folder_name, folder_path, preset_name, parsed_product_name,
			 parsed_serial_suffix, image_count, status, error,
			 detected_at, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_path) DO NOTHING`,
		d.FolderName, d.FolderPath, d.PresetName, d.ProductName,
		nullableString(d.SerialSuffix), d.ImageCount, StatusError, message,
		now, now, now, now)
	if err != nil {
		return fmt.Errorf("record failure %q: %w", d.FolderPath, err)
	}
	return nil
}

// UpdateMatch stores the matcher outcome. A non-empty catalogID moves the row
// to matched, otherwise to unmatched with the confidence cleared. Rows that
// are done or manually linked are left alone.
func (s *Store) UpdateMatch(ctx context.Context, id int64, catalogID, title string, confidence Confidence) error {
	status := StatusMatched
	var conf any = string(confidence)
	if catalogID == "" {
		status = StatusUnmatched
		conf = nil
	}
	return s.transition(ctx, id, `
		UPDATE watch_log
		SET status = ?, matched_catalog_id = ?, matched_catalog_title = ?,
		    match_confidence = ?, error = NULL, updated_at = ?
		WHERE id = ? AND status <> 'done' AND COALESCE(match_confidence, '') <> 'manual'`,
		status, nullableString(catalogID), nullableString(title), conf, s.now().Unix(), id)
}

// UpdateUploading marks a matched row as handed to draft creation.
func (s *Store) UpdateUploading(ctx context.Context, id int64) error {
	return s.transition(ctx, id, `
		UPDATE watch_log SET status = ?, updated_at = ?
		WHERE id = ? AND status = 'matched'`,
		StatusUploading, s.now().Unix(), id)
}

// UpdateDone marks an uploading row as complete.
func (s *Store) UpdateDone(ctx context.Context, id int64, imageCount int) error {
	now := s.now().Unix()
	return s.transition(ctx, id, `
		UPDATE watch_log
		SET status = ?, image_count = ?, error = NULL, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'uploading'`,
		StatusDone, imageCount, now, now, id)
}

// UpdateError records a failure on any row that is not yet done.
func (s *Store) UpdateError(ctx context.Context, id int64, message string) error {
	now := s.now().Unix()
	return s.transition(ctx, id, `
		UPDATE watch_log
		SET status = ?, error = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status <> 'done'`,
		StatusError, message, now, now, id)
}

// UpdateImageCount refreshes the image count observed for a row.
func (s *Store) UpdateImageCount(ctx context.Context, id int64, imageCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watch_log SET image_count = ?, updated_at = ? WHERE id = ?`,
		imageCount, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update image count %d: %w", id, err)
	}
	return nil
}

// ManualLink forces a row to matched with manual confidence regardless of
// its prior status.
func (s *Store) ManualLink(ctx context.Context, id int64, catalogID, title string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watch_log
		SET status = ?, matched_catalog_id = ?, matched_catalog_title = ?,
		    match_confidence = ?, error = NULL, updated_at = ?
		WHERE id = ?`,
		StatusMatched, catalogID, title, ConfidenceManual, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("manual link %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverStuckUploads resets every uploading row to matched so the pipeline
// retries draft creation. Run once at process start.
func (s *Store) RecoverStuckUploads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watch_log SET status = ?, updated_at = ?
		WHERE status = ?`,
		StatusMatched, s.now().Unix(), StatusUploading)
	if err != nil {
		return 0, fmt.Errorf("recover stuck uploads: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Warn("watchlog: reset stuck uploads to matched", "count", n)
	}
	return n, nil
}

// Get returns the row with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM watch_log WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

// GetByPath returns the row for path, or nil when there is none.
func (s *Store) GetByPath(ctx context.Context, path string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM watch_log WHERE folder_path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %q: %w", path, err)
	}
	return e, nil
}

// GetUnmatched returns unmatched rows, newest first.
func (s *Store) GetUnmatched(ctx context.Context) ([]Entry, error) {
	return s.list(ctx, `WHERE status = 'unmatched' ORDER BY detected_at DESC, id DESC`)
}

// GetPending returns rows still moving through the pipeline, oldest first.
func (s *Store) GetPending(ctx context.Context) ([]Entry, error) {
	return s.list(ctx, `WHERE status IN ('detected', 'matched', 'uploading') ORDER BY detected_at, id`)
}

// GetRecent returns the limit most recently detected rows.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
}

// GetStats counts rows by status bucket.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1),
		       COALESCE(SUM(status = 'done'), 0),
		       COALESCE(SUM(status = 'unmatched'), 0),
		       COALESCE(SUM(status = 'error'), 0),
		       COALESCE(SUM(status IN ('detected', 'matched', 'uploading')), 0)
		FROM watch_log`,
	).Scan(&st.Total, &st.Done, &st.Unmatched, &st.Errors, &st.Pending)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	return st, nil
}

// ── private helpers ────────────────────────────────────────────────────────

// transition runs a guarded UPDATE. Zero affected rows means the id is unknown
// or the row's current status does not permit the write.
func (s *Store) transition(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM watch_log WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup entry %d: %w", id, err)
	}
	return fmt.Errorf("%w: entry %d is %s", ErrInvalidTransition, id, status)
}

func (s *Store) list(ctx context.Context, tail string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM watch_log `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		e                                Entry
		serial, catID, catTitle, conf    sql.NullString
		errMsg                           sql.NullString
		status                           string
		detectedAt, createdAt, updatedAt int64
		processedAt                      sql.NullInt64
	)
	if err := scanner.Scan(
		&e.ID, &e.FolderName, &e.FolderPath, &e.PresetName, &e.ParsedProductName,
		&serial, &catID, &catTitle, &conf,
		&e.ImageCount, &status, &errMsg, &detectedAt, &processedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.ParsedSerialSuffix = stringPtr(serial)
	e.MatchedCatalogID = stringPtr(catID)
	e.MatchedCatalogTitle = stringPtr(catTitle)
	e.MatchConfidence = stringPtr(conf)
	e.ErrorMessage = stringPtr(errMsg)
	e.DetectedAt = time.Unix(detectedAt, 0).UTC()
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0).UTC()
		e.ProcessedAt = &t
	}
	return &e, nil
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
