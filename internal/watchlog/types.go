// Package watchlog is the durable per-folder processing record. Every folder
// the watcher has ever seen has exactly one row, keyed by its absolute path.
package watchlog

import "time"

// Status is the processing state of a watched folder.
type Status string

const (
	StatusDetected  Status = "detected"
	StatusMatched   Status = "matched"
	StatusUnmatched Status = "unmatched"
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Confidence labels how a folder was tied to a catalog entry.
type Confidence string

const (
	ConfidenceExact  Confidence = "exact"
	ConfidenceFuzzy  Confidence = "fuzzy"
	ConfidenceManual Confidence = "manual"
)

// Entry is one row of the watch log.
type Entry struct {
	ID                  int64      `json:"id"`
	FolderName          string     `json:"folder_name"`
	FolderPath          string     `json:"folder_path"`
	PresetName          string     `json:"preset_name"`
	ParsedProductName   string     `json:"parsed_product_name"`
	ParsedSerialSuffix  *string    `json:"parsed_serial_suffix"`
	MatchedCatalogID    *string    `json:"matched_catalog_id"`
	MatchedCatalogTitle *string    `json:"matched_catalog_title"`
	MatchConfidence     *string    `json:"match_confidence"`
	ImageCount          int        `json:"image_count"`
	Status              Status     `json:"status"`
	ErrorMessage        *string    `json:"error"`
	DetectedAt          time.Time  `json:"detected_at"`
	ProcessedAt         *time.Time `json:"processed_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Detection carries the fields known when a folder is first seen.
type Detection struct {
	FolderPath   string
	FolderName   string
	PresetName   string
	ProductName  string
	SerialSuffix string // empty when the folder name carries no serial
	ImageCount   int
}

// Stats summarises the watch log by status.
type Stats struct {
	Total     int64 `json:"total"`
	Done      int64 `json:"done"`
	Unmatched int64 `json:"unmatched"`
	Errors    int64 `json:"errors"`
	Pending   int64 `json:"pending"`
}
