package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// File statuses as a document moves through the pipeline.
const (
	FileStatusUploaded  = "uploaded"
	FileStatusParsed    = "parsed"
	FileStatusSegmented = "segmented"
	FileStatusIndexed   = "indexed"
)

// FileRecord describes one uploaded document.
type FileRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SavedAs   string    `json:"saved_as"`
	Size      int64     `json:"size"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ParseRecord holds the extracted text of a parsed document.
// FileID is empty for ad-hoc parses that were never stored as uploads.
type ParseRecord struct {
	ID         string    `json:"parse_id"`
	FileID     string    `json:"file_id,omitempty"`
	FileName   string    `json:"original_name"`
	Content    string    `json:"text_content"`
	Summary    string    `json:"summary"`
	TextLength int       `json:"text_length"`
	FileType   string    `json:"file_type"`
	CreatedAt  time.Time `json:"parsed_at"`
}

// SegmentRecord is one tagged passage of a parsed document.
type SegmentRecord struct {
	ID             string    `json:"segment_id"`
	FileID         string    `json:"file_id"`
	FileName       string    `json:"file_name"`
	Order          int       `json:"order"`
	Text           string    `json:"text"`
	Tags           string    `json:"-"` // JSON array stored as text
	CharacterCount int       `json:"character_count"`
	WordCount      int       `json:"word_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Job is one unit of asynchronous work in the embed queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// FileStats aggregates upload counts for the stats endpoint.
type FileStats struct {
	TotalFiles int            `json:"total_files"`
	TotalSize  int64          `json:"total_size"`
	ByType     map[string]int `json:"by_type"`
}

// SegmentStats aggregates segment counts for the stats endpoint.
type SegmentStats struct {
	TotalSegments  int            `json:"total_segments"`
	TaggedSegments int            `json:"tagged_segments"`
	TotalFiles     int            `json:"total_files"`
	AvgLength      float64        `json:"avg_length"`
	TagCounts      map[string]int `json:"tag_counts"`
}
