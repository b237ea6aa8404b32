package history

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chemkb/chemkb/internal/storage"
)

// maxRecords caps the history size. Add drops the oldest entries past it.
const maxRecords = 100

const blobKey = "qa_history"

// Blobs is the persistence surface the history store needs.
type Blobs interface {
	GetBlob(key string) ([]byte, error)
	SetBlob(key string, value []byte) error
	RemoveBlob(key string) error
}

// Store keeps the question-answer history as a single JSON blob,
// newest record first.
type Store struct {
	mu    sync.Mutex
	blobs Blobs
}

// NewStore creates a history store over the given blob backend.
func NewStore(blobs Blobs) *Store {
	return &Store{blobs: blobs}
}

// load reads the persisted history. A missing or corrupt blob yields an
// empty list rather than an error so history never blocks answering.
func (s *Store) load() []Record {
	data, err := s.blobs.GetBlob(blobKey)
	if err != nil {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

func (s *Store) save(records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := s.blobs.SetBlob(blobKey, data); err != nil {
		return fmt.Errorf("persisting history: %w", err)
	}
	return nil
}

// List returns all records, newest first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records
}

// Add prepends the record and persists, dropping the oldest entries
// beyond the cap. Returns false if persistence failed.
func (s *Store) Add(rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := append([]Record{rec}, s.load()...)
	if len(records) > maxRecords {
		records = records[:maxRecords]
	}
	return s.save(records) == nil
}

// Delete removes the record with the given id. Deleting an absent id is
// not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return s.save(kept)
}

// BatchDelete removes every listed id and reports how many records were
// actually removed. Absent ids are skipped.
func (s *Store) BatchDelete(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	records := s.load()
	kept := records[:0]
	for _, rec := range records {
		if !drop[rec.ID] {
			kept = append(kept, rec)
		}
	}
	removed := len(records) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(kept)
}

// Search filters records by a case-insensitive keyword over question and
// answer, and by tags (a record matches if it carries any of the given
// tags). Both filters must hold when both are given.
func (s *Store) Search(keyword string, tags []string) []Record {
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	var matched []Record
	for _, rec := range s.List() {
		if keyword != "" &&
			!strings.Contains(strings.ToLower(rec.Question), keyword) &&
			!strings.Contains(strings.ToLower(rec.Answer), keyword) {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(rec.Tags, tags) {
			continue
		}
		matched = append(matched, rec)
	}
	return matched
}

func hasAnyTag(recordTags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range recordTags {
			if t == w {
				return true
			}
		}
	}
	return false
}

// Stats summarizes the stored history.
type Stats struct {
	TotalQuestions           int            `json:"total_questions"`
	AvgConfidence            float64        `json:"avg_confidence"`
	TagDistribution          map[string]int `json:"tag_distribution"`
	ResponseTypeDistribution map[string]int `json:"response_type_distribution"`
}

// Stats computes counts and the unweighted mean confidence across all
// records. An empty history yields zero values.
func (s *Store) Stats() Stats {
	records := s.List()

	stats := Stats{
		TotalQuestions:           len(records),
		TagDistribution:          make(map[string]int),
		ResponseTypeDistribution: make(map[string]int),
	}

	sum := 0
	for _, rec := range records {
		sum += rec.Confidence
		stats.ResponseTypeDistribution[rec.ResponseType]++
		for _, tag := range rec.Tags {
			stats.TagDistribution[tag]++
		}
	}
	if len(records) > 0 {
		stats.AvgConfidence = float64(sum) / float64(len(records))
	}
	return stats
}

// Export serializes the history as "json" or "csv".
func (s *Store) Export(format string) ([]byte, error) {
	records := s.List()

	switch format {
	case "json":
		return json.MarshalIndent(records, "", "  ")
	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		header := []string{"id", "question", "answer", "tags", "timestamp", "response_type", "confidence"}
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for _, rec := range records {
			row := []string{
				rec.ID,
				rec.Question,
				rec.Answer,
				strings.Join(rec.Tags, ","),
				rec.Timestamp.Format(time.RFC3339),
				rec.ResponseType,
				strconv.Itoa(rec.Confidence),
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// Clear removes the persisted history entirely.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.blobs.RemoveBlob(blobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
