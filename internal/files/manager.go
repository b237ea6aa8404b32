// Package files stores uploaded documents on disk and tracks them in
// the database, cascading deletes through parses, segments, and vectors.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chemkb/chemkb/internal/parsing"
	"github.com/chemkb/chemkb/internal/storage"
)

// MaxUploadSize is the per-file upload limit.
const MaxUploadSize = 100 << 20

var (
	ErrTooLarge        = errors.New("file exceeds the maximum upload size")
	ErrUnsupportedType = errors.New("file type not allowed")
)

// VectorDeleter removes a file's rows from the vector index.
type VectorDeleter interface {
	DeleteByFile(fileID string) (int, error)
}

// Manager owns the upload directory and the files table.
type Manager struct {
	store     *storage.Store
	vectors   VectorDeleter
	uploadDir string
}

// NewManager creates the upload directory if needed.
func NewManager(store *storage.Store, vectors VectorDeleter, uploadDir string) (*Manager, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &Manager{store: store, vectors: vectors, uploadDir: uploadDir}, nil
}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "file"
	}
	return base
}

// Save validates and writes one uploaded file, then records it with
// status "uploaded". Validation happens before anything touches disk,
// so a rejected file leaves no trace.
func (m *Manager) Save(name string, size int64, r io.Reader) (storage.FileRecord, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !parsing.Supported(ext) {
		return storage.FileRecord{}, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if size > MaxUploadSize {
		return storage.FileRecord{}, ErrTooLarge
	}

	id := uuid.NewString()
	savedAs := fmt.Sprintf("%s_%s_%s", time.Now().Format("20060102_150405"), id[:8], sanitizeFilename(name))
	path := filepath.Join(m.uploadDir, savedAs)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return storage.FileRecord{}, fmt.Errorf("creating %s: %w", savedAs, err)
	}

	// The declared size can lie, so the copy is capped too.
	written, err := io.Copy(dst, io.LimitReader(r, MaxUploadSize+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return storage.FileRecord{}, fmt.Errorf("writing %s: %w", savedAs, err)
	}
	if written > MaxUploadSize {
		os.Remove(path)
		return storage.FileRecord{}, ErrTooLarge
	}

	rec := storage.FileRecord{
		ID:        id,
		Name:      name,
		SavedAs:   savedAs,
		Size:      written,
		Type:      ext,
		Status:    storage.FileStatusUploaded,
		CreatedAt: time.Now(),
	}
	if err := m.store.SaveFile(rec); err != nil {
		os.Remove(path)
		return storage.FileRecord{}, fmt.Errorf("recording upload: %w", err)
	}
	return rec, nil
}

// Pagination describes one page of a file listing.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// List returns one page of uploads, newest first. per_page defaults to
// 50 and caps at 100.
func (m *Manager) List(page, perPage int) ([]storage.FileRecord, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 100 {
		perPage = 100
	}

	total, err := m.store.CountFiles()
	if err != nil {
		return nil, Pagination{}, err
	}
	records, err := m.store.ListFiles(perPage, (page-1)*perPage)
	if err != nil {
		return nil, Pagination{}, err
	}
	if records == nil {
		records = []storage.FileRecord{}
	}

	pages := (total + perPage - 1) / perPage
	return records, Pagination{Page: page, PerPage: perPage, Total: total, Pages: pages}, nil
}

// Get returns the record for one upload.
func (m *Manager) Get(id string) (storage.FileRecord, error) {
	return m.store.GetFile(id)
}

// Path resolves the on-disk location of an upload for download.
func (m *Manager) Path(id string) (string, storage.FileRecord, error) {
	rec, err := m.store.GetFile(id)
	if err != nil {
		return "", storage.FileRecord{}, err
	}
	return filepath.Join(m.uploadDir, rec.SavedAs), rec, nil
}

// Delete removes the upload and everything derived from it: the disk
// file, parse records, segments, and index vectors.
func (m *Manager) Delete(id string) error {
	rec, err := m.store.GetFile(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(m.uploadDir, rec.SavedAs)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", rec.SavedAs, err)
	}
	if _, err := m.store.DeleteParsesByFile(id); err != nil {
		return fmt.Errorf("removing parses: %w", err)
	}
	if _, err := m.store.DeleteSegmentsByFile(id); err != nil {
		return fmt.Errorf("removing segments: %w", err)
	}
	if _, err := m.vectors.DeleteByFile(id); err != nil {
		return fmt.Errorf("removing vectors: %w", err)
	}
	return m.store.DeleteFile(id)
}

// Stats aggregates upload counts and sizes.
func (m *Manager) Stats() (storage.FileStats, error) {
	return m.store.GetFileStats()
}
