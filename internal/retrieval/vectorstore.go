package retrieval

import (
	"time"
)

// VectorStore is the interface for embedding storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; swap in an ANN-capable backend when index sizes demand it.
// ExportAll exists to migrate data between backends.
type VectorStore interface {
	// Insert adds records to the index.
	Insert(records []Record) error

	// Search returns the top-K records most similar to the query vector.
	// When fileIDs is non-empty the scan is restricted to those files.
	Search(vector []float32, topK int, fileIDs []string) ([]ScoredRecord, error)

	// DeleteByFile removes all vectors of a file, returning the count removed.
	DeleteByFile(fileID string) (int, error)

	// Count returns the total number of vectors in the index.
	Count() (int, error)

	// CountByFile returns the number of vectors stored for a file.
	CountByFile(fileID string) (int, error)

	// Dimension returns the dimensionality of stored vectors, 0 when empty.
	Dimension() (int, error)

	// ListFiles returns per-file index information for all indexed files.
	ListFiles() ([]IndexInfo, error)

	// ExportAll returns every record in the index.
	ExportAll() ([]Record, error)
}

// Record represents one embedded passage in the vector store.
type Record struct {
	ID        string
	SegmentID string
	FileID    string
	FileName  string
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
	Tags      string // JSON array stored as text
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// IndexInfo summarizes the index of one file.
type IndexInfo struct {
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	VectorCount int    `json:"vector_count"`
}
