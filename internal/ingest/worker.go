// Package ingest runs the background indexing queue that turns stored
// segments into searchable vectors.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chemkb/chemkb/internal/retrieval"
	"github.com/chemkb/chemkb/internal/storage"
)

// JobTypeEmbedFile labels jobs that build a file's embedding index.
const JobTypeEmbedFile = "embed_file"

// JobStore abstracts the queue and segment lookups the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetSegmentsByFile(fileID string) ([]storage.SegmentRecord, error)
	UpdateFileStatus(id, status string) error
}

// BatchEmbedder turns segment texts into vectors.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, useRemote bool) ([][]float32, error)
}

// VectorReplacer swaps out a file's rows in the vector index.
type VectorReplacer interface {
	DeleteByFile(fileID string) (int, error)
	Insert(records []retrieval.Record) error
}

// Worker processes embed_file jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder BatchEmbedder
	vectors  VectorReplacer
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder BatchEmbedder, vectors VectorReplacer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_file job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeEmbedFile})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	FileID             string `json:"file_id"`
	UseOpenAIEmbedding bool   `json:"use_openai_embedding"`
}

// Enqueuer is the queue side used when scheduling index builds.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Enqueue schedules an index build for the file and returns the job id.
func Enqueue(q Enqueuer, fileID string, useRemote bool) (string, error) {
	payload, err := json.Marshal(embedPayload{FileID: fileID, UseOpenAIEmbedding: useRemote})
	if err != nil {
		return "", err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeEmbedFile,
		PayloadJSON: string(payload),
	}
	if err := q.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueuing embed job: %w", err)
	}
	return job.ID, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	segments, err := w.store.GetSegmentsByFile(payload.FileID)
	if err != nil {
		return fmt.Errorf("loading segments for %s: %w", payload.FileID, err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("file %s has no segments to index", payload.FileID)
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts, payload.UseOpenAIEmbedding)
	if err != nil {
		return fmt.Errorf("embedding segments: %w", err)
	}
	if len(vectors) != len(segments) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d segments", len(vectors), len(segments))
	}

	records := make([]retrieval.Record, len(segments))
	now := time.Now().UTC()
	for i, seg := range segments {
		records[i] = retrieval.Record{
			ID:        uuid.New().String(),
			SegmentID: seg.ID,
			FileID:    seg.FileID,
			FileName:  seg.FileName,
			TextChunk: seg.Text,
			Embedding: vectors[i],
			CreatedAt: now,
			Tags:      seg.Tags,
		}
	}

	// Rebuilding replaces any previous index for the file.
	if _, err := w.vectors.DeleteByFile(payload.FileID); err != nil {
		return fmt.Errorf("clearing old vectors: %w", err)
	}
	if err := w.vectors.Insert(records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}

	if err := w.store.UpdateFileStatus(payload.FileID, storage.FileStatusIndexed); err != nil {
		w.logger.Warn("failed to update file status", "file_id", payload.FileID, "error", err)
	}
	return nil
}
