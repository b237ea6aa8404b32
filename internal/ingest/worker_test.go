package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chemkb/chemkb/internal/retrieval"
	"github.com/chemkb/chemkb/internal/storage"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string, useRemote bool) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string, useRemote bool) ([][]float32, error) {
	return m.embedFn(ctx, texts, useRemote)
}

type mockVectorReplacer struct {
	mu       sync.Mutex
	deleted  []string
	inserted []retrieval.Record
	insertFn func(records []retrieval.Record) error
}

func (m *mockVectorReplacer) DeleteByFile(fileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fileID)
	return 0, nil
}

func (m *mockVectorReplacer) Insert(records []retrieval.Record) error {
	if m.insertFn != nil {
		return m.insertFn(records)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, records...)
	return nil
}

func identityBatch(dim int) func(ctx context.Context, texts []string, useRemote bool) ([][]float32, error) {
	return func(_ context.Context, texts []string, _ bool) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, dim)
			out[i][0] = 1
		}
		return out, nil
	}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFileWithSegments(t *testing.T, store *storage.Store, fileID string, count int) {
	t.Helper()
	if err := store.SaveFile(storage.FileRecord{
		ID: fileID, Name: fileID + ".txt", SavedAs: fileID, Type: "txt",
		Status: storage.FileStatusSegmented,
	}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	segments := make([]storage.SegmentRecord, count)
	for i := range segments {
		segments[i] = storage.SegmentRecord{
			ID:       fmt.Sprintf("%s_s%d", fileID, i+1),
			FileID:   fileID,
			FileName: fileID + ".txt",
			Order:    i + 1,
			Text:     fmt.Sprintf("第 %d 段工艺说明。", i+1),
			Tags:     `["工艺"]`,
		}
	}
	if err := store.SaveSegments(segments); err != nil {
		t.Fatalf("SaveSegments: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	seedFileWithSegments(t, store, "f1", 3)

	jobID, err := Enqueue(store, "f1", true)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	replacer := &mockVectorReplacer{}
	w := NewWorker(store, &mockEmbedder{embedFn: identityBatch(4)}, replacer, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	replacer.mu.Lock()
	defer replacer.mu.Unlock()
	if len(replacer.deleted) != 1 || replacer.deleted[0] != "f1" {
		t.Errorf("deleted = %v, want old vectors cleared first", replacer.deleted)
	}
	if len(replacer.inserted) != 3 {
		t.Fatalf("inserted %d records, want 3", len(replacer.inserted))
	}
	rec := replacer.inserted[0]
	if rec.FileID != "f1" || rec.SegmentID != "f1_s1" || rec.Tags != `["工艺"]` {
		t.Errorf("record = %+v", rec)
	}

	file, err := store.GetFile("f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if file.Status != storage.FileStatusIndexed {
		t.Errorf("file status = %q, want indexed", file.Status)
	}

	var status string
	if err := store.DB().QueryRow(`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status); err != nil {
		t.Fatalf("query job: %v", err)
	}
	if status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestWorker_NoJobIsIdle(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockEmbedder{embedFn: identityBatch(4)}, &mockVectorReplacer{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce claimed work from an empty queue")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	seedFileWithSegments(t, store, "f1", 1)

	jobID, err := Enqueue(store, "f1", false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var calls atomic.Int32
	w := NewWorker(store, &mockEmbedder{
		embedFn: func(ctx context.Context, texts []string, useRemote bool) ([][]float32, error) {
			if calls.Add(1) <= 1 {
				return nil, fmt.Errorf("transient error")
			}
			return identityBatch(4)(ctx, texts, useRemote)
		},
	}, &mockVectorReplacer{}, 0)

	ctx := context.Background()

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}

	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query after 1st fail: %v", err)
	}
	if status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	resetRunAfter(t, store, jobID)

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}

	if err := store.DB().QueryRow(`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status); err != nil {
		t.Fatalf("query after retry: %v", err)
	}
	if status != "completed" {
		t.Errorf("after retry: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	seedFileWithSegments(t, store, "f1", 1)

	jobID, err := Enqueue(store, "f1", false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, &mockEmbedder{
		embedFn: func(context.Context, []string, bool) ([][]float32, error) {
			return nil, fmt.Errorf("permanent error")
		},
	}, &mockVectorReplacer{}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		resetRunAfter(t, store, jobID)
	}

	var status, lastError string
	if err := store.DB().QueryRow(`SELECT status, last_error FROM jobs WHERE id = ?`, jobID).Scan(&status, &lastError); err != nil {
		t.Fatalf("query job: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed after max attempts", status)
	}
	if lastError == "" {
		t.Error("last_error not recorded")
	}
}

func TestWorker_FailsJobWithoutSegments(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveFile(storage.FileRecord{ID: "empty", Name: "empty.txt", SavedAs: "empty", Type: "txt"}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	jobID, err := Enqueue(store, "empty", true)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	replacer := &mockVectorReplacer{}
	w := NewWorker(store, &mockEmbedder{embedFn: identityBatch(4)}, replacer, 0)

	if didWork, err := w.RunOnce(context.Background()); err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}

	var attempts int
	if err := store.DB().QueryRow(`SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(replacer.inserted) != 0 {
		t.Errorf("vectors inserted for a file without segments")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockEmbedder{embedFn: identityBatch(4)}, &mockVectorReplacer{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
