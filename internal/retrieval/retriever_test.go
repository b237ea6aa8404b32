package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRemote returns a fixed vector per query, or errors.
type fakeRemote struct {
	vec    []float32
	err    error
	hasKey bool
	calls  int
}

func (f *fakeRemote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeRemote) HasKey() bool { return f.hasKey }

type fakeLocal struct {
	vec     []float32
	err     error
	running bool
	calls   int
}

func (f *fakeLocal) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeLocal) IsRunning(ctx context.Context) bool { return f.running }

func newTestRetriever(t *testing.T) (*Retriever, *SQLiteStore, *fakeRemote, *fakeLocal) {
	t.Helper()
	vs := openTestStore(t)
	remote := &fakeRemote{vec: []float32{1, 0, 0}, hasKey: true}
	local := &fakeLocal{vec: []float32{1, 0, 0}, running: true}
	embedder := NewEmbedder(remote, local, vs)
	return NewRetriever(embedder, vs, 0), vs, remote, local
}

func TestRetrieveFromFilesBudget(t *testing.T) {
	r, vs, _, _ := newTestRetriever(t)

	// Two files, three vectors each.
	var records []Record
	for _, fileID := range []string{"f1", "f2"} {
		for i, base := range []float32{0.9, 0.5, 0.1} {
			records = append(records, Record{
				ID:        fileID + "-v" + string(rune('a'+i)),
				SegmentID: fileID + "-s" + string(rune('a'+i)),
				FileID:    fileID,
				FileName:  fileID + ".pdf",
				TextChunk: strings.Repeat("相关工艺内容说明文本。", 3),
				Embedding: []float32{base, 1 - base, 0},
			})
		}
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// topK=4 across 2 files means a budget of 2 per file.
	results, err := r.RetrieveFromFiles(context.Background(), "工艺", []string{"f1", "f2"}, 4, 0.0, true)
	if err != nil {
		t.Fatalf("RetrieveFromFiles: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	perFile := map[string]int{}
	for _, res := range results {
		perFile[res.FileID]++
	}
	if perFile["f1"] != 2 || perFile["f2"] != 2 {
		t.Errorf("per-file counts = %v, want 2 each", perFile)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted by similarity")
		}
	}
}

func TestRetrieveMinSimilarityFilter(t *testing.T) {
	r, vs, _, _ := newTestRetriever(t)

	if err := vs.Insert([]Record{
		{ID: "v1", SegmentID: "s1", FileID: "f1", TextChunk: strings.Repeat("高度相关的内容。", 5), Embedding: []float32{1, 0, 0}},
		{ID: "v2", SegmentID: "s2", FileID: "f1", TextChunk: strings.Repeat("完全无关的内容。", 5), Embedding: []float32{-1, 0, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := r.RetrieveFromFiles(context.Background(), "查询", []string{"f1"}, 5, 0.5, true)
	if err != nil {
		t.Fatalf("RetrieveFromFiles: %v", err)
	}
	if len(results) != 1 || results[0].SegmentID != "s1" {
		t.Errorf("results = %+v, want only s1", results)
	}
}

func TestRetrieveAllQualityFilter(t *testing.T) {
	r, vs, _, _ := newTestRetriever(t)

	if err := vs.Insert([]Record{
		{ID: "good", SegmentID: "s1", FileID: "f1", TextChunk: strings.Repeat("催化反应工艺说明。", 5), Embedding: []float32{1, 0, 0}},
		{ID: "short", SegmentID: "s2", FileID: "f2", TextChunk: "太短", Embedding: []float32{0.99, 0.01, 0}},
		{ID: "journal", SegmentID: "s3", FileID: "f3", TextChunk: "=== 化工学报 ISSN 1000-0000 ===", Embedding: []float32{0.98, 0.02, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := r.RetrieveAll(context.Background(), "催化", 3, 0.0, true)
	if err != nil {
		t.Fatalf("RetrieveAll: %v", err)
	}
	if len(results) != 1 || results[0].SegmentID != "s1" {
		t.Errorf("results = %+v, want only the good segment", results)
	}
}

func TestRetrieveAllRespectsTopK(t *testing.T) {
	r, vs, _, _ := newTestRetriever(t)

	// More matching vectors than the budget allows.
	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:        "v" + string(rune('a'+i)),
			SegmentID: "s" + string(rune('a'+i)),
			FileID:    "f1",
			FileName:  "f1.pdf",
			TextChunk: strings.Repeat("反应工艺与操作条件说明。", 3),
			Embedding: []float32{1, 0, 0},
		})
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := r.RetrieveFromFiles(context.Background(), "工艺", nil, 3, 0, true)
	if err != nil {
		t.Fatalf("RetrieveFromFiles: %v", err)
	}
	if len(results) > 3 {
		t.Errorf("top_k=3 returned %d passages, want at most 3", len(results))
	}
}

func TestRetrieveAllEmptyIndex(t *testing.T) {
	r, _, _, _ := newTestRetriever(t)

	results, err := r.RetrieveAll(context.Background(), "查询", 3, 0.0, true)
	if err != nil || results != nil {
		t.Errorf("got %v, %v; want nil, nil", results, err)
	}
}

func TestEmbedderFallsBackToLocalOnRemoteError(t *testing.T) {
	vs := openTestStore(t)
	remote := &fakeRemote{err: errors.New("api down"), hasKey: true}
	local := &fakeLocal{vec: []float32{0, 1, 0}, running: true}
	embedder := NewEmbedder(remote, local, vs)

	vec, err := embedder.Embed(context.Background(), "查询", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[1] != 1 {
		t.Errorf("vec = %v, want local vector", vec)
	}
	if local.calls != 1 {
		t.Errorf("local calls = %d, want 1", local.calls)
	}
}

func TestEmbedderFallsBackOnDimensionMismatch(t *testing.T) {
	vs := openTestStore(t)
	// Existing index is 3-dimensional.
	if err := vs.Insert([]Record{{ID: "v1", SegmentID: "s1", FileID: "f1", TextChunk: "文本", Embedding: []float32{1, 0, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	remote := &fakeRemote{vec: []float32{1, 0}, hasKey: true} // wrong dimension
	local := &fakeLocal{vec: []float32{0, 0, 1}, running: true}
	embedder := NewEmbedder(remote, local, vs)

	vec, err := embedder.Embed(context.Background(), "查询", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vec = %v, want 3-dim local vector", vec)
	}
}

func TestEmbedderSkipsRemoteWithoutKey(t *testing.T) {
	vs := openTestStore(t)
	remote := &fakeRemote{vec: []float32{1, 0, 0}, hasKey: false}
	local := &fakeLocal{vec: []float32{0, 1, 0}, running: true}
	embedder := NewEmbedder(remote, local, vs)

	if _, err := embedder.Embed(context.Background(), "查询", true); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if remote.calls != 0 {
		t.Errorf("remote called %d times without a key", remote.calls)
	}
}

func TestEmbedBatchLocal(t *testing.T) {
	vs := openTestStore(t)
	remote := &fakeRemote{hasKey: false}
	local := &fakeLocal{vec: []float32{0.1, 0.2}, running: true}
	embedder := NewEmbedder(remote, local, vs)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"一", "二", "三"}, false)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	if local.calls != 3 {
		t.Errorf("local calls = %d, want 3", local.calls)
	}

	empty, err := embedder.EmbedBatch(context.Background(), nil, false)
	if err != nil || empty != nil {
		t.Errorf("empty batch: %v, %v", empty, err)
	}
}

func TestFormatContext(t *testing.T) {
	r, _, _, _ := newTestRetriever(t)

	results := []Result{
		{SegmentID: "s1", FileName: "a.pdf", Text: "第一段内容。", Similarity: 0.9},
		{SegmentID: "s2", FileName: "b.pdf", Text: "第二段内容。", Similarity: 0.8},
	}

	contextText, cited := r.FormatContext(results)
	if !strings.HasPrefix(contextText, "1. 第一段内容。") {
		t.Errorf("context = %q", contextText)
	}
	if !strings.Contains(contextText, "2. 第二段内容。") {
		t.Errorf("second passage missing: %q", contextText)
	}
	if len(cited) != 2 || cited[0].Index != 1 || cited[1].SegmentID != "s2" {
		t.Errorf("cited = %+v", cited)
	}
}

func TestFormatContextEmpty(t *testing.T) {
	r, _, _, _ := newTestRetriever(t)

	contextText, cited := r.FormatContext(nil)
	if contextText != NoContextMessage {
		t.Errorf("context = %q", contextText)
	}
	if cited != nil {
		t.Errorf("cited = %+v", cited)
	}
}

func TestFormatContextLengthCap(t *testing.T) {
	r, _, _, _ := newTestRetriever(t)
	r.maxContextChars = 50

	long := strings.Repeat("内容", 20) // 40 chars
	results := []Result{
		{SegmentID: "s1", Text: long, Similarity: 0.9},
		{SegmentID: "s2", Text: long, Similarity: 0.8},
	}

	_, cited := r.FormatContext(results)
	if len(cited) != 1 {
		t.Errorf("cited %d passages, want 1 under the cap", len(cited))
	}
}
