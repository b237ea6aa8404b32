package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chemkb/chemkb/internal/generator"
	"github.com/chemkb/chemkb/internal/history"
	"github.com/chemkb/chemkb/internal/llm"
	"github.com/chemkb/chemkb/internal/retrieval"
	"github.com/chemkb/chemkb/internal/storage"
)

type fakeRemote struct {
	vec []float32
}

func (f *fakeRemote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeRemote) HasKey() bool { return true }

type fakeLocal struct{}

func (fakeLocal) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("local embedding unavailable")
}

func (fakeLocal) IsRunning(ctx context.Context) bool { return false }

type fakeChat struct {
	result llm.ChatResult
	err    error
}

func (f *fakeChat) ChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	if f.err != nil {
		return llm.ChatResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeChat) ChatModel() string { return "gpt-4o-mini" }
func (f *fakeChat) HasKey() bool      { return true }

func newTestService(t *testing.T, chat *fakeChat) (*Service, *retrieval.SQLiteStore) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	vs := retrieval.NewSQLiteStore(s.DB())
	embedder := retrieval.NewEmbedder(&fakeRemote{vec: []float32{1, 0, 0}}, fakeLocal{}, vs)
	retriever := retrieval.NewRetriever(embedder, vs, 0)
	return NewService(retriever, generator.New(chat)), vs
}

func TestNewAnswerRequestDefaults(t *testing.T) {
	req := NewAnswerRequest("  反应器有哪些类型？  ", nil, Options{})

	if req.Question != "反应器有哪些类型？" {
		t.Errorf("question = %q, not trimmed", req.Question)
	}
	if req.TopK != 3 || req.MinSimilarity != 0.0 || !req.UseOpenAIEmbedding {
		t.Errorf("retrieval defaults = %+v", req)
	}
	if req.Temperature != 0.1 || req.MaxTokens != 1000 {
		t.Errorf("generation defaults = %+v", req)
	}
	if req.Tags == nil || req.FileIDs == nil {
		t.Error("tags and file_ids should default to empty slices")
	}
}

func TestNewAnswerRequestOverrides(t *testing.T) {
	useRemote := false
	temp := 0.0
	req := NewAnswerRequest("问题", []string{"工艺"}, Options{
		FileIDs:            []string{"f1"},
		TopK:               5,
		MinSimilarity:      0.3,
		UseOpenAIEmbedding: &useRemote,
		Temperature:        &temp,
		MaxTokens:          200,
	})

	if req.TopK != 5 || req.MinSimilarity != 0.3 || req.UseOpenAIEmbedding {
		t.Errorf("retrieval overrides = %+v", req)
	}
	// An explicit zero temperature is kept, not replaced by the default.
	if req.Temperature != 0.0 || req.MaxTokens != 200 {
		t.Errorf("generation overrides = %+v", req)
	}
	if len(req.FileIDs) != 1 || len(req.Tags) != 1 {
		t.Errorf("lists = %+v", req)
	}
}

func TestValidate(t *testing.T) {
	if err := NewAnswerRequest("问题", nil, Options{}).Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := NewAnswerRequest("   ", nil, Options{}).Validate(); err == nil {
		t.Error("blank question accepted")
	}
	if err := NewAnswerRequest("问题", nil, Options{TopK: 21}).Validate(); err == nil {
		t.Error("top_k=21 accepted")
	}
	if err := NewAnswerRequest("问题", nil, Options{TopK: -1}).Validate(); err == nil {
		t.Error("negative top_k accepted")
	}
}

func TestAskWithContext(t *testing.T) {
	chat := &fakeChat{result: llm.ChatResult{
		Content:      "列管式反应器适用于强放热反应，温度控制在 200℃ 以内。",
		Model:        "gpt-4o-mini",
		FinishReason: "stop",
		Usage:        llm.TokenUsage{TotalTokens: 150},
	}}
	svc, vs := newTestService(t, chat)

	if err := vs.Insert([]retrieval.Record{
		{ID: "v1", SegmentID: "s1", FileID: "f1", FileName: "a.pdf", TextChunk: strings.Repeat("反应器类型与工艺条件说明。", 3), Embedding: []float32{1, 0, 0}},
		{ID: "v2", SegmentID: "s2", FileID: "f1", FileName: "a.pdf", TextChunk: strings.Repeat("换热器维护与清洗说明。", 3), Embedding: []float32{0.8, 0.2, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	req := NewAnswerRequest("反应器有哪些类型？", nil, Options{FileIDs: []string{"f1"}, TopK: 2})
	ans, err := svc.Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if ans.ResponseType != "rag_based" || !ans.ContextUsed {
		t.Errorf("response_type = %q, context_used = %v", ans.ResponseType, ans.ContextUsed)
	}
	if ans.RetrievalResults.TotalSegments != 2 || ans.RetrievalResults.UsedSegments != 2 {
		t.Errorf("retrieval summary = %+v", ans.RetrievalResults)
	}
	if len(ans.RetrievalResults.CitedSegments) != 2 {
		t.Errorf("cited = %+v", ans.RetrievalResults.CitedSegments)
	}
	if ans.GenerationResults.Temperature != 0.1 || ans.GenerationResults.MaxTokens != 1000 {
		t.Errorf("generation summary = %+v", ans.GenerationResults)
	}
	if ans.GenerationResults.Model != "gpt-4o-mini" || ans.GenerationResults.TokenUsage.TotalTokens != 150 {
		t.Errorf("generation summary = %+v", ans.GenerationResults)
	}
	if !ans.QualityAssessment.ContextBased {
		t.Error("quality assessment should see the retrieval context")
	}
}

func TestAskEmptyIndexFallsBackToDirect(t *testing.T) {
	chat := &fakeChat{result: llm.ChatResult{Content: "通用回答。", FinishReason: "stop"}}
	svc, _ := newTestService(t, chat)

	req := NewAnswerRequest("反应器有哪些类型？", nil, Options{})
	ans, err := svc.Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if ans.ResponseType != "direct_answer" || ans.ContextUsed {
		t.Errorf("response_type = %q, context_used = %v", ans.ResponseType, ans.ContextUsed)
	}
	if ans.RetrievalResults.UsedSegments != 0 {
		t.Errorf("used_segments = %d", ans.RetrievalResults.UsedSegments)
	}
	if ans.QualityAssessment.ContextBased {
		t.Error("quality assessment should not be context based")
	}
}

func TestAskGenerationError(t *testing.T) {
	chat := &fakeChat{err: errors.New("api unavailable")}
	svc, _ := newTestService(t, chat)

	req := NewAnswerRequest("问题", nil, Options{})
	if _, err := svc.Ask(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
}

func TestNormalizeConfidenceScaling(t *testing.T) {
	cases := []struct {
		quality    int
		confidence int
	}{
		{0, 0},
		{50, 60},
		{60, 72},
		{84, 100},
		{100, 100}, // scaled value clamps back to 100
	}
	for _, tc := range cases {
		ans := Answer{
			Answer:            "回答",
			ResponseType:      "rag_based",
			QualityAssessment: generator.Quality{QualityScore: tc.quality},
		}
		rec := Normalize(ans, "问题", nil, nil)
		if rec.Confidence != tc.confidence {
			t.Errorf("quality %d: confidence = %d, want %d", tc.quality, rec.Confidence, tc.confidence)
		}
	}
}

func TestNormalizeSuccessRecord(t *testing.T) {
	ans := Answer{
		Answer:       "催化剂降低活化能。",
		ResponseType: "rag_based",
		ContextUsed:  true,
		RetrievalResults: history.RetrievalSummary{
			TotalSegments: 3,
			UsedSegments:  2,
		},
		QualityAssessment: generator.Quality{QualityScore: 75, Assessment: "good"},
	}
	rec := Normalize(ans, "催化剂的作用？", []string{"催化剂"}, nil)

	if rec.ID == "" || rec.Timestamp.IsZero() {
		t.Errorf("record identity missing: %+v", rec)
	}
	if rec.Question != "催化剂的作用？" || rec.Answer != ans.Answer {
		t.Errorf("record = %+v", rec)
	}
	if rec.Confidence != 90 || rec.ResponseType != "rag_based" || !rec.ContextUsed {
		t.Errorf("record = %+v", rec)
	}
	if rec.RetrievalResults.UsedSegments != 2 {
		t.Errorf("retrieval summary not carried: %+v", rec.RetrievalResults)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "催化剂" {
		t.Errorf("tags = %v", rec.Tags)
	}
}

func TestNormalizeErrorRecord(t *testing.T) {
	rec := Normalize(Answer{}, "问题", nil, errors.New("连接超时"))

	if rec.ResponseType != "error" {
		t.Errorf("response_type = %q", rec.ResponseType)
	}
	if rec.Confidence != 0 || rec.ContextUsed {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(rec.Answer, "连接超时") {
		t.Errorf("answer %q does not embed the failure reason", rec.Answer)
	}
	if rec.Tags == nil {
		t.Error("tags should default to an empty slice")
	}
	if rec.RetrievalResults.UsedSegments != 0 || rec.GenerationResults.Model != "" {
		t.Errorf("sub-objects not empty: %+v", rec)
	}
}
