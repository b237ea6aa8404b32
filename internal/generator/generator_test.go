package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chemkb/chemkb/internal/llm"
)

type fakeChat struct {
	result  llm.ChatResult
	err     error
	lastReq llm.ChatRequest
	hasKey  bool
}

func (f *fakeChat) ChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	f.lastReq = req
	if f.err != nil {
		return llm.ChatResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeChat) ChatModel() string { return "gpt-4o-mini" }
func (f *fakeChat) HasKey() bool      { return f.hasKey }

func TestGenerateRAGBased(t *testing.T) {
	chat := &fakeChat{
		hasKey: true,
		result: llm.ChatResult{
			Content:      "催化剂通过降低活化能加快反应。",
			Model:        "gpt-4o-mini",
			FinishReason: "stop",
			Usage:        llm.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		},
	}
	g := New(chat)

	result, err := g.Generate(context.Background(), "催化剂的作用是什么？", "1. 催化剂降低反应活化能。", 0.1, 1000)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.ResponseType != ResponseTypeRAG {
		t.Errorf("response_type = %q, want rag_based", result.ResponseType)
	}
	if !result.ContextUsed {
		t.Error("context_used = false")
	}
	if result.Answer != chat.result.Content || result.Model != "gpt-4o-mini" {
		t.Errorf("result = %+v", result)
	}

	// Prompt carries the context, the question, and the grounding instruction.
	userMsg := chat.lastReq.Messages[1].Content
	if !strings.Contains(userMsg, "催化剂降低反应活化能") {
		t.Error("prompt missing context")
	}
	if !strings.Contains(userMsg, "催化剂的作用是什么？") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(userMsg, "根据提供的资料无法确定") {
		t.Error("prompt missing grounding instruction")
	}
	if chat.lastReq.Messages[0].Role != "system" {
		t.Error("system message missing")
	}
	if chat.lastReq.Temperature != 0.1 || chat.lastReq.MaxTokens != 1000 {
		t.Errorf("params = %v, %d", chat.lastReq.Temperature, chat.lastReq.MaxTokens)
	}
}

func TestGenerateDirectWithoutContext(t *testing.T) {
	chat := &fakeChat{hasKey: true, result: llm.ChatResult{Content: "回答"}}
	g := New(chat)

	result, err := g.Generate(context.Background(), "问题", "   ", 0.1, 1000)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.ResponseType != ResponseTypeDirect {
		t.Errorf("response_type = %q, want direct_answer", result.ResponseType)
	}
	if result.ContextUsed {
		t.Error("context_used = true for blank context")
	}
	if strings.Contains(chat.lastReq.Messages[1].Content, "资料内容") {
		t.Error("direct prompt should not carry the RAG template")
	}
}

func TestGenerateError(t *testing.T) {
	chat := &fakeChat{err: errors.New("api unavailable")}
	g := New(chat)

	if _, err := g.Generate(context.Background(), "问题", "", 0.1, 1000); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildRAGPromptTruncation(t *testing.T) {
	longContext := strings.Repeat("工艺参数说明。", 3000) // far past the token budget
	prompt := BuildRAGPrompt("问题", longContext)

	if !strings.Contains(prompt, "[内容已截断...]") {
		t.Error("oversized context not truncated")
	}
	if got := estimateTokens(prompt); got > maxPromptTokens {
		t.Errorf("truncated prompt still estimates %d tokens", got)
	}

	short := BuildRAGPrompt("问题", "简短资料。")
	if strings.Contains(short, "[内容已截断...]") {
		t.Error("short context should not be truncated")
	}
}

func TestEvaluateQualityFullScore(t *testing.T) {
	answer := strings.Repeat("该化工工艺在温度 350℃、压力 2MPa 下运行，转化率达 95%。", 3)
	q := EvaluateQuality(answer, "有上下文")

	if q.QualityScore != 100 {
		t.Errorf("score = %d, want 100", q.QualityScore)
	}
	if q.Assessment != "good" {
		t.Errorf("assessment = %q", q.Assessment)
	}
	if !q.HasTechnicalTerms || !q.HasQuantitativeInfo || !q.ContextBased {
		t.Errorf("flags = %+v", q)
	}
}

func TestEvaluateQualityPoor(t *testing.T) {
	q := EvaluateQuality("不知道", "")
	if q.QualityScore != 0 || q.Assessment != "poor" {
		t.Errorf("q = %+v", q)
	}
}

func TestEvaluateQualityFair(t *testing.T) {
	// Length + technical terms only: 20 + 30 = 50.
	answer := strings.Repeat("反应需要控制好条件。", 6)
	q := EvaluateQuality(answer, "")
	if q.QualityScore != 50 || q.Assessment != "fair" {
		t.Errorf("q = %+v", q)
	}
}

func TestEvaluateQualityUncertainty(t *testing.T) {
	q := EvaluateQuality("根据提供的资料无法确定该参数。", "资料")
	if !q.AcknowledgesUncertainty {
		t.Error("uncertainty phrase not detected")
	}
}

func TestServiceStatus(t *testing.T) {
	g := New(&fakeChat{hasKey: false})
	if s := g.ServiceStatus(); s.ServiceStatus != "limited" || s.OpenAIAvailable {
		t.Errorf("status = %+v", s)
	}

	g = New(&fakeChat{hasKey: true})
	if s := g.ServiceStatus(); s.ServiceStatus != "healthy" || s.ChatModel != "gpt-4o-mini" {
		t.Errorf("status = %+v", s)
	}
}
