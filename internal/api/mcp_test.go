package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/chemkb/chemkb/internal/llm"
	"github.com/chemkb/chemkb/internal/qa"
	"github.com/chemkb/chemkb/internal/retrieval"
)

func newTestMCPDeps(t *testing.T, chat *fakeChat) (MCPDeps, AppDeps) {
	t.Helper()
	_, deps := newTestApp(t, chat)
	return MCPDeps{
		Store:   deps.Store,
		Files:   deps.Files,
		QA:      deps.QA,
		History: deps.History,
	}, deps
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("tool handler returned error: %v", err)
	}
	return result
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("content has %d entries, want 1", len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func TestMCPAsk(t *testing.T) {
	chat := &fakeChat{result: chatResultWith("催化剂通过降低活化能加快反应。")}
	mcpDeps, deps := newTestMCPDeps(t, chat)

	if err := deps.Vectors.Insert([]retrieval.Record{
		{ID: "v1", SegmentID: "s1", FileID: "f1", FileName: "a.pdf", TextChunk: strings.Repeat("催化剂的作用机理。", 4), Embedding: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	result := callTool(t, mcpAsk(mcpDeps), map[string]any{"question": "催化剂的作用？"})
	if result.IsError {
		t.Fatalf("ask failed: %s", toolText(t, result))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &payload); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if payload["response_type"].(string) != "rag_based" {
		t.Errorf("response_type = %v", payload["response_type"])
	}
	if payload["used_segments"].(float64) == 0 {
		t.Errorf("used_segments = %v", payload["used_segments"])
	}

	if records := deps.History.List(); len(records) != 1 {
		t.Errorf("history has %d records, want 1", len(records))
	}
}

func TestMCPAskMissingQuestion(t *testing.T) {
	mcpDeps, deps := newTestMCPDeps(t, &fakeChat{})

	result := callTool(t, mcpAsk(mcpDeps), map[string]any{})
	if !result.IsError {
		t.Error("missing question should be a tool error")
	}
	if records := deps.History.List(); len(records) != 0 {
		t.Errorf("rejected ask left %d history records", len(records))
	}
}

func TestMCPSearchSegments(t *testing.T) {
	mcpDeps, deps := newTestMCPDeps(t, &fakeChat{})

	result := callTool(t, mcpSearchSegments(mcpDeps), map[string]any{"query": "催化"})
	if got := toolText(t, result); got != "[]" {
		t.Errorf("empty store returned %q, want []", got)
	}

	h := NewAppHandler(deps)
	seedSegmentedFile(t, h)

	result = callTool(t, mcpSearchSegments(mcpDeps), map[string]any{"query": "催化", "limit": 5})
	if result.IsError {
		t.Fatalf("search failed: %s", toolText(t, result))
	}
	var views []segmentView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(views) == 0 {
		t.Error("no segments found")
	}
}

func TestMCPRecommendTags(t *testing.T) {
	mcpDeps, _ := newTestMCPDeps(t, &fakeChat{})

	result := callTool(t, mcpRecommendTags(mcpDeps), map[string]any{"text": "反应器的温度控制与安全联锁。"})
	if result.IsError {
		t.Fatalf("recommend failed: %s", toolText(t, result))
	}
	var tags []string
	if err := json.Unmarshal([]byte(toolText(t, result)), &tags); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(tags) == 0 {
		t.Error("no tags recommended for domain text")
	}
}

func TestMCPResourceFiles(t *testing.T) {
	mcpDeps, deps := newTestMCPDeps(t, &fakeChat{})
	h := NewAppHandler(deps)
	uploadFile(t, h, "手册.txt", "内容")

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "kb://files"
	contents, err := mcpResourceFiles(mcpDeps)(context.Background(), req)
	if err != nil {
		t.Fatalf("resource handler: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents has %d entries, want 1", len(contents))
	}
	text := contents[0].(mcp.TextResourceContents)
	if text.MIMEType != "application/json" || text.URI != "kb://files" {
		t.Errorf("contents = %+v", text)
	}
	if !strings.Contains(text.Text, "手册.txt") {
		t.Errorf("files resource missing upload: %s", text.Text)
	}
}

func TestMCPResourceRecentHistoryTruncates(t *testing.T) {
	mcpDeps, deps := newTestMCPDeps(t, &fakeChat{})

	longQuestion := strings.Repeat("问", 250)
	for i := 0; i < 12; i++ {
		deps.History.Add(qa.Normalize(qa.Answer{Answer: "答", ResponseType: "direct_answer"}, longQuestion, nil, nil))
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "kb://history/recent"
	contents, err := mcpResourceRecentHistory(mcpDeps)(context.Background(), req)
	if err != nil {
		t.Fatalf("resource handler: %v", err)
	}

	var summaries []struct {
		Question     string `json:"question"`
		ResponseType string `json:"response_type"`
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if err := json.Unmarshal([]byte(text), &summaries); err != nil {
		t.Fatalf("decoding resource: %v", err)
	}
	if len(summaries) != 10 {
		t.Errorf("got %d summaries, want 10", len(summaries))
	}
	for _, s := range summaries {
		if got := len([]rune(s.Question)); got != 203 {
			t.Errorf("question length = %d runes, want 200 plus ellipsis", got)
		}
		if !strings.HasSuffix(s.Question, "...") {
			t.Errorf("question not truncated: %q", s.Question[:20])
		}
	}
}

func chatResultWith(content string) llm.ChatResult {
	return llm.ChatResult{Content: content, Model: "gpt-4o-mini", FinishReason: "stop"}
}
