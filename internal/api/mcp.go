package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chemkb/chemkb/internal/files"
	"github.com/chemkb/chemkb/internal/history"
	"github.com/chemkb/chemkb/internal/qa"
	"github.com/chemkb/chemkb/internal/segment"
	"github.com/chemkb/chemkb/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Files   *files.Manager
	QA      *qa.Service
	History *history.Store
}

// NewMCPServer creates an MCP server exposing the knowledge base tools
// and resources over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chemkb",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chemkb — chemical engineering knowledge base with retrieval-augmented question answering over uploaded documents."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the knowledge base a question. Retrieves relevant document passages and generates a grounded answer."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithArray("file_ids", mcp.Description("Optional file IDs to restrict retrieval to")),
			mcp.WithNumber("top_k", mcp.Description("Number of passages to retrieve (default 3, max 20)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_segments",
			mcp.WithDescription("Keyword-search the stored document segments."),
			mcp.WithString("query", mcp.Description("Search keyword"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchSegments(deps),
	)

	s.AddTool(
		mcp.NewTool("recommend_tags",
			mcp.WithDescription("Recommend chemical-engineering domain tags for a piece of text."),
			mcp.WithString("text", mcp.Description("The text to tag"), mcp.Required()),
		),
		mcpRecommendTags(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"kb://files",
			"Knowledge Base Files",
			mcp.WithResourceDescription("Uploaded documents and their processing status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFiles(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kb://history/recent",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 question-answer records (questions only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentHistory(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		fileIDs := req.GetStringSlice("file_ids", nil)
		topK := req.GetInt("top_k", 0)

		askReq := qa.NewAnswerRequest(question, nil, qa.Options{
			FileIDs: fileIDs,
			TopK:    topK,
		})
		if err := askReq.Validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		answer, askErr := deps.QA.Ask(ctx, askReq)
		if !deps.History.Add(qa.Normalize(answer, askReq.Question, askReq.Tags, askErr)) {
			slog.Warn("failed to persist history record", "question", askReq.Question)
		}
		if askErr != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", askErr)), nil
		}

		result := map[string]any{
			"answer":        answer.Answer,
			"response_type": answer.ResponseType,
			"used_segments": answer.RetrievalResults.UsedSegments,
			"quality":       answer.QualityAssessment.Assessment,
		}
		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchSegments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		records, err := deps.Store.SearchSegments(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(toSegmentViews(records))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecommendTags(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		b, err := json.Marshal(segment.RecommendTags(text))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tags: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceFiles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, _, err := deps.Files.List(1, 100)
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal files: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecentHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records := deps.History.List()
		if len(records) > 10 {
			records = records[:10]
		}

		type recordSummary struct {
			ID           string `json:"id"`
			Timestamp    string `json:"timestamp"`
			Question     string `json:"question"`
			ResponseType string `json:"response_type"`
			Confidence   int    `json:"confidence"`
		}

		summaries := make([]recordSummary, len(records))
		for i, rec := range records {
			question := rec.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = recordSummary{
				ID:           rec.ID,
				Timestamp:    rec.Timestamp.Format(time.RFC3339),
				Question:     question,
				ResponseType: rec.ResponseType,
				Confidence:   rec.Confidence,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
