// Package history persists question-answer records in a capped,
// newest-first list backed by a blob store.
package history

import (
	"time"

	"github.com/chemkb/chemkb/internal/generator"
	"github.com/chemkb/chemkb/internal/llm"
	"github.com/chemkb/chemkb/internal/retrieval"
)

// RetrievalSummary describes the retrieval half of an answered question.
type RetrievalSummary struct {
	TotalSegments int                      `json:"total_segments"`
	UsedSegments  int                      `json:"used_segments"`
	SearchTime    float64                  `json:"search_time"`
	MinSimilarity float64                  `json:"min_similarity"`
	CitedSegments []retrieval.CitedSegment `json:"cited_segments"`
}

// GenerationSummary describes the generation half of an answered question.
type GenerationSummary struct {
	Model          string         `json:"model"`
	GenerationTime float64        `json:"generation_time"`
	TokenUsage     llm.TokenUsage `json:"token_usage"`
	FinishReason   string         `json:"finish_reason"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
}

// Record is one question-answer interaction. Records are immutable once
// created; errors are recorded too, with ResponseType "error" and
// Confidence 0, so rendering never needs a separate error path.
type Record struct {
	ID                string            `json:"id"`
	Question          string            `json:"question"`
	Answer            string            `json:"answer"`
	Tags              []string          `json:"tags"`
	Timestamp         time.Time         `json:"timestamp"`
	ResponseType      string            `json:"response_type"`
	Confidence        int               `json:"confidence"`
	RetrievalResults  RetrievalSummary  `json:"retrieval_results"`
	GenerationResults GenerationSummary `json:"generation_results"`
	QualityAssessment generator.Quality `json:"quality_assessment"`
	ContextUsed       bool              `json:"context_used"`
}
