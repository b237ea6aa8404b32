// Package qa orchestrates retrieval-augmented question answering and
// normalizes outcomes into history records.
package qa

import (
	"fmt"
	"strings"
)

// Defaults applied by NewAnswerRequest.
const (
	DefaultTopK        = 3
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 1000
)

// Options carries the optional knobs of an answer request. Pointer
// fields distinguish "absent" from an explicit zero.
type Options struct {
	FileIDs            []string
	TopK               int
	MinSimilarity      float64
	UseOpenAIEmbedding *bool
	Temperature        *float64
	MaxTokens          int
}

// AnswerRequest is a fully defaulted question-answering request.
type AnswerRequest struct {
	Question           string
	Tags               []string
	FileIDs            []string
	TopK               int
	MinSimilarity      float64
	UseOpenAIEmbedding bool
	Temperature        float64
	MaxTokens          int
}

// NewAnswerRequest trims the question and fills in defaults. It does not
// validate; callers reject blank questions and out-of-range knobs before
// asking.
func NewAnswerRequest(question string, tags []string, opts Options) AnswerRequest {
	req := AnswerRequest{
		Question:           strings.TrimSpace(question),
		Tags:               tags,
		FileIDs:            opts.FileIDs,
		TopK:               opts.TopK,
		MinSimilarity:      opts.MinSimilarity,
		UseOpenAIEmbedding: true,
		Temperature:        DefaultTemperature,
		MaxTokens:          opts.MaxTokens,
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if req.FileIDs == nil {
		req.FileIDs = []string{}
	}
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if opts.UseOpenAIEmbedding != nil {
		req.UseOpenAIEmbedding = *opts.UseOpenAIEmbedding
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	return req
}

// Validate checks the boundary constraints enforced before answering.
func (r AnswerRequest) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("question must not be empty")
	}
	if r.TopK < 1 || r.TopK > 20 {
		return fmt.Errorf("top_k must be between 1 and 20")
	}
	return nil
}
