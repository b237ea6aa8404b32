package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/chemkb/chemkb/internal/generator"
	"github.com/chemkb/chemkb/internal/history"
	"github.com/chemkb/chemkb/internal/retrieval"
)

// Answer is the full outcome of one question, as exposed by the QA API.
type Answer struct {
	Question          string                    `json:"question"`
	Answer            string                    `json:"answer"`
	ResponseType      string                    `json:"response_type"`
	TotalTime         float64                   `json:"total_time"`
	RetrievalResults  history.RetrievalSummary  `json:"retrieval_results"`
	GenerationResults history.GenerationSummary `json:"generation_results"`
	QualityAssessment generator.Quality         `json:"quality_assessment"`
	ContextUsed       bool                      `json:"context_used"`
}

// Service ties retrieval and generation into the RAG answer flow.
type Service struct {
	retriever *retrieval.Retriever
	generator *generator.Generator
}

// NewService creates the QA orchestrator.
func NewService(retriever *retrieval.Retriever, gen *generator.Generator) *Service {
	return &Service{retriever: retriever, generator: gen}
}

// Ask retrieves relevant passages, generates a grounded answer, and
// assesses its quality. The request must already be validated.
func (s *Service) Ask(ctx context.Context, req AnswerRequest) (Answer, error) {
	start := time.Now()

	searchStart := time.Now()
	results, err := s.retriever.RetrieveFromFiles(ctx, req.Question, req.FileIDs, req.TopK, req.MinSimilarity, req.UseOpenAIEmbedding)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}
	searchTime := time.Since(searchStart).Seconds()

	contextText, cited := s.retriever.FormatContext(results)
	if len(cited) == 0 {
		contextText = ""
	}

	genResult, err := s.generator.Generate(ctx, req.Question, contextText, req.Temperature, req.MaxTokens)
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Question:     req.Question,
		Answer:       genResult.Answer,
		ResponseType: genResult.ResponseType,
		TotalTime:    time.Since(start).Seconds(),
		RetrievalResults: history.RetrievalSummary{
			TotalSegments: len(results),
			UsedSegments:  len(cited),
			SearchTime:    searchTime,
			MinSimilarity: req.MinSimilarity,
			CitedSegments: cited,
		},
		GenerationResults: history.GenerationSummary{
			Model:          genResult.Model,
			GenerationTime: genResult.GenerationTime,
			TokenUsage:     genResult.TokenUsage,
			FinishReason:   genResult.FinishReason,
			Temperature:    req.Temperature,
			MaxTokens:      req.MaxTokens,
		},
		QualityAssessment: generator.EvaluateQuality(genResult.Answer, contextText),
		ContextUsed:       genResult.ContextUsed,
	}, nil
}

// HealthInfo aggregates the health of the retrieval and generation sides.
type HealthInfo struct {
	Status     string               `json:"status"`
	Retrieval  retrieval.Status     `json:"retrieval_service"`
	Generation generator.StatusInfo `json:"generation_service"`
}

// Health probes both halves of the QA pipeline.
func (s *Service) Health(ctx context.Context) (HealthInfo, error) {
	retStatus, err := s.retriever.ServiceStatus(ctx)
	if err != nil {
		return HealthInfo{}, err
	}
	genStatus := s.generator.ServiceStatus()

	status := "healthy"
	if genStatus.ServiceStatus != "healthy" {
		status = "degraded"
	}
	return HealthInfo{
		Status:     status,
		Retrieval:  retStatus,
		Generation: genStatus,
	}, nil
}

// AvailableFiles lists the files that can currently be asked about.
func (s *Service) AvailableFiles() ([]retrieval.IndexInfo, error) {
	infos, err := s.retriever.AvailableFiles()
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []retrieval.IndexInfo{}
	}
	return infos, nil
}
