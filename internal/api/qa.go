package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chemkb/chemkb/internal/qa"
)

// askTimeout bounds one full retrieve-and-generate round trip.
const askTimeout = 120 * time.Second

type ragRequest struct {
	Question           string   `json:"question"`
	Tags               []string `json:"tags"`
	FileIDs            []string `json:"file_ids"`
	TopK               int      `json:"top_k"`
	MinSimilarity      float64  `json:"min_similarity"`
	UseOpenAIEmbedding *bool    `json:"use_openai_embedding"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          int      `json:"max_tokens"`
}

func handleQARag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body ragRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			qaFail(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		opts := qa.Options{
			FileIDs:            body.FileIDs,
			TopK:               body.TopK,
			MinSimilarity:      body.MinSimilarity,
			UseOpenAIEmbedding: body.UseOpenAIEmbedding,
			Temperature:        body.Temperature,
			MaxTokens:          body.MaxTokens,
		}
		// Configured defaults fill the gaps before the builder's own do.
		if opts.TopK == 0 {
			opts.TopK = deps.Defaults.TopK
		}
		if opts.MinSimilarity == 0 {
			opts.MinSimilarity = deps.Defaults.MinSimilarity
		}
		if opts.UseOpenAIEmbedding == nil {
			opts.UseOpenAIEmbedding = deps.Defaults.UseOpenAIEmbedding
		}
		if opts.Temperature == nil {
			opts.Temperature = deps.Defaults.Temperature
		}
		if opts.MaxTokens == 0 {
			opts.MaxTokens = deps.Defaults.MaxTokens
		}

		req := qa.NewAnswerRequest(body.Question, body.Tags, opts)
		if err := req.Validate(); err != nil {
			qaFail(w, http.StatusBadRequest, "%v", err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
		defer cancel()

		answer, err := deps.QA.Ask(ctx, req)

		// Every resolved ask leaves exactly one history record, errors included.
		if !deps.History.Add(qa.Normalize(answer, req.Question, req.Tags, err)) {
			slog.Warn("failed to persist history record", "question", req.Question)
		}

		if err != nil {
			qaFail(w, http.StatusInternalServerError, "RAG 问答失败: %v", err)
			return
		}
		qaOK(w, "RAG 问答成功", answer)
	}
}

func handleQAHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := deps.QA.Health(r.Context())
		if err != nil {
			qaFail(w, http.StatusInternalServerError, "健康检查失败: %v", err)
			return
		}
		qaOK(w, "问答服务健康检查完成", health)
	}
}

func handleQAAvailableFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := deps.QA.AvailableFiles()
		if err != nil {
			qaFail(w, http.StatusInternalServerError, "获取可用文件失败: %v", err)
			return
		}
		qaOK(w, "获取可用文件成功", map[string]any{
			"count": len(infos),
			"files": infos,
		})
	}
}
