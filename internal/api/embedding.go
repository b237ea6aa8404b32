package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chemkb/chemkb/internal/ingest"
	"github.com/chemkb/chemkb/internal/retrieval"
)

func handleEmbeddingCreate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		useRemote := true
		if deps.Defaults.UseOpenAIEmbedding != nil {
			useRemote = *deps.Defaults.UseOpenAIEmbedding
		}
		var body struct {
			UseOpenAIEmbedding *bool `json:"use_openai_embedding"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			fail(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if body.UseOpenAIEmbedding != nil {
			useRemote = *body.UseOpenAIEmbedding
		}

		segments, err := deps.Store.GetSegmentsByFile(fileID)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to load segments: %v", err)
			return
		}
		if len(segments) == 0 {
			fail(w, http.StatusBadRequest, "file %s has no segments, segment it first", fileID)
			return
		}

		jobID, err := ingest.Enqueue(deps.Store, fileID, useRemote)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to queue index build: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": true,
			"data": map[string]any{
				"job_id":        jobID,
				"file_id":       fileID,
				"segment_count": len(segments),
				"status":        "queued",
			},
		})
	}
}

func handleEmbeddingInfo(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		count, err := deps.Vectors.CountByFile(fileID)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to count vectors: %v", err)
			return
		}
		dim, err := deps.Vectors.Dimension()
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to read index dimension: %v", err)
			return
		}

		okData(w, map[string]any{
			"file_id":      fileID,
			"exists":       count > 0,
			"vector_count": count,
			"dimension":    dim,
		})
	}
}

func handleEmbeddingDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		deleted, err := deps.Vectors.DeleteByFile(fileID)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to delete index: %v", err)
			return
		}
		okData(w, map[string]any{
			"file_id": fileID,
			"deleted": deleted,
		})
	}
}

func handleEmbeddingList(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := deps.Vectors.ListFiles()
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to list indexes: %v", err)
			return
		}
		if infos == nil {
			infos = []retrieval.IndexInfo{}
		}
		okData(w, map[string]any{
			"count":   len(infos),
			"indexes": infos,
		})
	}
}

type vectorSearchRequest struct {
	Query              string   `json:"query"`
	FileIDs            []string `json:"file_ids"`
	TopK               int      `json:"top_k"`
	MinSimilarity      float64  `json:"min_similarity"`
	UseOpenAIEmbedding *bool    `json:"use_openai_embedding"`
}

func decodeVectorSearch(w http.ResponseWriter, r *http.Request) (vectorSearchRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req vectorSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return req, false
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		fail(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.TopK > 50 {
		req.TopK = 50
	}
	return req, true
}

func handleEmbeddingSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		req, ok := decodeVectorSearch(w, r)
		if !ok {
			return
		}
		useRemote := req.UseOpenAIEmbedding == nil || *req.UseOpenAIEmbedding

		results, err := deps.Retriever.RetrieveFromFiles(r.Context(), req.Query, []string{fileID}, req.TopK, req.MinSimilarity, useRemote)
		if err != nil {
			fail(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}

		okData(w, map[string]any{
			"query":   req.Query,
			"file_id": fileID,
			"count":   len(results),
			"results": results,
		})
	}
}

func handleEmbeddingSearchMulti(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeVectorSearch(w, r)
		if !ok {
			return
		}
		useRemote := req.UseOpenAIEmbedding == nil || *req.UseOpenAIEmbedding

		results, err := deps.Retriever.RetrieveFromFiles(r.Context(), req.Query, req.FileIDs, req.TopK, req.MinSimilarity, useRemote)
		if err != nil {
			fail(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}

		okData(w, map[string]any{
			"query":   req.Query,
			"count":   len(results),
			"results": results,
		})
	}
}

func handleEmbeddingHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := deps.Vectors.Count()
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to count vectors: %v", err)
			return
		}

		okData(w, map[string]any{
			"openai_available": deps.Embedder.RemoteAvailable(),
			"local_available":  deps.Embedder.LocalAvailable(r.Context()),
			"total_vectors":    total,
		})
	}
}
