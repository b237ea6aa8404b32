// Package api exposes the knowledge base over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chemkb/chemkb/internal/files"
	"github.com/chemkb/chemkb/internal/history"
	"github.com/chemkb/chemkb/internal/qa"
	"github.com/chemkb/chemkb/internal/retrieval"
	"github.com/chemkb/chemkb/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Upload bodies get headroom over the per-file limit for multipart framing.
const maxUploadBodySize = files.MaxUploadSize + (1 << 20)

// AppDeps holds everything the HTTP layer needs.
type AppDeps struct {
	Store     *storage.Store
	Files     *files.Manager
	Vectors   retrieval.VectorStore
	Embedder  *retrieval.Embedder
	Retriever *retrieval.Retriever
	QA        *qa.Service
	History   *history.Store

	// Defaults seeds answer requests with operator-configured values when
	// the caller omits a tuning field. The zero value falls through to the
	// request builder's own defaults.
	Defaults qa.Options
}

// NewAppHandler wires every service under /api.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleAppHealth(deps))

		r.Post("/upload", handleUpload(deps))
		r.Get("/files", handleListFiles(deps))
		r.Get("/files/stats", handleFileStats(deps))
		r.Get("/files/download/{id}", handleDownloadFile(deps))
		r.Delete("/files/{id}", handleDeleteFile(deps))

		r.Route("/parse", func(r chi.Router) {
			r.Post("/local", handleParseLocal(deps))
			r.Post("/database/{fileId}", handleParseDatabase(deps))
			r.Get("/history", handleParseHistory(deps))
			r.Get("/search", handleParseSearch(deps))
			r.Get("/download/{id}", handleParseDownload(deps))
			r.Get("/{id}", handleGetParse(deps))
			r.Delete("/{id}", handleDeleteParse(deps))
		})

		r.Route("/segment", func(r chi.Router) {
			r.Post("/create/{fileId}", handleSegmentCreate(deps))
			r.Get("/file/{fileId}", handleSegmentsByFile(deps))
			r.Delete("/file/{fileId}", handleSegmentsDelete(deps))
			r.Post("/tag", handleTagSave(deps))
			r.Post("/tag/batch", handleTagBatch(deps))
			r.Get("/recommend/{segmentId}", handleRecommendTags(deps))
			r.Get("/search", handleSegmentSearch(deps))
			r.Get("/tags", handleSegmentTags(deps))
			r.Get("/stats", handleSegmentStats(deps))
		})

		r.Route("/embedding", func(r chi.Router) {
			r.Get("/health", handleEmbeddingHealth(deps))
			r.Get("/list", handleEmbeddingList(deps))
			r.Get("/info/{fileId}", handleEmbeddingInfo(deps))
			r.Post("/search/multi", handleEmbeddingSearchMulti(deps))
			r.Post("/search/{fileId}", handleEmbeddingSearch(deps))
			r.Post("/{fileId}", handleEmbeddingCreate(deps))
			r.Delete("/{fileId}", handleEmbeddingDelete(deps))
		})

		r.Route("/qa", func(r chi.Router) {
			r.Post("/rag", handleQARag(deps))
			r.Get("/health", handleQAHealth(deps))
			r.Get("/available-files", handleQAAvailableFiles(deps))

			r.Route("/history", func(r chi.Router) {
				r.Get("/", handleHistoryList(deps))
				r.Get("/search", handleHistorySearch(deps))
				r.Get("/stats", handleHistoryStats(deps))
				r.Get("/export", handleHistoryExport(deps))
				r.Post("/batch-delete", handleHistoryBatchDelete(deps))
				r.Delete("/{id}", handleHistoryDelete(deps))
			})
		})
	})

	return r
}

func handleAppHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := deps.Vectors.Count()
		if err != nil {
			fail(w, http.StatusInternalServerError, "health check failed: %v", err)
			return
		}
		fileCount, err := deps.Store.CountFiles()
		if err != nil {
			fail(w, http.StatusInternalServerError, "health check failed: %v", err)
			return
		}
		okData(w, map[string]any{
			"status":        "ok",
			"total_files":   fileCount,
			"total_vectors": total,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// okData writes the {success, data} envelope used by the document routes.
func okData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func fail(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	})
}

// segOK writes the {success, code, data} envelope used by the segment routes.
func segOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"code":    http.StatusOK,
		"data":    data,
	})
}

func segFail(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    status,
		"error":   fmt.Sprintf(format, args...),
	})
}

// qaOK writes the {success, code, msg, data} envelope used by the QA routes.
func qaOK(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"code":    http.StatusOK,
		"msg":     msg,
		"data":    data,
	})
}

func qaFail(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    status,
		"msg":     fmt.Sprintf(format, args...),
		"data":    nil,
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
