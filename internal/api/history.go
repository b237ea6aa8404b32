package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chemkb/chemkb/internal/history"
)

func handleHistoryList(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := deps.History.List()
		if records == nil {
			records = []history.Record{}
		}
		qaOK(w, "获取历史记录成功", map[string]any{
			"total":   len(records),
			"records": records,
		})
	}
}

func handleHistorySearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyword := r.URL.Query().Get("q")
		var tags []string
		if raw := strings.TrimSpace(r.URL.Query().Get("tags")); raw != "" {
			for _, tag := range strings.Split(raw, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}

		records := deps.History.Search(keyword, tags)
		if records == nil {
			records = []history.Record{}
		}
		qaOK(w, "搜索历史记录成功", map[string]any{
			"total":   len(records),
			"records": records,
		})
	}
}

func handleHistoryDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.History.Delete(id); err != nil {
			qaFail(w, http.StatusInternalServerError, "删除历史记录失败: %v", err)
			return
		}
		qaOK(w, "删除历史记录成功", map[string]any{"id": id})
	}
}

func handleHistoryBatchDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			qaFail(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if len(body.IDs) == 0 {
			qaFail(w, http.StatusBadRequest, "ids is required and must not be empty")
			return
		}

		deleted, err := deps.History.BatchDelete(body.IDs)
		if err != nil {
			qaFail(w, http.StatusInternalServerError, "批量删除失败: %v", err)
			return
		}
		qaOK(w, "批量删除完成", map[string]any{"deleted": deleted})
	}
}

func handleHistoryStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qaOK(w, "获取统计信息成功", deps.History.Stats())
	}
}

func handleHistoryExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}

		data, err := deps.History.Export(format)
		if err != nil {
			qaFail(w, http.StatusBadRequest, "导出失败: %v", err)
			return
		}

		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="qa_history.csv"`)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", `attachment; filename="qa_history.json"`)
		}
		w.Write(data)
	}
}
