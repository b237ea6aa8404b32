package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chemkb/chemkb/internal/segment"
	"github.com/chemkb/chemkb/internal/storage"
)

// segmentView is a SegmentRecord with the tags decoded for JSON output.
type segmentView struct {
	ID             string    `json:"segment_id"`
	FileID         string    `json:"file_id"`
	FileName       string    `json:"file_name"`
	Order          int       `json:"order"`
	Text           string    `json:"text"`
	Tags           []string  `json:"tags"`
	CharacterCount int       `json:"character_count"`
	WordCount      int       `json:"word_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toSegmentView(rec storage.SegmentRecord) segmentView {
	tags := []string{}
	if rec.Tags != "" {
		json.Unmarshal([]byte(rec.Tags), &tags)
	}
	return segmentView{
		ID:             rec.ID,
		FileID:         rec.FileID,
		FileName:       rec.FileName,
		Order:          rec.Order,
		Text:           rec.Text,
		Tags:           tags,
		CharacterCount: rec.CharacterCount,
		WordCount:      rec.WordCount,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func toSegmentViews(records []storage.SegmentRecord) []segmentView {
	views := make([]segmentView, len(records))
	for i, rec := range records {
		views[i] = toSegmentView(rec)
	}
	return views
}

func handleSegmentCreate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		parse, err := deps.Store.GetParseByFileID(fileID)
		if errors.Is(err, storage.ErrNotFound) {
			segFail(w, http.StatusNotFound, "file has no parsed text, parse it first")
			return
		}
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to load parse record: %v", err)
			return
		}

		segments := segment.SegmentDocument(fileID, parse.Content, parse.FileName)
		if len(segments) == 0 {
			segFail(w, http.StatusBadRequest, "text too short to segment")
			return
		}

		// Re-segmenting replaces the previous segments.
		if _, err := deps.Store.DeleteSegmentsByFile(fileID); err != nil {
			segFail(w, http.StatusInternalServerError, "failed to clear old segments: %v", err)
			return
		}
		if err := deps.Store.SaveSegments(segments); err != nil {
			segFail(w, http.StatusInternalServerError, "failed to save segments: %v", err)
			return
		}
		if err := deps.Store.UpdateFileStatus(fileID, storage.FileStatusSegmented); err != nil {
			segFail(w, http.StatusInternalServerError, "failed to update file status: %v", err)
			return
		}

		segOK(w, map[string]any{
			"file_id":       fileID,
			"segment_count": len(segments),
		})
	}
}

func handleSegmentsByFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		records, err := deps.Store.GetSegmentsByFile(fileID)
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to load segments: %v", err)
			return
		}

		segOK(w, map[string]any{
			"file_id":       fileID,
			"segment_count": len(records),
			"segments":      toSegmentViews(records),
		})
	}
}

type tagUpdate struct {
	SegmentID string   `json:"segment_id"`
	Tags      []string `json:"tags"`
}

func applyTagUpdate(deps AppDeps, update tagUpdate) error {
	if _, err := deps.Store.GetSegment(update.SegmentID); err != nil {
		return err
	}
	tags := update.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return deps.Store.UpdateSegmentTags(update.SegmentID, string(encoded))
}

func handleTagSave(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var update tagUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			segFail(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if update.SegmentID == "" {
			segFail(w, http.StatusBadRequest, "segment_id is required")
			return
		}

		err := applyTagUpdate(deps, update)
		if errors.Is(err, storage.ErrNotFound) {
			segFail(w, http.StatusNotFound, "segment not found")
			return
		}
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to save tags: %v", err)
			return
		}
		segOK(w, map[string]any{
			"segment_id": update.SegmentID,
			"tags":       update.Tags,
		})
	}
}

func handleTagBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Updates []tagUpdate `json:"updates"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			segFail(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if len(req.Updates) == 0 {
			segFail(w, http.StatusBadRequest, "updates is required and must not be empty")
			return
		}

		updated, failed := 0, 0
		for _, update := range req.Updates {
			if update.SegmentID == "" || applyTagUpdate(deps, update) != nil {
				failed++
				continue
			}
			updated++
		}

		segOK(w, map[string]any{
			"updated": updated,
			"failed":  failed,
		})
	}
}

func handleRecommendTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		segmentID := chi.URLParam(r, "segmentId")

		rec, err := deps.Store.GetSegment(segmentID)
		if errors.Is(err, storage.ErrNotFound) {
			segFail(w, http.StatusNotFound, "segment not found")
			return
		}
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to load segment: %v", err)
			return
		}

		segOK(w, map[string]any{
			"segment_id":       segmentID,
			"recommended_tags": segment.RecommendTags(rec.Text),
		})
	}
}

func handleSegmentSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		var tags []string
		if raw := strings.TrimSpace(r.URL.Query().Get("tags")); raw != "" {
			for _, tag := range strings.Split(raw, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}
		if q == "" && len(tags) == 0 {
			segFail(w, http.StatusBadRequest, "q or tags is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		var records []storage.SegmentRecord
		var err error
		if q != "" {
			records, err = deps.Store.SearchSegments(q, limit)
		} else {
			records, err = deps.Store.SegmentsByTags(tags, limit)
		}
		if err != nil {
			segFail(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}

		// With both filters, tags narrow the keyword matches.
		if q != "" && len(tags) > 0 {
			filtered := records[:0]
			for _, rec := range records {
				if segmentHasAnyTag(rec, tags) {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}

		segOK(w, map[string]any{
			"count":    len(records),
			"segments": toSegmentViews(records),
		})
	}
}

func segmentHasAnyTag(rec storage.SegmentRecord, wanted []string) bool {
	var tags []string
	if err := json.Unmarshal([]byte(rec.Tags), &tags); err != nil {
		return false
	}
	for _, w := range wanted {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}

func handleSegmentTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.AllSegmentTags()
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to list tags: %v", err)
			return
		}
		segOK(w, map[string]any{"tags": counts})
	}
}

func handleSegmentStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.GetSegmentStats()
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to compute stats: %v", err)
			return
		}
		segOK(w, stats)
	}
}

func handleSegmentsDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		deletedSegments, err := deps.Store.DeleteSegmentsByFile(fileID)
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to delete segments: %v", err)
			return
		}
		deletedVectors, err := deps.Vectors.DeleteByFile(fileID)
		if err != nil {
			segFail(w, http.StatusInternalServerError, "failed to delete vectors: %v", err)
			return
		}

		segOK(w, map[string]any{
			"file_id":          fileID,
			"deleted_segments": deletedSegments,
			"deleted_vectors":  deletedVectors,
		})
	}
}
