package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chemkb/chemkb/internal/files"
	"github.com/chemkb/chemkb/internal/storage"
)

type uploadedFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	SavedAs  string `json:"saved_as"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

type failedFile struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				fail(w, http.StatusRequestEntityTooLarge, "file too large, maximum size is %dMB", files.MaxUploadSize>>20)
				return
			}
			fail(w, http.StatusBadRequest, "invalid multipart request: %v", err)
			return
		}

		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			fail(w, http.StatusBadRequest, "no file selected")
			return
		}

		// Oversize declarations reject the whole request before any write.
		for _, header := range headers {
			if header.Size > files.MaxUploadSize {
				fail(w, http.StatusRequestEntityTooLarge, "file %q too large, maximum size is %dMB", header.Filename, files.MaxUploadSize>>20)
				return
			}
		}

		var uploaded []uploadedFile
		var failed []failedFile
		for _, header := range headers {
			src, err := header.Open()
			if err != nil {
				failed = append(failed, failedFile{Filename: header.Filename, Error: err.Error()})
				continue
			}
			rec, err := deps.Files.Save(header.Filename, header.Size, src)
			src.Close()
			if err != nil {
				failed = append(failed, failedFile{Filename: header.Filename, Error: err.Error()})
				continue
			}
			uploaded = append(uploaded, uploadedFile{
				ID:       rec.ID,
				Filename: rec.Name,
				SavedAs:  rec.SavedAs,
				Size:     rec.Size,
				Type:     rec.Type,
			})
		}

		if len(uploaded) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "all files failed to upload",
				"data": map[string]any{
					"failed": failed,
					"total":  len(headers),
				},
			})
			return
		}

		status := http.StatusOK
		if len(failed) > 0 {
			status = http.StatusMultiStatus
		}
		if failed == nil {
			failed = []failedFile{}
		}
		writeJSON(w, status, map[string]any{
			"success": true,
			"message": fmt.Sprintf("uploaded %d files", len(uploaded)),
			"data": map[string]any{
				"uploaded": uploaded,
				"failed":   failed,
				"total":    len(headers),
			},
		})
	}
}

func handleListFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := parseIntParam(r, "page", 1, 0)
		perPage := parseIntParam(r, "per_page", 50, 100)

		records, pagination, err := deps.Files.List(page, perPage)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to list files: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"data":       records,
			"pagination": pagination,
		})
	}
}

func handleDeleteFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Files.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to delete file: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "file deleted",
		})
	}
}

func handleDownloadFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		path, rec, err := deps.Files.Path(id)
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to resolve file: %v", err)
			return
		}

		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name})
		w.Header().Set("Content-Disposition", disposition)
		http.ServeFile(w, r, path)
	}
}

func handleFileStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Files.Stats()
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to compute stats: %v", err)
			return
		}
		okData(w, stats)
	}
}
