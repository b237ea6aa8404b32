package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chemkb/chemkb/internal/parsing"
	"github.com/chemkb/chemkb/internal/storage"
)

func handleParseLocal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		src, header, err := r.FormFile("file")
		if err != nil {
			fail(w, http.StatusBadRequest, "no file provided: %v", err)
			return
		}
		defer src.Close()

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
		if !parsing.Supported(ext) {
			fail(w, http.StatusBadRequest, "unsupported file type %q", ext)
			return
		}

		// The parser dispatches on the path extension, so the temp file
		// keeps the original one.
		tmp, err := os.CreateTemp("", "chemkb-parse-*."+ext)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to stage file: %v", err)
			return
		}
		defer os.Remove(tmp.Name())

		_, err = io.Copy(tmp, src)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to stage file: %v", err)
			return
		}

		rec, err := saveParse(deps, tmp.Name(), "", header.Filename, ext)
		if err != nil {
			fail(w, http.StatusInternalServerError, "parsing failed: %v", err)
			return
		}
		okData(w, rec)
	}
}

func handleParseDatabase(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		path, file, err := deps.Files.Path(fileID)
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "file not found")
			return
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to resolve file: %v", err)
			return
		}

		rec, err := saveParse(deps, path, file.ID, file.Name, file.Type)
		if err != nil {
			fail(w, http.StatusInternalServerError, "parsing failed: %v", err)
			return
		}
		if err := deps.Store.UpdateFileStatus(file.ID, storage.FileStatusParsed); err != nil {
			fail(w, http.StatusInternalServerError, "failed to update file status: %v", err)
			return
		}
		okData(w, rec)
	}
}

func saveParse(deps AppDeps, path, fileID, fileName, fileType string) (storage.ParseRecord, error) {
	text, err := parsing.ExtractText(path)
	if err != nil {
		return storage.ParseRecord{}, err
	}

	rec := storage.ParseRecord{
		ID:         uuid.New().String(),
		FileID:     fileID,
		FileName:   fileName,
		Content:    text,
		Summary:    parsing.Summary(text),
		TextLength: utf8.RuneCountInString(text),
		FileType:   fileType,
		CreatedAt:  time.Now(),
	}
	if err := deps.Store.SaveParse(rec); err != nil {
		return storage.ParseRecord{}, fmt.Errorf("saving parse record: %w", err)
	}
	return rec, nil
}

func handleParseHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		records, err := deps.Store.ListParses(limit, offset)
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to list parses: %v", err)
			return
		}
		if records == nil {
			records = []storage.ParseRecord{}
		}
		okData(w, records)
	}
}

func handleGetParse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.GetParse(id)
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "parse record not found")
			return
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to get parse record: %v", err)
			return
		}
		okData(w, rec)
	}
}

func handleDeleteParse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteParse(id)
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "parse record not found")
			return
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to delete parse record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "parse record deleted",
		})
	}
}

func handleParseDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.GetParse(id)
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, http.StatusNotFound, "parse record not found")
			return
		}
		if err != nil {
			fail(w, http.StatusInternalServerError, "failed to get parse record: %v", err)
			return
		}

		name := strings.TrimSuffix(rec.FileName, filepath.Ext(rec.FileName)) + ".txt"
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
		w.Header().Set("Content-Disposition", disposition)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, rec.Content)
	}
}

func handleParseSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			fail(w, http.StatusBadRequest, "query parameter q is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.SearchParses(q, limit)
		if err != nil {
			fail(w, http.StatusInternalServerError, "search failed: %v", err)
			return
		}
		if records == nil {
			records = []storage.ParseRecord{}
		}
		okData(w, records)
	}
}
