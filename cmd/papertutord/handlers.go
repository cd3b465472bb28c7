package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/salmanmuddhoo/papertutor"
	"github.com/salmanmuddhoo/papertutor/tutor"
)

type handler struct {
	pipeline *papertutor.Pipeline
}

func newHandler(p *papertutor.Pipeline) *handler {
	return &handler{pipeline: p}
}

// POST /papers
// Multipart upload: form file "file", optional fields "id", "title", "kind".
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err != nil { // 100MB max
		writeError(w, http.StatusBadRequest, "expected multipart upload with 'file'")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		slog.Error("reading uploaded file", "error", err)
		return
	}

	safeName := filepath.Base(header.Filename)
	id := r.FormValue("id")
	if id == "" {
		// Derive an ID from the filename when the client doesn't supply one.
		id = strings.TrimSuffix(safeName, filepath.Ext(safeName))
	}
	title := r.FormValue("title")
	if title == "" {
		title = safeName
	}

	res, err := h.pipeline.IngestPaper(ctx, papertutor.IngestRequest{
		ID:       id,
		Title:    title,
		Kind:     r.FormValue("kind"),
		Document: data,
	})
	if err != nil {
		slog.Error("ingest error", "document_id", id, "stage", stageOf(res), "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func stageOf(res *papertutor.IngestResult) string {
	if res == nil {
		return ""
	}
	return res.Stage
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req struct {
		DocumentID string `json:"document_id"`
		Question   string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.pipeline.Ask(ctx, req.DocumentID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, papertutor.ErrPaperNotFound):
			writeError(w, http.StatusNotFound, "paper not found")
		case errors.Is(err, tutor.ErrNoContent):
			writeError(w, http.StatusConflict, "this paper is still processing, please try again shortly")
		default:
			// Operators get the real error in the log; the student
			// only ever sees a retry prompt.
			slog.Error("ask error", "document_id", req.DocumentID, "error", err)
			writeError(w, http.StatusInternalServerError, "something went wrong answering your question, please try again")
		}
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /papers/{id}/answer-key
func (h *handler) handleLinkAnswerKey(w http.ResponseWriter, r *http.Request) {
	paperID := r.PathValue("id")

	var req struct {
		SchemeID string `json:"scheme_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SchemeID == "" {
		writeError(w, http.StatusBadRequest, "scheme_id is required")
		return
	}

	if err := h.pipeline.LinkAnswerKey(r.Context(), paperID, req.SchemeID); err != nil {
		if errors.Is(err, papertutor.ErrPaperNotFound) {
			writeError(w, http.StatusNotFound, "paper not found")
			return
		}
		slog.Error("link answer key error", "paper", paperID, "scheme", req.SchemeID, "error", err)
		writeError(w, http.StatusInternalServerError, "linking failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"paper_id":  paperID,
		"scheme_id": req.SchemeID,
	})
}

// GET /papers
func (h *handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.pipeline.ListPapers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list papers")
		slog.Error("list papers error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"papers": papers,
	})
}

// DELETE /papers/{id}
func (h *handler) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.pipeline.DeletePaper(r.Context(), id); err != nil {
		if errors.Is(err, papertutor.ErrPaperNotFound) {
			writeError(w, http.StatusNotFound, "paper not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /search?q=...&limit=20&mode=text|similar|hybrid
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be 1-100")
			return
		}
		limit = n
	}

	var results interface{}
	var err error
	switch r.URL.Query().Get("mode") {
	case "similar":
		results, err = h.pipeline.SimilarQuestions(r.Context(), q, limit)
	case "hybrid":
		results, err = h.pipeline.HybridQuestions(r.Context(), q, limit)
	default:
		results, err = h.pipeline.SearchQuestions(r.Context(), q, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", q, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipeline.Store().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unhealthy")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
