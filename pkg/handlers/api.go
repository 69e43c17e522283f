// Package handlers implements the HTTP API of the policy assistant.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/arti-cloud/policy-assistant/pkg/monitoring"
	"github.com/arti-cloud/policy-assistant/pkg/rag"
)

// Asker is the pipeline entry point the handlers depend on.
type Asker interface {
	Ask(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

// Ingester is the ingestion entry point the handlers depend on.
type Ingester interface {
	IngestBatch(ctx context.Context, files []rag.IngestFile) *rag.IngestResult
}

// Handler bundles the HTTP handlers and their collaborators.
type Handler struct {
	asker    Asker
	ingester Ingester
	store    rag.VectorStore
	metrics  *monitoring.Metrics
	logger   *slog.Logger
}

// New creates the API handler set.
func New(asker Asker, ingester Ingester, store rag.VectorStore, metrics *monitoring.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		asker:    asker,
		ingester: ingester,
		store:    store,
		metrics:  metrics,
		logger:   logger.With("component", "api"),
	}
}

// Register attaches the API routes. Health endpoints go on the public
// router; everything else goes on the protected one, which carries the
// API-key middleware when a key is configured.
func (h *Handler) Register(public, protected *mux.Router) {
	public.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	public.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)
	protected.HandleFunc("/ask", h.Ask).Methods(http.MethodPost)
	protected.HandleFunc("/ingest", h.Ingest).Methods(http.MethodPost)
	protected.HandleFunc("/docs", h.ListDocs).Methods(http.MethodGet)
	protected.HandleFunc("/docs/{doc_id}", h.GetDoc).Methods(http.MethodGet)
	protected.HandleFunc("/feedback", h.Feedback).Methods(http.MethodPost)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness by checking the vector store.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Count(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ask answers a policy question.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var q rag.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := h.asker.Ask(r.Context(), q)
	if err != nil {
		h.logger.Error("Question failed", "error", err, "kind", rag.KindOf(err))
		h.metrics.RecordQuestion("error", time.Since(start))
		writeError(w, statusForError(err), publicMessage(err))
		return
	}

	h.metrics.RecordQuestion("ok", time.Since(start))
	writeJSON(w, http.StatusOK, answer)
}

// Ingest accepts a multipart file list and ingests each file
// independently, reporting per-file errors.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	files := make([]rag.IngestFile, 0, len(uploads))
	cleanup := make([]string, 0, len(uploads))
	defer func() {
		for _, path := range cleanup {
			os.Remove(path)
		}
	}()

	result := &rag.IngestResult{Errors: []string{}}
	for _, upload := range uploads {
		path, err := spoolUpload(upload)
		if err != nil {
			result.Errors = append(result.Errors, upload.Filename+": "+err.Error())
			continue
		}
		cleanup = append(cleanup, path)
		files = append(files, rag.IngestFile{Path: path, Name: upload.Filename})
	}

	batch := h.ingester.IngestBatch(r.Context(), files)
	result.Upserted = batch.Upserted
	result.Errors = append(result.Errors, batch.Errors...)

	h.metrics.RecordIngest(result.Upserted, len(result.Errors))
	h.logger.Info("Ingest batch complete", "files", len(uploads), "upserted", result.Upserted, "errors", len(result.Errors))
	writeJSON(w, http.StatusOK, result)
}

// spoolUpload writes an uploaded file to a temp path, since the document
// loaders work on files.
func spoolUpload(upload *multipart.FileHeader) (string, error) {
	src, err := upload.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "ingest-"+uuid.NewString()+"-*"+filepath.Ext(upload.Filename))
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ListDocs returns the indexed documents.
func (h *Handler) ListDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.Docs(r.Context())
	if err != nil {
		h.logger.Error("Doc listing failed", "error", err)
		writeError(w, http.StatusBadGateway, "document index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"docs": docs})
}

// GetDoc returns metadata for one document.
func (h *Handler) GetDoc(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["doc_id"]
	docs, err := h.store.Docs(r.Context())
	if err != nil {
		h.logger.Error("Doc lookup failed", "error", err)
		writeError(w, http.StatusBadGateway, "document index unavailable")
		return
	}
	for _, doc := range docs {
		if doc.DocID == docID {
			writeJSON(w, http.StatusOK, doc)
			return
		}
	}
	writeError(w, http.StatusNotFound, "document not found")
}

// feedbackRequest is the accepted /feedback payload.
type feedbackRequest struct {
	AnswerID string `json:"answer_id"`
	Helpful  bool   `json:"helpful"`
	Comment  string `json:"comment,omitempty"`
}

// Feedback acknowledges feedback; it is logged for later analysis only.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var fb feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fb.AnswerID == "" {
		writeError(w, http.StatusBadRequest, "answer_id is required")
		return
	}
	h.logger.Info("Feedback received",
		"answer_id", fb.AnswerID,
		"helpful", fb.Helpful,
		"comment", fb.Comment,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusForError(err error) int {
	switch rag.KindOf(err) {
	case rag.KindValidation:
		return http.StatusBadRequest
	case rag.KindAuth:
		return http.StatusUnauthorized
	case rag.KindRetrievalUnavailable, rag.KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps upstream failure detail out of client responses.
func publicMessage(err error) string {
	switch rag.KindOf(err) {
	case rag.KindValidation:
		return "question is required"
	case rag.KindRetrievalUnavailable:
		return "policy index is unavailable"
	case rag.KindGeneration:
		return "answer generation failed"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
