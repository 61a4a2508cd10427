package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dvloznov/accountbook/internal/api/middleware"
	"github.com/dvloznov/accountbook/internal/app"
	"github.com/dvloznov/accountbook/internal/importer"
	"github.com/dvloznov/accountbook/internal/jobs"
	"github.com/dvloznov/accountbook/internal/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sessions resolves per-user collaborators. *app.App satisfies it.
type Sessions interface {
	Session(userID string) *app.Session
}

// ImportsHandler handles bulk import endpoints.
type ImportsHandler struct {
	sessions  Sessions
	publisher jobs.Publisher
}

// NewImportsHandler creates a new imports handler. publisher may be nil, in
// which case queued imports are rejected.
func NewImportsHandler(sessions Sessions, publisher jobs.Publisher) *ImportsHandler {
	return &ImportsHandler{sessions: sessions, publisher: publisher}
}

// Import handles POST /api/imports. The file is either the raw body (named by
// the filename query parameter or typed by Content-Type) or the "file" part of
// a multipart form.
func (h *ImportsHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		body     io.Reader = r.Body
		filename           = filepath.Base(r.URL.Query().Get("filename"))
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "file part is required")
			return
		}
		defer file.Close()
		body = file
		filename = filepath.Base(header.Filename)
	} else if filename == "." && r.Header.Get("Content-Type") == xlsxContentType {
		filename = "upload.xlsx"
	}
	if filename == "." || filename == "/" {
		filename = "upload.csv"
	}

	result, err := h.sessions.Session(userID).Importer.ImportFile(ctx, filename, body)
	if err != nil {
		status := importStatus(err)
		log.Error().Err(err).Str("filename", filename).Int("status", status).Msg("Import failed")
		middleware.WriteError(w, status, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

// EnqueueImport handles POST /api/imports/jobs for files already in GCS.
func (h *ImportsHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Import queue is not available")
		return
	}

	var req struct {
		Source   string `json:"source"`
		Filename string `json:"filename"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !strings.HasPrefix(req.Source, "gs://") {
		middleware.WriteError(w, http.StatusBadRequest, "source must be a gs:// URI")
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	job := &jobs.ImportJob{
		UserID:   userID,
		Source:   req.Source,
		Filename: req.Filename,
	}
	if err := h.publisher.PublishImport(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("source", req.Source).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// importStatus maps input problems to 4xx and ledger failures to 502.
func importStatus(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, importer.ErrInvalidFile), errors.Is(err, importer.ErrNoValidRows):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
