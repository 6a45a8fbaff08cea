package httphandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
	"github.com/ericfisherdev/datagate/internal/metrics"
)

// DefaultMaxUploadBytes caps multipart uploads when no limit is configured.
const DefaultMaxUploadBytes int64 = 32 << 20

// maxJSONBody caps the JSON bodies of /database and /delete-files.
const maxJSONBody int64 = 4 << 20

// Handler is the HTTP driving adapter that serves the custom data API.
type Handler struct {
	records   driven.RecordStore
	blobs     driven.BlobStore
	maxUpload int64
	logger    *slog.Logger
}

// NewHandler creates a Handler. A non-positive maxUpload selects
// DefaultMaxUploadBytes.
func NewHandler(
	records driven.RecordStore,
	blobs driven.BlobStore,
	maxUpload int64,
	logger *slog.Logger,
) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		records:   records,
		blobs:     blobs,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// RouterOptions holds the optional collaborators of NewRouter.
type RouterOptions struct {
	Metrics *metrics.Metrics
	Limiter *RateLimiter
	Logger  *slog.Logger
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with request id, logging, metrics, rate limiting and recovery middleware.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = h.logger
	}

	r := mux.NewRouter()
	r.HandleFunc("/database", h.Database).Methods(http.MethodPost)
	r.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)
	r.HandleFunc("/download", h.Download).Methods(http.MethodGet)
	r.HandleFunc("/delete-files", h.DeleteFiles).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusNotFound, model.CodeNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusMethodNotAllowed, model.CodeInvalidRequest, "method not allowed")
	})

	// Recovery innermost so panics are caught before logging.
	var wrapped http.Handler = recoveryMiddleware(logger, r)
	if opts.Limiter != nil {
		wrapped = opts.Limiter.Middleware(wrapped)
	}
	if opts.Metrics != nil {
		wrapped = opts.Metrics.InstrumentHandler(wrapped)
	}
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Database executes one row operation described by a model.DatabaseRequest.
func (h *Handler) Database(w http.ResponseWriter, r *http.Request) {
	var req model.DatabaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Table == "" {
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "table is required")
		return
	}

	ctx := r.Context()

	switch req.Action {
	case model.ActionSelect:
		rows, count, err := h.records.Select(ctx, req.Table, model.SelectOptions{
			Columns: req.Columns,
			Filters: req.Filters,
			OrderBy: req.OrderBy,
			Limit:   req.Limit,
			Single:  req.Single,
		})
		if err != nil {
			h.writeStoreError(w, req, err)
			return
		}
		if req.Single {
			writeData(w, http.StatusOK, rows[0], nil)
			return
		}
		writeData(w, http.StatusOK, rows, &count)

	case model.ActionInsert:
		rows, err := decodeRows(req.Data)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
			return
		}
		inserted, err := h.records.Insert(ctx, req.Table, rows)
		if err != nil {
			h.writeStoreError(w, req, err)
			return
		}
		writeData(w, http.StatusCreated, inserted, nil)

	case model.ActionUpdate:
		var patch model.Row
		if err := json.Unmarshal(req.Data, &patch); err != nil || patch == nil {
			writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "data must be a JSON object")
			return
		}
		updated, err := h.records.Update(ctx, req.Table, patch, req.Filters)
		if err != nil {
			h.writeStoreError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, updated, nil)

	case model.ActionUpsert:
		rows, err := decodeRows(req.Data)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
			return
		}
		upserted, err := h.records.Upsert(ctx, req.Table, rows, model.UpsertOptions{OnConflict: req.OnConflict})
		if err != nil {
			h.writeStoreError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, upserted, nil)

	case model.ActionDelete:
		deleted, err := h.records.Delete(ctx, req.Table, req.Filters)
		if err != nil {
			h.writeStoreError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, deleted, nil)

	default:
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest,
			fmt.Sprintf("unknown action %q", req.Action))
	}
}

// Upload stores the multipart "file" field under the "bucket" and "path" fields.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(min(h.maxUpload, 8<<20)); err != nil {
		writeDecodeError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	bucket := r.FormValue("bucket")
	path := r.FormValue("path")
	if bucket == "" || path == "" {
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "bucket and path are required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	obj, err := h.blobs.Put(r.Context(), bucket, path, model.Blob{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.logger.Error("failed to store upload", "bucket", bucket, "path", path, "error", err)
		writeAPIError(w, http.StatusInternalServerError, model.CodeInternal, "internal server error")
		return
	}

	writeData(w, http.StatusOK, obj, nil)
}

// Download streams the raw bytes of one blob.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	path := r.URL.Query().Get("path")
	if bucket == "" || path == "" {
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "bucket and path are required")
		return
	}

	blob, err := h.blobs.Get(r.Context(), bucket, path)
	if errors.Is(err, model.ErrNotFound) {
		writeAPIError(w, http.StatusNotFound, model.CodeNotFound, "file not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read blob", "bucket", bucket, "path", path, "error", err)
		writeAPIError(w, http.StatusInternalServerError, model.CodeInternal, "internal server error")
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

// DeleteFiles removes paths from a bucket and answers with the removed ones.
func (h *Handler) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteFilesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Bucket == "" {
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "bucket is required")
		return
	}

	removed, err := h.blobs.Delete(r.Context(), req.Bucket, req.Paths)
	if err != nil {
		h.logger.Error("failed to delete blobs", "bucket", req.Bucket, "error", err)
		writeAPIError(w, http.StatusInternalServerError, model.CodeInternal, "internal server error")
		return
	}
	if removed == nil {
		removed = []string{}
	}

	writeData(w, http.StatusOK, removed, nil)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, req model.DatabaseRequest, err error) {
	switch {
	case errors.Is(err, driven.ErrInvalidColumn), errors.Is(err, driven.ErrInvalidFilter):
		writeAPIError(w, http.StatusBadRequest, model.CodeInvalidColumn, err.Error())
	case errors.Is(err, driven.ErrNotSingle):
		writeAPIError(w, http.StatusNotAcceptable, model.CodeNotSingle, err.Error())
	case errors.Is(err, driven.ErrDuplicateKey):
		writeAPIError(w, http.StatusConflict, model.CodeDuplicateKey, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, model.CodeNotFound, err.Error())
	default:
		h.logger.Error("database request failed",
			"table", req.Table,
			"action", req.Action,
			"error", err,
		)
		writeAPIError(w, http.StatusInternalServerError, model.CodeInternal, "internal server error")
	}
}

// decodeRows accepts either a JSON array of objects or a single object.
func decodeRows(raw json.RawMessage) ([]model.Row, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("data is required")
	}

	if trimmed[0] == '{' {
		var row model.Row
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, errors.New("data must be an object or an array of objects")
		}
		return []model.Row{row}, nil
	}

	var rows []model.Row
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, errors.New("data must be an object or an array of objects")
	}
	if len(rows) == 0 {
		return nil, errors.New("data must not be empty")
	}
	return rows, nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeAPIError(w, http.StatusRequestEntityTooLarge, model.CodeTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeAPIError(w, http.StatusBadRequest, model.CodeInvalidRequest, "malformed request body")
}
