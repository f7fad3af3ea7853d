package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/menumap/internal/batch"
	"github.com/kalambet/menumap/internal/mapper"
	"github.com/kalambet/menumap/internal/storage"
)

const maxUploadSize = 32 << 20 // 32MB

// MenuMapper maps a single free-text menu name.
type MenuMapper interface {
	Map(ctx context.Context, menuName string) (mapper.Result, error)
}

type AppDeps struct {
	Store       *storage.Store
	Mapper      MenuMapper
	Token       string
	MaxAttempts int               // retries per batch row
	ReadOptions batch.ReadOptions // applied to CSV uploads
}

// NewAppHandler returns the menu-mapping REST API. /health is always open;
// every other route requires the bearer token when one is configured.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/menu-mapping", handleMap(deps))
		r.Post("/menu-mapping/batch", handleBatchCSV(deps))
		r.Post("/menu-mapping/pdf", handleBatchPDF(deps))
		r.Get("/batches/{id}", handleGetBatch(deps))
		r.Get("/predictions", handleListPredictions(deps))
		r.Get("/predictions/{id}", handleGetPrediction(deps))
		r.Patch("/predictions/{id}", handlePatchPrediction(deps))
	})

	return r
}

// handleMap returns the ranked matches for ?menu_name=. With ?verbose=true
// the whole pipeline result is returned instead.
func handleMap(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.URL.Query().Get("menu_name"))
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "menu_name is required")
			return
		}

		res, err := deps.Mapper.Map(r.Context(), name)
		if errors.Is(err, mapper.ErrEmptyInput) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "menu_name %q has no mappable text", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "mapping failed: %v", err)
			return
		}

		if r.URL.Query().Get("verbose") == "true" {
			writeJSON(w, http.StatusOK, res)
			return
		}
		matches := res.Matches
		if matches == nil {
			matches = []mapper.QueryResult{}
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

type batchAccepted struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	Rows    int    `json:"rows"`
}

func handleBatchCSV(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		rows, err := batch.ReadCSV(file, deps.ReadOptions)
		if errors.Is(err, batch.ErrHeaderMismatch) || errors.Is(err, batch.ErrInvalidRow) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading csv: %v", err)
			return
		}

		submit(w, deps, filepath.Base(header.Filename), "csv", rows)
	}
}

func handleBatchPDF(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		rows, err := batch.ExtractPDFItems(file, header.Size)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		submit(w, deps, filepath.Base(header.Filename), "pdf", rows)
	}
}

func submit(w http.ResponseWriter, deps AppDeps, filename, source string, rows []batch.Row) {
	b, err := batch.Submit(deps.Store, filename, source, rows, deps.MaxAttempts)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to queue batch: %v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, batchAccepted{BatchID: b.ID, Status: b.Status, Rows: len(rows)})
}

type batchStatus struct {
	storage.Batch
	Accuracy storage.BatchAccuracy `json:"accuracy"`
}

func handleGetBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		b, err := deps.Store.GetBatch(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get batch: %v", err)
			return
		}

		acc, err := deps.Store.BatchAccuracy(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute accuracy: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, batchStatus{Batch: b, Accuracy: acc})
	}
}

func handleListPredictions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 500)
		offset := parseIntParam(r, "offset", 0, 0)
		batchID := r.URL.Query().Get("batch_id")

		preds, err := deps.Store.ListPredictions(limit, offset, batchID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list predictions: %v", err)
			return
		}
		if preds == nil {
			preds = []storage.Prediction{}
		}
		writeJSON(w, http.StatusOK, preds)
	}
}

func handleGetPrediction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		p, err := deps.Store.GetPrediction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prediction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get prediction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchPrediction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			IsApproved *bool `json:"is_approved"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.IsApproved == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "is_approved is required")
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.SetApproval(id, *req.IsApproved)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prediction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update prediction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}
