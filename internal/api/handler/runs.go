// Package handler implements the HTTP handlers of the dupreaper API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/dupreaper/internal/api/middleware"
	"github.com/kiranshivaraju/dupreaper/internal/api/response"
	"github.com/kiranshivaraju/dupreaper/internal/service"
	"github.com/kiranshivaraju/dupreaper/internal/store"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// RunService is the subset of the run service used by the HTTP handlers.
type RunService interface {
	Start(ctx context.Context, req service.RunRequest) (*models.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
	List(ctx context.Context, filter store.RunFilter) ([]*models.Run, int, error)
	Progress(ctx context.Context, id uuid.UUID) (*service.Progress, bool, error)
}

type runResponse struct {
	*models.Run
	Progress *service.Progress `json:"progress,omitempty"`
}

// NewCreateRunHandler returns an http.HandlerFunc for POST /api/v1/runs.
func NewCreateRunHandler(svc RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Index         string `json:"index"`
			Start         string `json:"start"`
			End           string `json:"end"`
			WindowMinutes int    `json:"window_minutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Index == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "index is required", nil)
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "start must be a valid RFC3339 timestamp", nil)
			return
		}
		end, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "end must be a valid RFC3339 timestamp", nil)
			return
		}
		if req.WindowMinutes < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "window_minutes must not be negative", nil)
			return
		}

		run, err := svc.Start(r.Context(), service.RunRequest{
			Index:      req.Index,
			Start:      start,
			End:        end,
			WindowSize: time.Duration(req.WindowMinutes) * time.Minute,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidRequest):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, service.ErrIndexBusy):
				response.Error(w, http.StatusConflict, "INDEX_BUSY",
					"A run is already active for this index", nil)
			default:
				slog.Error("starting run failed", "index", req.Index, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		keyID, _ := mw.GetAPIKeyID(r)
		slog.Info("run accepted", "run_id", run.ID, "index", run.Index, "api_key_id", keyID)
		response.Accepted(w, run)
	}
}

// NewListRunsHandler returns an http.HandlerFunc for GET /api/v1/runs.
func NewListRunsHandler(svc RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		page, err := intParam(q.Get("page"), 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := intParam(q.Get("limit"), defaultPageLimit)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return
		}
		limit = min(limit, maxPageLimit)

		status := q.Get("status")
		switch status {
		case "", models.RunStatusPending, models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusFailed:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown status filter", nil)
			return
		}

		runs, total, err := svc.List(r.Context(), store.RunFilter{
			Index:  q.Get("index"),
			Status: status,
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			slog.Error("listing runs failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if runs == nil {
			runs = []*models.Run{}
		}

		response.Collection(w, runs, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetRunHandler returns an http.HandlerFunc for GET /api/v1/runs/{runID}.
// Runs still in flight carry their cached progress.
func NewGetRunHandler(svc RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "runID must be a UUID", nil)
			return
		}

		run, err := svc.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RUN_NOT_FOUND", "Run not found", nil)
				return
			}
			slog.Error("loading run failed", "run_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		resp := runResponse{Run: run}
		if run.Status == models.RunStatusPending || run.Status == models.RunStatusRunning {
			if p, found, err := svc.Progress(r.Context(), id); err != nil {
				slog.Warn("loading run progress failed", "run_id", id, "error", err)
			} else if found {
				resp.Progress = p
			}
		}

		response.JSON(w, resp)
	}
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
