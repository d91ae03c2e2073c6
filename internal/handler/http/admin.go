package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/utafrali/catalogsync/internal/service"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
	"github.com/utafrali/catalogsync/pkg/httputil"
	"github.com/utafrali/catalogsync/pkg/validator"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 16

// Reindexer starts reindex runs and reports on them.
type Reindexer interface {
	Start(ctx context.Context, recreate bool) error
	Status() service.ReindexStatus
}

// Backfiller starts embedding backfills.
type Backfiller interface {
	Start(ctx context.Context) error
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	reindexer  Reindexer
	backfiller Backfiller
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(reindexer Reindexer, backfiller Backfiller, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		reindexer:  reindexer,
		backfiller: backfiller,
		logger:     logger,
	}
}

// ReindexRequest is the optional JSON body of POST /api/v1/admin/reindex.
type ReindexRequest struct {
	Recreate bool `json:"recreate"`
}

type startedResponse struct {
	Status string `json:"status"`
}

// StartReindex handles POST /api/v1/admin/reindex
func (h *AdminHandler) StartReindex(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ReindexRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	// The run outlives the request.
	ctx := context.WithoutCancel(r.Context())
	if err := h.reindexer.Start(ctx, req.Recreate); err != nil {
		if errors.Is(err, service.ErrReindexInProgress) {
			httputil.WriteError(w, r, apperrors.Conflict("a reindex is already running", err), h.logger)
			return
		}
		httputil.WriteError(w, r, apperrors.Internal(err), h.logger)
		return
	}

	h.logger.InfoContext(r.Context(), "reindex started via admin API", slog.Bool("recreate", req.Recreate))
	httputil.WriteJSON(w, http.StatusAccepted, startedResponse{Status: "started"})
}

// ReindexStatus handles GET /api/v1/admin/reindex
func (h *AdminHandler) ReindexStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.reindexer.Status()})
}

// StartBackfill handles POST /api/v1/admin/embeddings
func (h *AdminHandler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	if err := h.backfiller.Start(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, service.ErrBackfillInProgress) {
			httputil.WriteError(w, r, apperrors.Conflict("an embedding backfill is already running", err), h.logger)
			return
		}
		httputil.WriteError(w, r, apperrors.Internal(err), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, startedResponse{Status: "started"})
}
