package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kensaku/internal/ctxutil"
	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/workflow"
)

// Executor runs one retrieval request end to end.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, req model.QueryRequest, user model.UserContext) ([]model.Context, *model.Metrics, error)
}

// CachePurger removes expired semantic-cache entries.
type CachePurger interface {
	Purge(ctx context.Context) error
}

// Readiness reports whether a backing store is reachable.
type Readiness func(ctx context.Context) error

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              Executor
	purger              CachePurger
	metadataReady       Readiness
	indexReady          Readiness
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Purger, MetadataReady, IndexReady.
type HandlersDeps struct {
	Engine              Executor
	Purger              CachePurger
	MetadataReady       Readiness
	IndexReady          Readiness
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:              d.Engine,
		purger:              d.Purger,
		metadataReady:       d.MetadataReady,
		indexReady:          d.IndexReady,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// retrieveResponse is the success payload for POST /v1/retrieve.
type retrieveResponse struct {
	Contexts []model.Context `json:"contexts"`
	Metrics  *model.Metrics  `json:"metrics"`
}

// HandleRetrieve handles POST /v1/retrieve.
func (h *Handlers) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	user, ok := ctxutil.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "no user in context")
		return
	}

	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	contexts, metrics, err := h.engine.ExecuteWorkflow(r.Context(), req, user)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	if contexts == nil {
		contexts = []model.Context{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Contexts: contexts, Metrics: metrics})
}

func (h *Handlers) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "deadline_exceeded", "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusRequestTimeout, "cancelled", "request cancelled")
	case errors.Is(workflow.Fatal(err), workflow.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "a retrieval dependency is unavailable")
	default:
		h.logger.Error("retrieve failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, "internal", "retrieval failed")
	}
}

// HandleCachePurge handles POST /v1/cache/purge (admin only).
func (h *Handlers) HandleCachePurge(w http.ResponseWriter, r *http.Request) {
	if h.purger == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "cache disabled")
		return
	}
	if err := h.purger.Purge(r.Context()); err != nil {
		writeError(w, r, http.StatusBadGateway, "upstream", "cache purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// HandleHealthz handles GET /healthz (liveness).
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// HandleReadyz handles GET /readyz (readiness): both backing stores must
// answer within a short deadline.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, check := range map[string]Readiness{"metadata": h.metadataReady, "index": h.indexReady} {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}
