// internal/gateway/handler.go
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tenantgate/pkg/identity"
	"tenantgate/pkg/logger"
	"tenantgate/pkg/problems"
	"tenantgate/pkg/quota"
	"tenantgate/pkg/usage"
)

type Handler struct {
	log    *zap.SugaredLogger
	quotas *quota.Resolver
	execs  usage.ExecutionCounter
}

func New(log *zap.SugaredLogger, quotas *quota.Resolver, execs usage.ExecutionCounter) *Handler {
	return &Handler{log: log, quotas: quotas, execs: execs}
}

// RegisterRoutes mounts the identity and quota endpoints. Routes expect the
// identity middleware to have run.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/identity", h.getIdentity)
	r.Get("/v1/quotas", h.listQuotas)
	r.Get("/v1/quotas/{kind}", h.getQuota)
	r.Post("/v1/executions", h.recordExecution)
}

type quotasResponse struct {
	SubjectID string           `json:"subject_id"`
	Quotas    []quota.Snapshot `json:"quotas"`
}

type executionResponse struct {
	Executions int64          `json:"executions"`
	Quota      quota.Snapshot `json:"quota"`
}

func (h *Handler) getIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "no_credential", "Authentication required", "")
		return
	}
	writeJSON(w, id, http.StatusOK)
}

func (h *Handler) listQuotas(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "no_credential", "Authentication required", "")
		return
	}
	writeJSON(w, quotasResponse{SubjectID: id.SubjectID, Quotas: h.quotas.All(r.Context(), id.SubjectID)}, http.StatusOK)
}

func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "no_credential", "Authentication required", "")
		return
	}
	kind, ok := quota.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		problems.Write(w, http.StatusNotFound, "unknown_quota", "Unknown quota kind", chi.URLParam(r, "kind"))
		return
	}
	snap, err := h.quotas.Get(r.Context(), kind, id.SubjectID)
	if err != nil {
		problems.Write(w, http.StatusNotFound, "unknown_quota", "Unknown quota kind", err.Error())
		return
	}
	writeJSON(w, snap, http.StatusOK)
}

// recordExecution admits one execution against the monthly quota. A counter
// failure admits the execution and reports a degraded snapshot. The pre-check
// and the increment are separate store calls, so the count returned by the
// atomic increment is checked against the limit again.
func (h *Handler) recordExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := identity.FromContext(ctx)
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "no_credential", "Authentication required", "")
		return
	}
	snap := h.quotas.Executions(ctx, id.SubjectID)
	if snap.Exhausted() {
		problems.Write(w, http.StatusTooManyRequests, "quota_exhausted", "Execution quota exhausted", "monthly execution limit reached for plan "+string(id.Plan))
		return
	}
	n, err := h.execs.IncrementExecutions(ctx, id.SubjectID)
	if err != nil {
		logger.FromContext(ctx, h.log).Warnw("execution counter increment failed", "subject", id.SubjectID, "err", err)
		snap.Degraded = true
		writeJSON(w, executionResponse{Executions: int64(snap.Usage), Quota: snap}, http.StatusAccepted)
		return
	}
	snap.Usage = float64(n)
	if !snap.Degraded && snap.Usage > snap.Limit {
		problems.Write(w, http.StatusTooManyRequests, "quota_exhausted", "Execution quota exhausted", "monthly execution limit reached for plan "+string(id.Plan))
		return
	}
	writeJSON(w, executionResponse{Executions: n, Quota: snap}, http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
