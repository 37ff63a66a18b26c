// Package agentapi exposes the triage agent over HTTP.
package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
	"github.com/linnemanlabs/warden/internal/triage"
)

// maxBodyBytes caps request bodies on write endpoints.
const maxBodyBytes = 1 << 20

// Service defines the business operations agentapi needs.
type Service interface {
	Submit(ctx context.Context, taskInput string) (*triage.SubmitResult, error)
	Policy(ctx context.Context) policy.Snapshot
	UpdatePolicy(ctx context.Context, snap policy.Snapshot) error
	Rules(ctx context.Context) ([]rules.Rule, error)
	Rule(ctx context.Context, id string) (rules.Rule, bool, error)
	Facts(ctx context.Context, factType string, limit int) ([]triage.FactRecord, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    Service
}

// New creates a new API handler.
func New(logger log.Logger, svc Service) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleTriage)
		r.Get("/policy", a.handleGetPolicy)
		r.Put("/policy", a.handlePutPolicy)
		r.Get("/rules", a.handleListRules)
		r.Get("/rules/{id}", a.handleGetRule)
		r.Get("/facts", a.handleListFacts)
	})
}

type triageRequest struct {
	TaskInput string `json:"task_input"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.svc.Submit(r.Context(), req.TaskInput)
	if errors.Is(err, triage.ErrEmptyInput) {
		writeError(w, http.StatusBadRequest, "task_input is required")
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "triage failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("warden.triage.directive", res.Outcome.PlanDirective),
		attribute.String("warden.triage.rule_id", res.Outcome.RuleID()),
	)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Policy(r.Context()))
}

func (a *API) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var snap policy.Snapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	err := a.svc.UpdatePolicy(r.Context(), snap)
	switch {
	case errors.Is(err, policy.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to update security policy")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	all, err := a.svc.Rules(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list rules")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": all})
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.rule.id", id))

	rule, ok, err := a.svc.Rule(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get rule", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleListFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	facts, err := a.svc.Facts(r.Context(), q.Get("type"), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list facts")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
