// Package reviewapi exposes the review engine over HTTP.
package reviewapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/overwatch/internal/authmw"
	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/review"
)

// ReviewService defines the business operations reviewapi needs.
type ReviewService interface {
	CreateIncident(ctx context.Context, in *review.CreateIncidentInput) (*entity.Incident, error)
	CreateEvidencePackage(ctx context.Context, in *review.CreateEvidenceInput) (*entity.EvidencePackage, error)
	CreateMilestone(ctx context.Context, in *review.CreateMilestoneInput) (*entity.Milestone, error)
	Apply(ctx context.Context, req *review.TransitionRequest) (*review.TransitionResult, error)

	GetIncident(ctx context.Context, id string) (*entity.Incident, bool, error)
	GetEvidence(ctx context.Context, id string) (*entity.EvidencePackage, bool, error)
	GetMilestone(ctx context.Context, id string) (*entity.Milestone, bool, error)
	GetAlert(ctx context.Context, id string) (*entity.Alert, bool, error)

	ListIncidents(ctx context.Context) ([]entity.Incident, error)
	ListAlerts(ctx context.Context) ([]entity.Alert, error)
	ListMilestones(ctx context.Context, f review.MilestoneFilter) ([]entity.Milestone, error)

	Audit(ctx context.Context, entityID string) ([]review.AuditRecord, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ReviewService
}

// New creates a new API handler.
func New(logger log.Logger, svc ReviewService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("review service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents", a.handleCreateIncident)
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)

		r.Post("/evidence", a.handleCreateEvidence)
		r.Get("/evidence/{id}", a.handleGetEvidence)

		r.Post("/milestones", a.handleCreateMilestone)
		r.Get("/milestones", a.handleListMilestones)
		r.Get("/milestones/{id}", a.handleGetMilestone)

		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)

		r.Post("/transitions", a.handleTransition)
		r.Get("/audit/{entityID}", a.handleAudit)

		r.Get("/snapshot", a.handleSnapshot)
	})
}

func (a *API) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var in review.CreateIncidentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if _, ok := authmw.CallerFromContext(r.Context()); !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	inc, err := a.svc.CreateIncident(r.Context(), &in)
	if err != nil {
		a.writeError(w, r, err, "create incident failed")
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleCreateEvidence(w http.ResponseWriter, r *http.Request) {
	var in review.CreateEvidenceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if _, ok := authmw.CallerFromContext(r.Context()); !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	pkg, err := a.svc.CreateEvidencePackage(r.Context(), &in)
	if err != nil {
		// A committed package with a failed attach is reported with the
		// partial state, not rolled back.
		if pkg != nil {
			a.logger.Error(r.Context(), err, "package created but attach failed", "package_id", pkg.ID)
			writeJSON(w, http.StatusMultiStatus, map[string]any{
				"package": pkg,
				"error":   review.Kind(err),
			})
			return
		}
		a.writeError(w, r, err, "create evidence failed")
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (a *API) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	var in review.CreateMilestoneInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	caller, ok := authmw.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	// The authenticated identity owns the milestone regardless of what
	// the body claims.
	in.CreatedBy = caller.ID

	m, err := a.svc.CreateMilestone(r.Context(), &in)
	if err != nil {
		a.writeError(w, r, err, "create milestone failed")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// transitionBody is the wire shape of a transition request; caller
// identity always comes from authentication, never the body.
type transitionBody struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Transition string         `json:"transition"`
	Payload    review.Payload `json:"payload"`
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	caller, ok := authmw.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("overwatch.entity", body.EntityType+":"+body.EntityID),
		attribute.String("overwatch.transition", body.Transition),
	)

	res, err := a.svc.Apply(r.Context(), &review.TransitionRequest{
		Ref:        entity.Ref{Type: entity.Type(body.EntityType), ID: body.EntityID},
		Transition: review.Transition(body.Transition),
		CallerID:   caller.ID,
		CallerRole: caller.Role,
		Payload:    body.Payload,
	})
	if err != nil {
		a.writeError(w, r, err, "transition failed")
		return
	}

	span.SetAttributes(attribute.String("overwatch.resulting_status", res.ResultingStatus))
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	a.getOne(w, r, func(ctx context.Context, id string) (any, bool, error) {
		return wrapGet(a.svc.GetIncident(ctx, id))
	})
}

func (a *API) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	a.getOne(w, r, func(ctx context.Context, id string) (any, bool, error) {
		return wrapGet(a.svc.GetEvidence(ctx, id))
	})
}

func (a *API) handleGetMilestone(w http.ResponseWriter, r *http.Request) {
	a.getOne(w, r, func(ctx context.Context, id string) (any, bool, error) {
		return wrapGet(a.svc.GetMilestone(ctx, id))
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a.getOne(w, r, func(ctx context.Context, id string) (any, bool, error) {
		return wrapGet(a.svc.GetAlert(ctx, id))
	})
}

func wrapGet[T any](v T, ok bool, err error) (any, bool, error) {
	return v, ok, err
}

func (a *API) getOne(w http.ResponseWriter, r *http.Request, get func(ctx context.Context, id string) (any, bool, error)) {
	id := chi.URLParam(r, "id")

	v, ok, err := get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "lookup failed")
		return
	}
	if !ok {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.svc.ListIncidents(r.Context())
	if err != nil {
		a.writeError(w, r, err, "list incidents failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": emptyIfNil(incidents)})
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.svc.ListAlerts(r.Context())
	if err != nil {
		a.writeError(w, r, err, "list alerts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": emptyIfNil(alerts)})
}

func (a *API) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := review.MilestoneFilter{
		Status:     entity.MilestoneStatus(q.Get("status")),
		Type:       entity.MilestoneType(q.Get("type")),
		AssignedTo: q.Get("assigned_to"),
	}

	milestones, err := a.svc.ListMilestones(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err, "list milestones failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"milestones": emptyIfNil(milestones)})
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	trail, err := a.svc.Audit(r.Context(), entityID)
	if err != nil {
		a.writeError(w, r, err, "audit lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": emptyIfNil(trail)})
}

// handleSnapshot serves the authoritative full state viewers fetch on
// resync after a reconnect.
func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.svc.ListIncidents(r.Context())
	if err != nil {
		a.writeError(w, r, err, "snapshot failed")
		return
	}
	alerts, err := a.svc.ListAlerts(r.Context())
	if err != nil {
		a.writeError(w, r, err, "snapshot failed")
		return
	}
	milestones, err := a.svc.ListMilestones(r.Context(), review.MilestoneFilter{})
	if err != nil {
		a.writeError(w, r, err, "snapshot failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents":  emptyIfNil(incidents),
		"alerts":     emptyIfNil(alerts),
		"milestones": emptyIfNil(milestones),
	})
}

// writeError maps taxonomy errors onto HTTP statuses. Terminal errors
// surface verbatim kinds; only genuinely internal failures are masked.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, review.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, review.ErrInvalidTransition), errors.Is(err, review.ErrIntegrityViolation):
		status = http.StatusConflict
	case errors.Is(err, review.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, review.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrConflictRetry):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg)
		http.Error(w, `{"error":"internal error"}`, status)
		return
	}

	writeJSON(w, status, map[string]string{
		"error":  review.Kind(err),
		"detail": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
