package review

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/hub"
	"github.com/linnemanlabs/overwatch/internal/risk"
)

// Notification is what gets pushed to the configured notifier when an
// entity needs human attention.
type Notification struct {
	Kind      string
	Title     string
	Severity  entity.Severity
	EntityID  string
	Summary   string
	CreatedAt time.Time
}

// Notifier delivers notifications out-of-band (e.g. Slack). Nil means
// notifications are disabled.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Service is the business boundary for the review engine: it owns
// entity creation, risk scoring on create/attach, and escalation, and
// delegates all mutations to the engine's transition path.
type Service struct {
	store    Store
	engine   *Engine
	agg      *risk.Aggregator
	pub      Publisher
	notifier Notifier
	logger   log.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates a review service. Publisher, metrics, and notifier
// may each be nil.
func NewService(store Store, engine *Engine, agg *risk.Aggregator, pub Publisher, logger log.Logger, m *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		agg:      agg,
		pub:      pub,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Apply executes a transition through the engine.
func (s *Service) Apply(ctx context.Context, req *TransitionRequest) (*TransitionResult, error) {
	return s.engine.Apply(ctx, req)
}

// CreateIncidentInput carries the producer-supplied incident fields.
type CreateIncidentInput struct {
	Type        string              `json:"type"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Location    string              `json:"location"`
	Coordinates *entity.Coordinates `json:"coordinates,omitempty"`
	ReportedBy  string              `json:"reported_by"`
	Factors     entity.RiskFactors  `json:"factors"`
	Confidence  float64             `json:"confidence"`
}

// CreateIncident scores the supplied factors, persists the incident,
// and escalates when the assessed level gates on human review.
func (s *Service) CreateIncident(ctx context.Context, in *CreateIncidentInput) (*entity.Incident, error) {
	if strings.TrimSpace(in.Type) == "" {
		return nil, fmt.Errorf("%w: incident type is required", ErrValidation)
	}

	assessment := s.assess(in.Factors, in.Confidence)
	now := s.now().UTC()

	inc := &entity.Incident{
		ID:                  ulid.Make().String(),
		Type:                in.Type,
		Title:               in.Title,
		Description:         in.Description,
		Location:            in.Location,
		Coordinates:         in.Coordinates,
		Severity:            risk.SeverityFor(assessment.RiskLevel),
		Status:              entity.IncidentActive,
		RiskAssessment:      assessment,
		ReportedBy:          in.ReportedBy,
		RequiresHumanReview: risk.RequiresHumanReview(assessment.RiskLevel),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if inc.RequiresHumanReview {
		inc.Status = entity.IncidentUnderReview
	}

	if err := s.create(ctx, inc.Ref(), inc, "system", RoleSystem, hub.EventNewIncident, hub.ChannelIncidents, string(inc.Status)); err != nil {
		return nil, err
	}

	s.escalate(ctx, inc)
	return inc, nil
}

// CreateEvidenceInput carries the producer-supplied package fields.
type CreateEvidenceInput struct {
	IncidentID string                  `json:"incident_id"`
	Events     []entity.DetectionEvent `json:"events"`
	Factors    entity.RiskFactors      `json:"factors"`
	Confidence float64                 `json:"confidence"`
}

// CreateEvidencePackage persists a new package with its content hash and
// attaches it to the owning incident. The attach is a second,
// independent write: if it fails, the package stays committed and the
// partial completion is surfaced to the caller, never silently retried.
func (s *Service) CreateEvidencePackage(ctx context.Context, in *CreateEvidenceInput) (*entity.EvidencePackage, error) {
	if in.IncidentID == "" {
		return nil, fmt.Errorf("%w: incident_id is required", ErrValidation)
	}
	if len(in.Events) == 0 {
		return nil, fmt.Errorf("%w: at least one detection event is required", ErrValidation)
	}

	incidentRef := entity.Ref{Type: entity.TypeIncident, ID: in.IncidentID}
	if _, ok, err := s.store.Get(ctx, incidentRef); err != nil {
		return nil, fmt.Errorf("load incident: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, incidentRef.Key())
	}

	assessment := s.assess(in.Factors, in.Confidence)
	now := s.now().UTC()

	pkg := &entity.EvidencePackage{
		ID:             ulid.Make().String(),
		IncidentID:     in.IncidentID,
		Events:         in.Events,
		RiskAssessment: assessment,
		Status:         entity.EvidenceCreated,
		RetentionUntil: now.Add(retentionFor(assessment.RiskLevel)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pkg.PackageHash = HashPackage(pkg)

	if err := s.create(ctx, pkg.Ref(), pkg, "system", RoleSystem, hub.EventReportUpdate, hub.ChannelCitizenAlerts, string(pkg.Status)); err != nil {
		return nil, err
	}

	if _, err := s.engine.Apply(ctx, &TransitionRequest{
		Ref:        incidentRef,
		Transition: TransitionAttachEvidence,
		CallerID:   "system",
		CallerRole: RoleSystem,
		Payload:    Payload{EvidenceID: pkg.ID, Assessment: &assessment},
	}); err != nil {
		return pkg, fmt.Errorf("package %s created but not attached to %s: %w", pkg.ID, in.IncidentID, err)
	}

	return pkg, nil
}

// CreateMilestoneInput carries caller-supplied milestone fields.
type CreateMilestoneInput struct {
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Type             entity.MilestoneType `json:"type"`
	Priority         entity.Severity     `json:"priority"`
	CreatedBy        string              `json:"created_by"`
	AssignedTo       string              `json:"assigned_to"`
	DueDate          time.Time           `json:"due_date,omitzero"`
	LinkedIncidentID string              `json:"linked_incident_id"`
	LinkedEvidenceID string              `json:"linked_evidence_id"`
}

// CreateMilestone validates linkage requirements and persists a new
// draft milestone. Any authenticated caller may create one.
func (s *Service) CreateMilestone(ctx context.Context, in *CreateMilestoneInput) (*entity.Milestone, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	switch in.Type {
	case entity.MilestoneDevelopment:
	case entity.MilestoneIncidentCase:
		if in.LinkedIncidentID == "" {
			return nil, fmt.Errorf("%w: incident_case milestones require linked_incident_id", ErrValidation)
		}
	case entity.MilestoneEvidenceReview:
		if in.LinkedEvidenceID == "" {
			return nil, fmt.Errorf("%w: evidence_review milestones require linked_evidence_id", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown milestone type %q", ErrValidation, in.Type)
	}

	priority := in.Priority
	if priority == "" {
		priority = entity.SeverityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}

	now := s.now().UTC()
	m := &entity.Milestone{
		ID:               ulid.Make().String(),
		Title:            in.Title,
		Description:      in.Description,
		Type:             in.Type,
		Status:           entity.MilestoneDraft,
		Priority:         priority,
		CreatedBy:        in.CreatedBy,
		AssignedTo:       in.AssignedTo,
		DueDate:          in.DueDate,
		LinkedIncidentID: in.LinkedIncidentID,
		LinkedEvidenceID: in.LinkedEvidenceID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.create(ctx, m.Ref(), m, in.CreatedBy, entity.RoleOperator, hub.EventNewMilestone, hub.ChannelIncidents, string(m.Status)); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateAlert persists a new alert and broadcasts it. Used by the risk
// escalation path and by system-health monitors.
func (s *Service) CreateAlert(ctx context.Context, severity entity.Severity, message, sourceID string, requiresAction bool) (*entity.Alert, error) {
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}

	now := s.now().UTC()
	a := &entity.Alert{
		ID:             ulid.Make().String(),
		Severity:       severity,
		Message:        message,
		SourceID:       sourceID,
		RequiresAction: requiresAction,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.create(ctx, a.Ref(), a, "system", RoleSystem, hub.EventNewAlert, hub.ChannelAlerts, "created"); err != nil {
		return nil, err
	}

	if s.notifier != nil && requiresAction {
		if err := s.notifier.Notify(ctx, &Notification{
			Kind:      "alert",
			Title:     message,
			Severity:  severity,
			EntityID:  a.ID,
			Summary:   "alert requires action",
			CreatedAt: now,
		}); err != nil {
			s.logger.Error(ctx, err, "alert notification failed", "alert_id", a.ID)
		}
	}
	return a, nil
}

// create persists a record, stamps the creation audit entry, and
// broadcasts the creation event.
func (s *Service) create(ctx context.Context, ref entity.Ref, state any, callerID string, callerRole entity.Role, eventType, channel, status string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ref.Key(), err)
	}

	now := s.now().UTC()
	if err := s.store.Put(ctx, &Record{Ref: ref, Data: data, UpdatedAt: now}); err != nil {
		return fmt.Errorf("store %s: %w", ref.Key(), err)
	}

	if err := s.store.AppendAudit(ctx, &AuditRecord{
		ID:              ulid.Make().String(),
		EntityID:        ref.ID,
		EntityType:      ref.Type,
		Transition:      "create",
		CallerID:        callerID,
		CallerRole:      callerRole,
		ResultingStatus: status,
		Timestamp:       now,
	}); err != nil {
		s.logger.Error(ctx, err, "audit append failed", "entity", ref.Key())
	}

	if s.pub != nil {
		s.pub.Publish(hub.Event{
			Type:       eventType,
			Channel:    channel,
			EntityID:   ref.ID,
			Payload:    data,
			ServerTime: now,
		})
	}

	if s.metrics != nil {
		s.metrics.CreatesTotal.WithLabelValues(string(ref.Type)).Inc()
	}

	s.logger.Info(ctx, "entity created", "entity", ref.Key())
	return nil
}

// escalate raises an alert for incidents gating on human review and
// records a dispatch when the recommended action is an immediate
// response.
func (s *Service) escalate(ctx context.Context, inc *entity.Incident) {
	if !inc.RequiresHumanReview {
		return
	}

	requiresAction := inc.RiskAssessment.RiskLevel == entity.RiskCritical
	msg := fmt.Sprintf("%s incident requires review: %s", inc.RiskAssessment.RiskLevel, inc.Type)
	if _, err := s.CreateAlert(ctx, inc.Severity, msg, inc.ID, requiresAction); err != nil {
		s.logger.Error(ctx, err, "escalation alert failed", "incident_id", inc.ID)
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, &Notification{
			Kind:      "incident",
			Title:     inc.Title,
			Severity:  inc.Severity,
			EntityID:  inc.ID,
			Summary:   inc.RiskAssessment.RecommendedAction,
			CreatedAt: inc.CreatedAt,
		}); err != nil {
			s.logger.Error(ctx, err, "incident notification failed", "incident_id", inc.ID)
		}
	}

	if requiresAction {
		now := s.now().UTC()
		d := &entity.Dispatch{
			ID:         ulid.Make().String(),
			IncidentID: inc.ID,
			Action:     inc.RiskAssessment.RecommendedAction,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.create(ctx, d.Ref(), d, "system", RoleSystem, hub.EventIncidentUpdate, hub.ChannelIncidents, "dispatched"); err != nil {
			s.logger.Error(ctx, err, "dispatch record failed", "incident_id", inc.ID)
		}
	}
}

// assess runs the aggregator, deriving reason codes when the producer
// supplied none.
func (s *Service) assess(factors entity.RiskFactors, confidence float64) entity.RiskAssessment {
	if len(factors.ReasonCodes) == 0 {
		factors.ReasonCodes = risk.ReasonCodes(factors)
	}
	return s.agg.Assess(factors, confidence)
}

// GetIncident loads one incident.
func (s *Service) GetIncident(ctx context.Context, id string) (*entity.Incident, bool, error) {
	var inc entity.Incident
	ok, err := s.get(ctx, entity.Ref{Type: entity.TypeIncident, ID: id}, &inc)
	return &inc, ok, err
}

// GetEvidence loads one evidence package.
func (s *Service) GetEvidence(ctx context.Context, id string) (*entity.EvidencePackage, bool, error) {
	var p entity.EvidencePackage
	ok, err := s.get(ctx, entity.Ref{Type: entity.TypeEvidence, ID: id}, &p)
	return &p, ok, err
}

// GetMilestone loads one milestone.
func (s *Service) GetMilestone(ctx context.Context, id string) (*entity.Milestone, bool, error) {
	var m entity.Milestone
	ok, err := s.get(ctx, entity.Ref{Type: entity.TypeMilestone, ID: id}, &m)
	return &m, ok, err
}

// GetAlert loads one alert.
func (s *Service) GetAlert(ctx context.Context, id string) (*entity.Alert, bool, error) {
	var a entity.Alert
	ok, err := s.get(ctx, entity.Ref{Type: entity.TypeAlert, ID: id}, &a)
	return &a, ok, err
}

func (s *Service) get(ctx context.Context, ref entity.Ref, out any) (bool, error) {
	rec, ok, err := s.store.Get(ctx, ref)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", ref.Key(), err)
	}
	return true, nil
}

// MilestoneFilter narrows ListMilestones. Zero values match everything.
type MilestoneFilter struct {
	Status     entity.MilestoneStatus
	Type       entity.MilestoneType
	AssignedTo string
}

// ListMilestones returns milestones matching the filter, newest first.
func (s *Service) ListMilestones(ctx context.Context, f MilestoneFilter) ([]entity.Milestone, error) {
	recs, err := s.store.List(ctx, entity.TypeMilestone)
	if err != nil {
		return nil, err
	}

	out := make([]entity.Milestone, 0, len(recs))
	for _, rec := range recs {
		var m entity.Milestone
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Ref.Key(), err)
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		if f.AssignedTo != "" && m.AssignedTo != f.AssignedTo {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListIncidents returns all incidents, newest first.
func (s *Service) ListIncidents(ctx context.Context) ([]entity.Incident, error) {
	recs, err := s.store.List(ctx, entity.TypeIncident)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Incident, 0, len(recs))
	for _, rec := range recs {
		var inc entity.Incident
		if err := json.Unmarshal(rec.Data, &inc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Ref.Key(), err)
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListAlerts returns all alerts, newest first.
func (s *Service) ListAlerts(ctx context.Context) ([]entity.Alert, error) {
	recs, err := s.store.List(ctx, entity.TypeAlert)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Alert, 0, len(recs))
	for _, rec := range recs {
		var a entity.Alert
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Ref.Key(), err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Audit returns the transition trail for one entity id, oldest first.
func (s *Service) Audit(ctx context.Context, entityID string) ([]AuditRecord, error) {
	return s.store.AuditFor(ctx, entityID)
}
