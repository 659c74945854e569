// Package entity defines the domain records the review engine operates
// on: incidents, evidence packages, milestones, alerts, and dispatches,
// plus the embedded risk assessment they carry.
package entity

import (
	"fmt"
	"time"
)

// Type identifies which kind of record an ID refers to.
type Type string

const (
	TypeIncident  Type = "incident"
	TypeEvidence  Type = "evidence_package"
	TypeMilestone Type = "milestone"
	TypeAlert     Type = "alert"
	TypeDispatch  Type = "dispatch"
)

// Ref is a typed entity reference. Store keys are derived from it.
type Ref struct {
	Type Type   `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// Key returns the store key for the record, one record per entity id.
func (r Ref) Key() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Severity is the four-tier severity classification shared by incidents,
// milestones (as priority), and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Role is the caller role attached to a transition request.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
	RoleCitizen    Role = "citizen"
)

// IncidentStatus tracks where an incident is in its lifecycle.
type IncidentStatus string

const (
	IncidentActive      IncidentStatus = "active"
	IncidentResponding  IncidentStatus = "responding"
	IncidentResolved    IncidentStatus = "resolved"
	IncidentMonitoring  IncidentStatus = "monitoring"
	IncidentUnderReview IncidentStatus = "under_review"
)

// EvidenceStatus tracks an evidence package through review and appeal.
type EvidenceStatus string

const (
	EvidenceCreated     EvidenceStatus = "created"
	EvidenceUnderReview EvidenceStatus = "under_review"
	EvidenceApproved    EvidenceStatus = "approved"
	EvidenceRejected    EvidenceStatus = "rejected"
	EvidenceAppealed    EvidenceStatus = "appealed"
	EvidenceArchived    EvidenceStatus = "archived"
)

// MilestoneStatus tracks a milestone through the approval flow.
type MilestoneStatus string

const (
	MilestoneDraft           MilestoneStatus = "draft"
	MilestoneInProgress      MilestoneStatus = "in_progress"
	MilestonePendingApproval MilestoneStatus = "pending_approval"
	MilestoneApproved        MilestoneStatus = "approved"
	MilestoneRejected        MilestoneStatus = "rejected"
	MilestoneCancelled       MilestoneStatus = "cancelled"
)

// Terminal reports whether no further approval transitions are legal.
func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneApproved || s == MilestoneRejected || s == MilestoneCancelled
}

// MilestoneType distinguishes what kind of work a milestone gates.
type MilestoneType string

const (
	MilestoneDevelopment    MilestoneType = "development"
	MilestoneIncidentCase   MilestoneType = "incident_case"
	MilestoneEvidenceReview MilestoneType = "evidence_review"
)

// RiskLevel is the four-tier classification derived from the weighted
// risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactors are the producer-supplied factor scores, each in [0,1].
type RiskFactors struct {
	Temporal    float64  `json:"temporal"`
	Spatial     float64  `json:"spatial"`
	Behavioral  float64  `json:"behavioral"`
	Contextual  float64  `json:"contextual"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// RiskAssessment is the scored output embedded in incidents and
// evidence packages. It is a value, not a standalone entity.
type RiskAssessment struct {
	RiskScore         float64     `json:"risk_score"`
	RiskLevel         RiskLevel   `json:"risk_level"`
	Factors           RiskFactors `json:"factors"`
	RecommendedAction string      `json:"recommended_action"`
	Confidence        float64     `json:"confidence"`
	Timestamp         time.Time   `json:"timestamp"`
}

// Coordinates is a WGS84 point attached to incidents.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DetectionEvent is an immutable AI detection record inside an evidence
// package. Events are never mutated after package creation; the package
// hash covers them.
type DetectionEvent struct {
	CameraID      string         `json:"camera_id"`
	Timestamp     time.Time      `json:"timestamp"`
	DetectionType string         `json:"detection_type"`
	Confidence    float64        `json:"confidence"`
	BoundingBox   map[string]int `json:"bounding_box,omitempty"`
	FrameHash     string         `json:"frame_hash"`
	ModelVersion  string         `json:"model_version"`
}

// Incident is an AI-flagged or manually reported incident. Incidents are
// never hard-deleted; resolved incidents age out via archival.
type Incident struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Title                string         `json:"title,omitempty"`
	Description          string         `json:"description,omitempty"`
	Location             string         `json:"location,omitempty"`
	Coordinates          *Coordinates   `json:"coordinates,omitempty"`
	Severity             Severity       `json:"severity"`
	Status               IncidentStatus `json:"status"`
	RiskAssessment       RiskAssessment `json:"risk_assessment"`
	EvidencePackageIDs   []string       `json:"evidence_package_ids,omitempty"`
	ReportedBy           string         `json:"reported_by,omitempty"`
	AssignedTeamID       string         `json:"assigned_team_id,omitempty"`
	RequiresHumanReview  bool           `json:"requires_human_review"`
	HumanReviewCompleted bool           `json:"human_review_completed"`
	AppealDeadline       time.Time      `json:"appeal_deadline,omitzero"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Ref returns the typed reference for the incident.
func (i *Incident) Ref() Ref { return Ref{Type: TypeIncident, ID: i.ID} }

// EvidencePackage gathers the detection events supporting one incident.
// PackageHash is computed once at creation and never recomputed; it is
// the integrity anchor for later appeal.
type EvidencePackage struct {
	ID             string           `json:"id"`
	IncidentID     string           `json:"incident_id"`
	Events         []DetectionEvent `json:"events"`
	RiskAssessment RiskAssessment   `json:"risk_assessment"`
	Status         EvidenceStatus   `json:"status"`
	ReviewerID     string           `json:"reviewer_id,omitempty"`
	ReviewNotes    string           `json:"review_notes,omitempty"`
	AppealStatus   string           `json:"appeal_status,omitempty"`
	AppealReason   string           `json:"appeal_reason,omitempty"`
	RetentionUntil time.Time        `json:"retention_until,omitzero"`
	PackageHash    string           `json:"package_hash"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Ref returns the typed reference for the package.
func (e *EvidencePackage) Ref() Ref { return Ref{Type: TypeEvidence, ID: e.ID} }

// Milestone is a work item gating human approval of AI-raised findings.
type Milestone struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Type             MilestoneType   `json:"type"`
	Status           MilestoneStatus `json:"status"`
	Priority         Severity        `json:"priority"`
	CreatedBy        string          `json:"created_by"`
	AssignedTo       string          `json:"assigned_to,omitempty"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	DueDate          time.Time       `json:"due_date,omitzero"`
	CompletedAt      time.Time       `json:"completed_at,omitzero"`
	SubmittedAt      time.Time       `json:"submitted_for_approval_at,omitzero"`
	LinkedIncidentID string          `json:"linked_incident_id,omitempty"`
	LinkedEvidenceID string          `json:"linked_evidence_id,omitempty"`
	ApprovalNotes    string          `json:"approval_notes,omitempty"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Ref returns the typed reference for the milestone.
func (m *Milestone) Ref() Ref { return Ref{Type: TypeMilestone, ID: m.ID} }

// Alert is a one-shot notification raised by the risk aggregator or a
// system-health monitor. Its only mutation is acknowledgement.
type Alert struct {
	ID             string    `json:"id"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message,omitempty"`
	SourceID       string    `json:"source_id,omitempty"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedBy string    `json:"acknowledged_by,omitempty"`
	RequiresAction bool      `json:"requires_action"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ref returns the typed reference for the alert.
func (a *Alert) Ref() Ref { return Ref{Type: TypeAlert, ID: a.ID} }

// Dispatch records a response unit sent out for a critical incident.
type Dispatch struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	TeamID     string    `json:"team_id,omitempty"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ref returns the typed reference for the dispatch.
func (d *Dispatch) Ref() Ref { return Ref{Type: TypeDispatch, ID: d.ID} }
