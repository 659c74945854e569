package review

import (
	"encoding/json"
	"time"

	"github.com/linnemanlabs/overwatch/internal/entity"
)

// Transition is a named, validated state change on an entity.
type Transition string

const (
	// Milestone transitions.
	TransitionSubmitForApproval Transition = "submit_for_approval"
	TransitionApprove           Transition = "approve"
	TransitionReject            Transition = "reject"
	TransitionCancel            Transition = "cancel"
	TransitionUpdate            Transition = "update"
	TransitionDelete            Transition = "delete"

	// Evidence transitions.
	TransitionStartReview Transition = "start_review"
	TransitionReview      Transition = "review"
	TransitionAppeal      Transition = "appeal"
	TransitionArchive     Transition = "archive"

	// Incident transitions.
	TransitionSetStatus      Transition = "set_status"
	TransitionAttachEvidence Transition = "attach_evidence"
	TransitionCompleteReview Transition = "complete_review"

	// Alert transitions.
	TransitionAcknowledge Transition = "acknowledge"
)

// Decision values for the evidence review transition.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Payload carries the transition-specific fields of a request. Unused
// fields are left zero.
type Payload struct {
	// Notes accompany approve/reject decisions.
	Notes string `json:"notes,omitempty"`
	// Reason justifies a rejection, appeal, or cancellation.
	Reason string `json:"reason,omitempty"`
	// Decision selects approve or reject on an evidence review.
	Decision string `json:"decision,omitempty"`
	// Status is the target status for incident set_status.
	Status string `json:"status,omitempty"`
	// EvidenceID names the package for incident attach_evidence.
	EvidenceID string `json:"evidence_id,omitempty"`
	// Assessment carries the attached package's risk assessment so the
	// incident can be re-scored during attach_evidence.
	Assessment *entity.RiskAssessment `json:"assessment,omitempty"`
	// Fields holds mutable milestone fields for update.
	Fields *MilestoneFields `json:"fields,omitempty"`
}

// MilestoneFields are the mutable milestone fields an update may touch.
// Nil pointers mean "leave unchanged".
type MilestoneFields struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *entity.Severity `json:"priority,omitempty"`
	AssignedTo  *string          `json:"assigned_to,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
}

// TransitionRequest is the engine-facing request shape.
type TransitionRequest struct {
	Ref        entity.Ref  `json:"ref"`
	Transition Transition  `json:"transition"`
	CallerID   string      `json:"caller_id"`
	CallerRole entity.Role `json:"caller_role"`
	Payload    Payload     `json:"payload"`
}

// TransitionResult is the committed outcome of a transition. State is
// the full authoritative record, never a diff.
type TransitionResult struct {
	Ref             entity.Ref      `json:"ref"`
	ResultingStatus string          `json:"resulting_status"`
	State           json.RawMessage `json:"state,omitempty"`
	Deleted         bool            `json:"deleted,omitempty"`
}

// AuditRecord is the append-only trail entry written for every applied
// transition. The audit log never records a transition that did not
// actually commit.
type AuditRecord struct {
	ID              string      `json:"id"`
	EntityID        string      `json:"entity_id"`
	EntityType      entity.Type `json:"entity_type"`
	Transition      Transition  `json:"transition"`
	CallerID        string      `json:"caller_id"`
	CallerRole      entity.Role `json:"caller_role"`
	ResultingStatus string      `json:"resulting_status"`
	Timestamp       time.Time   `json:"timestamp"`
}
