package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/hub"
	"github.com/linnemanlabs/overwatch/internal/risk"
)

// outcome is the validated result of applying a transition: the mutated
// entity, the audit status, and the change event routing.
type outcome struct {
	state     any
	status    string
	eventType string
	channel   string
	deleted   bool
}

// roleIn checks membership; the system role is treated as admin for
// engine-internal transitions.
func roleIn(r entity.Role, allowed ...entity.Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
		if a == entity.RoleAdmin && r == RoleSystem {
			return true
		}
	}
	return false
}

// RoleSystem marks engine-internal callers (ingestion, cross-entity
// bookkeeping). It is never accepted from the HTTP surface.
const RoleSystem entity.Role = "system"

// applyMilestone validates and applies a milestone transition. Role
// checks fail first, then state preconditions, then payload validation.
func applyMilestone(m *entity.Milestone, req *TransitionRequest, now time.Time) (*outcome, error) {
	cp := *m
	out := &outcome{eventType: hub.EventMilestoneUpdate, channel: hub.ChannelIncidents}

	isCreator := req.CallerID != "" && req.CallerID == m.CreatedBy
	isAssignee := req.CallerID != "" && req.CallerID == m.AssignedTo

	switch req.Transition {
	case TransitionSubmitForApproval:
		if !isCreator && !isAssignee && !roleIn(req.CallerRole, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not submit milestone %s", ErrForbidden, req.CallerRole, m.ID)
		}
		if m.Status != entity.MilestoneDraft && m.Status != entity.MilestoneInProgress {
			return nil, fmt.Errorf("%w: submit_for_approval from %s", ErrInvalidTransition, m.Status)
		}
		cp.Status = entity.MilestonePendingApproval
		cp.SubmittedAt = now

	case TransitionApprove:
		if !roleIn(req.CallerRole, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not approve milestones", ErrForbidden, req.CallerRole)
		}
		if m.Status != entity.MilestonePendingApproval {
			return nil, fmt.Errorf("%w: approve from %s", ErrInvalidTransition, m.Status)
		}
		cp.Status = entity.MilestoneApproved
		cp.ApprovedBy = req.CallerID
		cp.ApprovalNotes = req.Payload.Notes
		cp.CompletedAt = now

	case TransitionReject:
		if !roleIn(req.CallerRole, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not reject milestones", ErrForbidden, req.CallerRole)
		}
		if m.Status != entity.MilestonePendingApproval {
			return nil, fmt.Errorf("%w: reject from %s", ErrInvalidTransition, m.Status)
		}
		if strings.TrimSpace(req.Payload.Reason) == "" {
			return nil, fmt.Errorf("%w: reject requires a non-empty reason", ErrValidation)
		}
		// The rejecting reviewer is recorded in the audit trail, not
		// in approved_by.
		cp.Status = entity.MilestoneRejected
		cp.RejectionReason = req.Payload.Reason

	case TransitionCancel:
		if !isCreator && !roleIn(req.CallerRole, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not cancel milestone %s", ErrForbidden, req.CallerRole, m.ID)
		}
		if m.Status.Terminal() {
			return nil, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, m.Status)
		}
		cp.Status = entity.MilestoneCancelled

	case TransitionUpdate:
		if !isCreator && !isAssignee && !roleIn(req.CallerRole, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not update milestone %s", ErrForbidden, req.CallerRole, m.ID)
		}
		if m.Status.Terminal() {
			return nil, fmt.Errorf("%w: update from %s", ErrInvalidTransition, m.Status)
		}
		if req.Payload.Fields == nil {
			return nil, fmt.Errorf("%w: update requires fields", ErrValidation)
		}
		if err := applyMilestoneFields(&cp, req.Payload.Fields); err != nil {
			return nil, err
		}

	case TransitionDelete:
		if !isCreator && !roleIn(req.CallerRole, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not delete milestone %s", ErrForbidden, req.CallerRole, m.ID)
		}
		// Deletion is never permitted while approval is pending.
		if m.Status != entity.MilestoneDraft && m.Status != entity.MilestoneCancelled {
			return nil, fmt.Errorf("%w: delete from %s", ErrInvalidTransition, m.Status)
		}
		out.deleted = true
		out.eventType = hub.EventMilestoneDeleted
		out.status = string(m.Status)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s on milestones", ErrInvalidTransition, req.Transition)
	}

	cp.UpdatedAt = now
	out.state = &cp
	out.status = string(cp.Status)
	return out, nil
}

func applyMilestoneFields(m *entity.Milestone, f *MilestoneFields) error {
	if f.Title != nil {
		if strings.TrimSpace(*f.Title) == "" {
			return fmt.Errorf("%w: title must be non-empty", ErrValidation)
		}
		m.Title = *f.Title
	}
	if f.Description != nil {
		m.Description = *f.Description
	}
	if f.Priority != nil {
		if !f.Priority.Valid() {
			return fmt.Errorf("%w: unknown priority %q", ErrValidation, *f.Priority)
		}
		m.Priority = *f.Priority
	}
	if f.AssignedTo != nil {
		m.AssignedTo = *f.AssignedTo
	}
	if f.DueDate != nil {
		m.DueDate = *f.DueDate
	}
	return nil
}

// applyEvidence validates and applies an evidence package transition.
// Review decisions recompute the package hash; a mismatch against the
// stored hash is an integrity violation that blocks the decision.
func applyEvidence(p *entity.EvidencePackage, req *TransitionRequest, now time.Time) (*outcome, error) {
	cp := *p
	out := &outcome{eventType: hub.EventReportUpdate, channel: hub.ChannelCitizenAlerts}

	switch req.Transition {
	case TransitionStartReview:
		if !roleIn(req.CallerRole, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not review evidence", ErrForbidden, req.CallerRole)
		}
		if p.Status != entity.EvidenceCreated {
			return nil, fmt.Errorf("%w: start_review from %s", ErrInvalidTransition, p.Status)
		}
		cp.Status = entity.EvidenceUnderReview

	case TransitionReview:
		if !roleIn(req.CallerRole, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not review evidence", ErrForbidden, req.CallerRole)
		}
		if p.Status != entity.EvidenceUnderReview && p.Status != entity.EvidenceAppealed {
			return nil, fmt.Errorf("%w: review from %s", ErrInvalidTransition, p.Status)
		}
		if got := HashPackage(p); got != p.PackageHash {
			return nil, fmt.Errorf("%w: package %s hash mismatch", ErrIntegrityViolation, p.ID)
		}
		switch req.Payload.Decision {
		case DecisionApprove:
			cp.Status = entity.EvidenceApproved
		case DecisionReject:
			if strings.TrimSpace(req.Payload.Notes) == "" {
				return nil, fmt.Errorf("%w: reject requires non-empty notes", ErrValidation)
			}
			cp.Status = entity.EvidenceRejected
		default:
			return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, req.Payload.Decision)
		}
		cp.ReviewerID = req.CallerID
		cp.ReviewNotes = req.Payload.Notes
		if p.Status == entity.EvidenceAppealed {
			cp.AppealStatus = "resolved"
		}

	case TransitionAppeal:
		// Appeals re-open review. Any authenticated caller may file one;
		// each cycle needs a fresh justification.
		if p.Status != entity.EvidenceRejected {
			return nil, fmt.Errorf("%w: appeal from %s", ErrInvalidTransition, p.Status)
		}
		if strings.TrimSpace(req.Payload.Reason) == "" {
			return nil, fmt.Errorf("%w: appeal requires a non-empty justification", ErrValidation)
		}
		cp.Status = entity.EvidenceAppealed
		cp.AppealStatus = "submitted"
		cp.AppealReason = req.Payload.Reason
		// An open appeal extends retention until it is resolved.
		cp.RetentionUntil = now.Add(appealRetention)

	case TransitionArchive:
		if !roleIn(req.CallerRole, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not archive evidence", ErrForbidden, req.CallerRole)
		}
		if p.Status != entity.EvidenceApproved && p.Status != entity.EvidenceRejected {
			return nil, fmt.Errorf("%w: archive from %s", ErrInvalidTransition, p.Status)
		}
		if p.AppealStatus == "submitted" {
			return nil, fmt.Errorf("%w: archive with pending appeal", ErrInvalidTransition)
		}
		if !p.RetentionUntil.IsZero() && now.Before(p.RetentionUntil) {
			return nil, fmt.Errorf("%w: retention window open until %s", ErrInvalidTransition, p.RetentionUntil.Format(time.RFC3339))
		}
		cp.Status = entity.EvidenceArchived

	default:
		return nil, fmt.Errorf("%w: %s on evidence packages", ErrInvalidTransition, req.Transition)
	}

	cp.UpdatedAt = now
	out.state = &cp
	out.status = string(cp.Status)
	return out, nil
}

// applyIncident validates and applies an incident transition. Incidents
// are never hard-deleted; status moves within the fixed set only.
func applyIncident(in *entity.Incident, req *TransitionRequest, now time.Time) (*outcome, error) {
	cp := *in
	out := &outcome{eventType: hub.EventIncidentUpdate, channel: hub.ChannelIncidents}

	switch req.Transition {
	case TransitionSetStatus:
		if !roleIn(req.CallerRole, entity.RoleOperator, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not change incident status", ErrForbidden, req.CallerRole)
		}
		next := entity.IncidentStatus(req.Payload.Status)
		switch next {
		case entity.IncidentActive, entity.IncidentResponding, entity.IncidentResolved,
			entity.IncidentMonitoring, entity.IncidentUnderReview:
		default:
			return nil, fmt.Errorf("%w: unknown incident status %q", ErrValidation, req.Payload.Status)
		}
		cp.Status = next

	case TransitionAttachEvidence:
		if !roleIn(req.CallerRole, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not attach evidence", ErrForbidden, req.CallerRole)
		}
		if req.Payload.EvidenceID == "" {
			return nil, fmt.Errorf("%w: attach_evidence requires evidence_id", ErrValidation)
		}
		for _, id := range in.EvidencePackageIDs {
			if id == req.Payload.EvidenceID {
				return nil, fmt.Errorf("%w: package %s already attached", ErrInvalidTransition, id)
			}
		}
		cp.EvidencePackageIDs = append(append([]string(nil), in.EvidencePackageIDs...), req.Payload.EvidenceID)
		// Re-score: the incident adopts the package's assessment when it
		// raises the overall score, and escalation flags only ratchet up.
		if a := req.Payload.Assessment; a != nil && a.RiskScore > in.RiskAssessment.RiskScore {
			cp.RiskAssessment = *a
			cp.Severity = risk.SeverityFor(a.RiskLevel)
			if risk.RequiresHumanReview(a.RiskLevel) {
				cp.RequiresHumanReview = true
			}
		}

	case TransitionCompleteReview:
		if !roleIn(req.CallerRole, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not complete incident review", ErrForbidden, req.CallerRole)
		}
		if !in.RequiresHumanReview {
			return nil, fmt.Errorf("%w: incident does not require review", ErrInvalidTransition)
		}
		if in.HumanReviewCompleted {
			return nil, fmt.Errorf("%w: review already completed", ErrInvalidTransition)
		}
		cp.HumanReviewCompleted = true
		if cp.Status == entity.IncidentUnderReview {
			cp.Status = entity.IncidentMonitoring
		}

	default:
		return nil, fmt.Errorf("%w: %s on incidents", ErrInvalidTransition, req.Transition)
	}

	cp.UpdatedAt = now
	out.state = &cp
	out.status = string(cp.Status)
	return out, nil
}

// applyAlert handles the alert's single mutation: acknowledgement.
func applyAlert(a *entity.Alert, req *TransitionRequest, now time.Time) (*outcome, error) {
	cp := *a
	out := &outcome{eventType: hub.EventAlertUpdate, channel: hub.ChannelAlerts}

	switch req.Transition {
	case TransitionAcknowledge:
		if !roleIn(req.CallerRole, entity.RoleOperator, entity.RoleSupervisor, entity.RoleAdmin) {
			return nil, fmt.Errorf("%w: %s may not acknowledge alerts", ErrForbidden, req.CallerRole)
		}
		if a.Acknowledged {
			return nil, fmt.Errorf("%w: alert already acknowledged", ErrInvalidTransition)
		}
		cp.Acknowledged = true
		cp.AcknowledgedBy = req.CallerID

	default:
		return nil, fmt.Errorf("%w: %s on alerts", ErrInvalidTransition, req.Transition)
	}

	cp.UpdatedAt = now
	out.state = &cp
	out.status = "acknowledged"
	return out, nil
}
