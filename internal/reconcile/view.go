// Package reconcile maintains a viewer's local projection of engine
// state: change events are merged in arrival order, and a lost
// connection is repaired by reconnect plus one authoritative resync
// fetch rather than event replay.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/hub"
)

// AlertFeedCap bounds the portal-facing alert feed. Older alerts fall
// off; the server remains the system of record.
const AlertFeedCap = 10

// View is one viewer's local state. Events are applied one at a time by
// the reconciler loop; the mutex only guards concurrent reads from the
// presentation side.
type View struct {
	mu         sync.RWMutex
	incidents  []entity.Incident
	alerts     []entity.Alert
	milestones []entity.Milestone
	packages   map[string]entity.EvidencePackage
	watched    map[string]bool
	stale      bool
}

// NewView returns an empty view.
func NewView() *View {
	return &View{
		packages: make(map[string]entity.EvidencePackage),
		watched:  make(map[string]bool),
	}
}

// Watch marks an evidence package id as actively watched; report
// updates for unwatched ids are discarded.
func (v *View) Watch(id string) {
	v.mu.Lock()
	v.watched[id] = true
	v.mu.Unlock()
}

// Unwatch stops following an evidence package id and drops its cached
// state.
func (v *View) Unwatch(id string) {
	v.mu.Lock()
	delete(v.watched, id)
	delete(v.packages, id)
	v.mu.Unlock()
}

// Apply merges one change event into the view. Replaying a committed
// event is idempotent: replace-by-id converges to the same state.
func (v *View) Apply(ev hub.Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case hub.EventNewIncident, hub.EventIncidentUpdate:
		var inc entity.Incident
		if err := json.Unmarshal(ev.Payload, &inc); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		v.incidents = upsertIncident(v.incidents, inc)

	case hub.EventNewMilestone, hub.EventMilestoneUpdate:
		var m entity.Milestone
		if err := json.Unmarshal(ev.Payload, &m); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		v.milestones = upsertMilestone(v.milestones, m)

	case hub.EventMilestoneDeleted:
		v.milestones = removeMilestone(v.milestones, ev.EntityID)

	case hub.EventNewAlert, hub.EventAlertUpdate:
		var a entity.Alert
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		v.alerts = upsertAlert(v.alerts, a)

	case hub.EventReportUpdate:
		if !v.watched[ev.EntityID] {
			return nil
		}
		var p entity.EvidencePackage
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		v.packages[p.ID] = p
	}

	return nil
}

// MarkStale flags the local state as untrusted until the next resync.
func (v *View) MarkStale() {
	v.mu.Lock()
	v.stale = true
	v.mu.Unlock()
}

// Stale reports whether the view is waiting on a resync.
func (v *View) Stale() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stale
}

// Snapshot is the authoritative full state fetched on resync.
type Snapshot struct {
	Incidents  []entity.Incident  `json:"incidents"`
	Alerts     []entity.Alert     `json:"alerts"`
	Milestones []entity.Milestone `json:"milestones"`
}

// Resync replaces the local collections wholesale with the
// authoritative snapshot and clears the stale flag. This closes the
// at-most-once delivery gap after a disconnect. Cached evidence
// packages may also have changed during the outage, so they are
// dropped; watched ids stay registered and repopulate on the next
// report update or fetch.
func (v *View) Resync(snap *Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.incidents = append([]entity.Incident(nil), snap.Incidents...)
	v.milestones = append([]entity.Milestone(nil), snap.Milestones...)
	v.packages = make(map[string]entity.EvidencePackage)

	alerts := snap.Alerts
	if len(alerts) > AlertFeedCap {
		alerts = alerts[:AlertFeedCap]
	}
	v.alerts = append([]entity.Alert(nil), alerts...)

	v.stale = false
}

// Incidents returns a copy of the incident list, newest first.
func (v *View) Incidents() []entity.Incident {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]entity.Incident(nil), v.incidents...)
}

// Alerts returns a copy of the alert feed, newest first.
func (v *View) Alerts() []entity.Alert {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]entity.Alert(nil), v.alerts...)
}

// Milestones returns a copy of the milestone list.
func (v *View) Milestones() []entity.Milestone {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]entity.Milestone(nil), v.milestones...)
}

// Package returns a watched evidence package, if cached.
func (v *View) Package(id string) (entity.EvidencePackage, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.packages[id]
	return p, ok
}

func upsertIncident(list []entity.Incident, inc entity.Incident) []entity.Incident {
	for i := range list {
		if list[i].ID == inc.ID {
			list[i] = inc
			return list
		}
	}
	return append([]entity.Incident{inc}, list...)
}

func upsertMilestone(list []entity.Milestone, m entity.Milestone) []entity.Milestone {
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			return list
		}
	}
	return append([]entity.Milestone{m}, list...)
}

func removeMilestone(list []entity.Milestone, id string) []entity.Milestone {
	for i := range list {
		if list[i].ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// upsertAlert replaces in place when the id is already present, else
// prepends and trims to the feed cap.
func upsertAlert(list []entity.Alert, a entity.Alert) []entity.Alert {
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return list
		}
	}
	list = append([]entity.Alert{a}, list...)
	if len(list) > AlertFeedCap {
		list = list[:AlertFeedCap]
	}
	return list
}
