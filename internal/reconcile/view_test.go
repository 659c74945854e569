package reconcile

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/hub"
)

func incidentEvent(t *testing.T, typ string, inc entity.Incident) hub.Event {
	t.Helper()
	data, err := json.Marshal(inc)
	if err != nil {
		t.Fatalf("marshal incident: %v", err)
	}
	return hub.Event{Type: typ, Channel: hub.ChannelIncidents, EntityID: inc.ID, Payload: data}
}

func alertEvent(t *testing.T, a entity.Alert) hub.Event {
	t.Helper()
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal alert: %v", err)
	}
	return hub.Event{Type: hub.EventNewAlert, Channel: hub.ChannelAlerts, EntityID: a.ID, Payload: data}
}

func TestView_ReplaceOrInsertByID(t *testing.T) {
	t.Parallel()

	v := NewView()

	if err := v.Apply(incidentEvent(t, hub.EventNewIncident, entity.Incident{ID: "inc-1", Status: entity.IncidentActive})); err != nil {
		t.Fatalf("Apply new: %v", err)
	}
	if err := v.Apply(incidentEvent(t, hub.EventNewIncident, entity.Incident{ID: "inc-2", Status: entity.IncidentActive})); err != nil {
		t.Fatalf("Apply new: %v", err)
	}
	if err := v.Apply(incidentEvent(t, hub.EventIncidentUpdate, entity.Incident{ID: "inc-1", Status: entity.IncidentResolved})); err != nil {
		t.Fatalf("Apply update: %v", err)
	}

	got := v.Incidents()
	if len(got) != 2 {
		t.Fatalf("incidents = %d, want 2 (no duplicates)", len(got))
	}
	for _, inc := range got {
		if inc.ID == "inc-1" && inc.Status != entity.IncidentResolved {
			t.Errorf("inc-1 Status = %q, want resolved", inc.Status)
		}
	}
}

func TestView_ApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	ev := incidentEvent(t, hub.EventIncidentUpdate, entity.Incident{ID: "inc-1", Status: entity.IncidentResponding})
	alert := alertEvent(t, entity.Alert{ID: "a-1", Severity: entity.SeverityHigh})

	once := NewView()
	twice := NewView()

	for _, v := range []*View{once, twice} {
		if err := v.Apply(ev); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if err := v.Apply(alert); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	if err := twice.Apply(ev); err != nil {
		t.Fatalf("Apply replay: %v", err)
	}
	if err := twice.Apply(alert); err != nil {
		t.Fatalf("Apply replay: %v", err)
	}

	if a, b := len(once.Incidents()), len(twice.Incidents()); a != b {
		t.Errorf("incidents = %d vs %d after replay, want equal", a, b)
	}
	if a, b := len(once.Alerts()), len(twice.Alerts()); a != b {
		t.Errorf("alerts = %d vs %d after replay, want equal", a, b)
	}
}

func TestView_AlertFeedPrependAndCap(t *testing.T) {
	t.Parallel()

	v := NewView()
	for i := 0; i < AlertFeedCap+5; i++ {
		if err := v.Apply(alertEvent(t, entity.Alert{ID: fmt.Sprintf("a-%d", i)})); err != nil {
			t.Fatalf("Apply alert %d: %v", i, err)
		}
	}

	got := v.Alerts()
	if len(got) != AlertFeedCap {
		t.Fatalf("alerts = %d, want cap %d", len(got), AlertFeedCap)
	}
	// Newest first.
	if got[0].ID != fmt.Sprintf("a-%d", AlertFeedCap+4) {
		t.Errorf("alerts[0].ID = %q, want newest", got[0].ID)
	}
}

func TestView_ReportUpdateOnlyWhenWatched(t *testing.T) {
	t.Parallel()

	v := NewView()
	pkg := entity.EvidencePackage{ID: "ev-1", Status: entity.EvidenceUnderReview}
	data, _ := json.Marshal(pkg)
	ev := hub.Event{Type: hub.EventReportUpdate, Channel: hub.ChannelCitizenAlerts, EntityID: "ev-1", Payload: data}

	if err := v.Apply(ev); err != nil {
		t.Fatalf("Apply unwatched: %v", err)
	}
	if _, ok := v.Package("ev-1"); ok {
		t.Error("unwatched report applied, want discarded")
	}

	v.Watch("ev-1")
	if err := v.Apply(ev); err != nil {
		t.Fatalf("Apply watched: %v", err)
	}
	got, ok := v.Package("ev-1")
	if !ok {
		t.Fatal("watched report not applied")
	}
	if got.Status != entity.EvidenceUnderReview {
		t.Errorf("Status = %q, want under_review", got.Status)
	}

	v.Unwatch("ev-1")
	if _, ok := v.Package("ev-1"); ok {
		t.Error("package still cached after Unwatch")
	}
}

func TestView_MilestoneDeleted(t *testing.T) {
	t.Parallel()

	v := NewView()
	m := entity.Milestone{ID: "m-1", Title: "t", Status: entity.MilestoneDraft}
	data, _ := json.Marshal(m)
	if err := v.Apply(hub.Event{Type: hub.EventNewMilestone, Channel: hub.ChannelIncidents, EntityID: "m-1", Payload: data}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(v.Milestones()) != 1 {
		t.Fatal("milestone not applied")
	}

	del := hub.Event{Type: hub.EventMilestoneDeleted, Channel: hub.ChannelIncidents, EntityID: "m-1", Payload: json.RawMessage(`{"id":"m-1"}`)}
	if err := v.Apply(del); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}
	if got := len(v.Milestones()); got != 0 {
		t.Errorf("milestones = %d, want 0 after delete", got)
	}

	// Deleting an unknown id is a no-op.
	if err := v.Apply(del); err != nil {
		t.Errorf("Apply delete replay: %v", err)
	}
}

func TestView_ResyncReplacesStateAndClearsStale(t *testing.T) {
	t.Parallel()

	v := NewView()
	if err := v.Apply(incidentEvent(t, hub.EventNewIncident, entity.Incident{ID: "local-only"})); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v.MarkStale()
	if !v.Stale() {
		t.Fatal("Stale = false after MarkStale")
	}

	snap := &Snapshot{
		Incidents: []entity.Incident{{ID: "inc-1"}, {ID: "inc-2"}},
		Alerts:    make([]entity.Alert, AlertFeedCap+3),
	}
	for i := range snap.Alerts {
		snap.Alerts[i] = entity.Alert{ID: fmt.Sprintf("a-%d", i)}
	}
	v.Resync(snap)

	if v.Stale() {
		t.Error("Stale = true after Resync")
	}
	incidents := v.Incidents()
	if len(incidents) != 2 {
		t.Errorf("incidents = %d, want 2 (local-only dropped)", len(incidents))
	}
	if got := len(v.Alerts()); got != AlertFeedCap {
		t.Errorf("alerts = %d, want cap %d applied to snapshot", got, AlertFeedCap)
	}
}

func TestView_ResyncDropsCachedPackagesButKeepsWatches(t *testing.T) {
	t.Parallel()

	v := NewView()
	v.Watch("ev-1")

	pkg := entity.EvidencePackage{ID: "ev-1", Status: entity.EvidenceUnderReview}
	data, _ := json.Marshal(pkg)
	if err := v.Apply(hub.Event{Type: hub.EventReportUpdate, Channel: hub.ChannelCitizenAlerts, EntityID: "ev-1", Payload: data}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := v.Package("ev-1"); !ok {
		t.Fatal("watched report not applied")
	}

	// The package may have changed while the connection was down; the
	// snapshot does not carry evidence packages, so a resync must not
	// keep serving the pre-outage record.
	v.MarkStale()
	v.Resync(&Snapshot{})

	if v.Stale() {
		t.Error("Stale = true after Resync")
	}
	if _, ok := v.Package("ev-1"); ok {
		t.Error("pre-outage package still cached after Resync")
	}

	// The watch survives: the next report update repopulates the cache.
	pkg.Status = entity.EvidenceApproved
	data, _ = json.Marshal(pkg)
	if err := v.Apply(hub.Event{Type: hub.EventReportUpdate, Channel: hub.ChannelCitizenAlerts, EntityID: "ev-1", Payload: data}); err != nil {
		t.Fatalf("Apply after resync: %v", err)
	}
	got, ok := v.Package("ev-1")
	if !ok {
		t.Fatal("watched report not applied after resync")
	}
	if got.Status != entity.EvidenceApproved {
		t.Errorf("Status = %q, want approved", got.Status)
	}
}

func TestView_MalformedPayload(t *testing.T) {
	t.Parallel()

	v := NewView()
	err := v.Apply(hub.Event{Type: hub.EventNewIncident, EntityID: "bad", Payload: json.RawMessage(`{`)})
	if err == nil {
		t.Fatal("Apply malformed payload: err = nil, want error")
	}
	if len(v.Incidents()) != 0 {
		t.Error("malformed event mutated the view")
	}
}
