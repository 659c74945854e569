package reviewapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/overwatch/internal/authmw"
	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/review"
	"github.com/linnemanlabs/overwatch/internal/review/memstore"
	"github.com/linnemanlabs/overwatch/internal/risk"
)

const (
	operatorToken   = "op-token"
	supervisorToken = "sup-token"
	citizenToken    = "cit-token"
)

func newTestRouter(t *testing.T) (chi.Router, *review.Service) {
	t.Helper()

	agg, err := risk.New(risk.Config{HighThreshold: 0.6, CriticalThreshold: 0.85})
	if err != nil {
		t.Fatalf("risk.New: %v", err)
	}
	store := memstore.New()
	engine := review.NewEngine(store, nil, log.Nop(), review.EngineHooks{})
	svc := review.NewService(store, engine, agg, nil, log.Nop(), nil, nil)

	creds := authmw.New(authmw.Credentials{
		operatorToken:   {ID: "op-1", Role: entity.RoleOperator},
		supervisorToken: {ID: "sup-1", Role: entity.RoleSupervisor},
		citizenToken:    {ID: "cit-1", Role: entity.RoleCitizen},
	})

	api := New(nil, svc)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(creds.Middleware)
		api.RegisterRoutes(r)
	})
	return r, svc
}

func doJSON(t *testing.T, r chi.Router, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createIncident(t *testing.T, r chi.Router, body string) entity.Incident {
	t.Helper()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/incidents", operatorToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/incidents = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}
	var inc entity.Incident
	if err := json.NewDecoder(rec.Body).Decode(&inc); err != nil {
		t.Fatalf("failed to decode incident: %v", err)
	}
	return inc
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	_, svc := newTestRouter(t)
	api := New(nil, svc)
	if api == nil {
		t.Fatal("New(nil, svc) returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Authentication

func TestRoutes_RequireAuthentication(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/incidents"},
		{http.MethodGet, "/api/v1/incidents"},
		{http.MethodPost, "/api/v1/transitions"},
		{http.MethodGet, "/api/v1/snapshot"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			t.Parallel()

			rec := doJSON(t, r, p.method, p.path, "", `{}`)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s without token = %d, want %d", p.method, p.path, rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

// Incident lifecycle over HTTP

func TestHandleCreateIncident_LowRisk(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	inc := createIncident(t, r, `{
		"type": "suspicious_activity",
		"title": "Loitering near gate 4",
		"factors": {"temporal": 0.2, "spatial": 0.1, "behavioral": 0.2, "contextual": 0.1},
		"confidence": 0.9
	}`)

	if inc.ID == "" {
		t.Fatal("expected generated incident ID")
	}
	if inc.Status != entity.IncidentActive {
		t.Errorf("status = %q, want %q", inc.Status, entity.IncidentActive)
	}
	if inc.RequiresHumanReview {
		t.Error("low-risk incident should not require human review")
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/incidents/"+inc.ID, operatorToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET incident = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleCreateIncident_MissingType(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/incidents", operatorToken, `{"title":"no type"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if resp["error"] != "validation_error" {
		t.Errorf("error = %q, want %q", resp["error"], "validation_error")
	}
}

func TestHandleCreateIncident_InvalidJSON(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/incidents", operatorToken, `{bad`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// Transitions

func TestHandleTransition_StatusCodes(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	inc := createIncident(t, r, `{
		"type": "intrusion",
		"title": "Fence breach",
		"factors": {"temporal": 0.3, "spatial": 0.3, "behavioral": 0.3, "contextual": 0.3},
		"confidence": 0.8
	}`)

	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
	}{
		{
			"operator sets status responding",
			operatorToken,
			fmt.Sprintf(`{"entity_type":"incident","entity_id":%q,"transition":"set_status","payload":{"status":"responding"}}`, inc.ID),
			http.StatusOK,
		},
		{
			"citizen may not set status",
			citizenToken,
			fmt.Sprintf(`{"entity_type":"incident","entity_id":%q,"transition":"set_status","payload":{"status":"resolved"}}`, inc.ID),
			http.StatusForbidden,
		},
		{
			"unknown transition rejected",
			operatorToken,
			fmt.Sprintf(`{"entity_type":"incident","entity_id":%q,"transition":"frobnicate","payload":{}}`, inc.ID),
			http.StatusConflict,
		},
		{
			"missing entity",
			operatorToken,
			`{"entity_type":"incident","entity_id":"nope","transition":"set_status","payload":{"status":"resolved"}}`,
			http.StatusNotFound,
		},
		{
			"empty id rejected",
			operatorToken,
			`{"entity_type":"incident","entity_id":"","transition":"set_status","payload":{"status":"resolved"}}`,
			http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/transitions", tt.token, tt.body)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d: %s", tt.name, rec.Code, tt.wantStatus, rec.Body)
		}
	}
}

func TestHandleTransition_ReturnsResultingStatus(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	inc := createIncident(t, r, `{
		"type": "intrusion",
		"title": "Tailgating at loading dock",
		"factors": {"temporal": 0.2, "spatial": 0.2, "behavioral": 0.2, "contextual": 0.2},
		"confidence": 0.7
	}`)

	body := fmt.Sprintf(`{"entity_type":"incident","entity_id":%q,"transition":"set_status","payload":{"status":"responding"}}`, inc.ID)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/transitions", supervisorToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}

	var res review.TransitionResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.ResultingStatus != string(entity.IncidentResponding) {
		t.Errorf("resulting_status = %q, want %q", res.ResultingStatus, entity.IncidentResponding)
	}
}

// Milestones

func TestHandleCreateMilestone_CreatorFromToken(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	// The body claims another creator; the token identity wins.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/milestones", operatorToken, `{
		"title": "Review perimeter footage",
		"type": "development",
		"created_by": "someone-else"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}

	var m entity.Milestone
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode milestone: %v", err)
	}
	if m.CreatedBy != "op-1" {
		t.Errorf("created_by = %q, want %q", m.CreatedBy, "op-1")
	}
	if m.Status != entity.MilestoneDraft {
		t.Errorf("status = %q, want %q", m.Status, entity.MilestoneDraft)
	}
}

func TestHandleListMilestones_Filters(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	for _, title := range []string{"first", "second"} {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/milestones", operatorToken,
			fmt.Sprintf(`{"title":%q,"type":"development"}`, title))
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed milestone = %d: %s", rec.Code, rec.Body)
		}
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/milestones?status=draft", operatorToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Milestones []entity.Milestone `json:"milestones"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(resp.Milestones) != 2 {
		t.Fatalf("draft milestones = %d, want 2", len(resp.Milestones))
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/milestones?status=completed", operatorToken, "")
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode filtered list: %v", err)
	}
	if len(resp.Milestones) != 0 {
		t.Fatalf("completed milestones = %d, want 0", len(resp.Milestones))
	}
}

// Audit

func TestHandleAudit_TrailGrowsWithTransitions(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	inc := createIncident(t, r, `{
		"type": "intrusion",
		"title": "Door forced open",
		"factors": {"temporal": 0.2, "spatial": 0.2, "behavioral": 0.2, "contextual": 0.2},
		"confidence": 0.7
	}`)

	body := fmt.Sprintf(`{"entity_type":"incident","entity_id":%q,"transition":"set_status","payload":{"status":"responding"}}`, inc.ID)
	if rec := doJSON(t, r, http.MethodPost, "/api/v1/transitions", operatorToken, body); rec.Code != http.StatusOK {
		t.Fatalf("transition = %d: %s", rec.Code, rec.Body)
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/audit/"+inc.ID, supervisorToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Audit []review.AuditRecord `json:"audit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode audit: %v", err)
	}
	// One create entry plus one transition entry.
	if len(resp.Audit) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(resp.Audit))
	}
	if resp.Audit[1].Transition != "set_status" {
		t.Errorf("last transition = %q, want %q", resp.Audit[1].Transition, "set_status")
	}
}

// Snapshot

func TestHandleSnapshot_ReturnsFullState(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	createIncident(t, r, `{
		"type": "intrusion",
		"title": "Snapshot seed",
		"factors": {"temporal": 0.2, "spatial": 0.2, "behavioral": 0.2, "contextual": 0.2},
		"confidence": 0.7
	}`)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/snapshot", operatorToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Incidents  []entity.Incident  `json:"incidents"`
		Alerts     []entity.Alert     `json:"alerts"`
		Milestones []entity.Milestone `json:"milestones"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(resp.Incidents) != 1 {
		t.Errorf("incidents = %d, want 1", len(resp.Incidents))
	}
	if resp.Alerts == nil || resp.Milestones == nil {
		t.Error("empty collections should encode as [], not null")
	}
}

// Lookups

func TestHandleGet_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	paths := []string{
		"/api/v1/incidents/missing",
		"/api/v1/evidence/missing",
		"/api/v1/milestones/missing",
		"/api/v1/alerts/missing",
	}
	for _, path := range paths {
		rec := doJSON(t, r, http.MethodGet, path, operatorToken, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}
