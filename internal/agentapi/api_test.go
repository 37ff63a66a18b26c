package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/kv/memkv"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/triage/memstore"
)

type testEnv struct {
	router chi.Router
	db     *memkv.Store
	facts  *memstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := memkv.New()
	facts := memstore.New()
	ps := policy.NewStore(db, log.Nop(), nil)
	rs := rules.NewStore(db, log.Nop(), nil)
	engine := triage.NewEngine(ps, rs, db, facts, "", log.Nop(), triage.EngineHooks{})
	svc := triage.NewService(engine, ps, rs, facts, nil, log.Nop())

	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)
	return &testEnv{router: r, db: db, facts: facts}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, stubService{})
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

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET triage not allowed", http.MethodGet, "/api/v1/triage", http.StatusMethodNotAllowed},
		{"DELETE policy not allowed", http.MethodDelete, "/api/v1/policy", http.StatusMethodNotAllowed},
		{"POST rules not allowed", http.MethodPost, "/api/v1/rules", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{"GET policy", http.MethodGet, "/api/v1/policy", http.StatusOK},
		{"GET rules", http.MethodGet, "/api/v1/rules", http.StatusOK},
		{"GET facts", http.MethodGet, "/api/v1/facts", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := env.do(t, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

// POST /api/v1/triage

func TestHandleTriage_HighSeverity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/triage", `{"task_input":"HIGH_SEVERITY_ALERT: Source=CrowdStrike"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	res := decode[triage.SubmitResult](t, rec)
	if res.Outcome.PlanDirective != triage.DirectiveHighSeverity {
		t.Errorf("directive = %q, want %q", res.Outcome.PlanDirective, triage.DirectiveHighSeverity)
	}
	if res.Outcome.RuleWritten == nil || !strings.HasPrefix(res.Outcome.RuleWritten.ID, "rule_crowdstrike_") {
		t.Errorf("rule_written = %+v, want generated crowdstrike rule", res.Outcome.RuleWritten)
	}
	if !strings.HasPrefix(res.Summary, "Cybersecurity triage complete. directive=") {
		t.Errorf("summary = %q", res.Summary)
	}
	if env.facts.Len() != 1 {
		t.Errorf("facts recorded = %d, want 1", env.facts.Len())
	}
}

func TestHandleTriage_BadRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{bad`},
		{"empty body", ``},
		{"missing task_input", `{}`},
		{"blank task_input", `{"task_input":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := env.do(t, http.MethodPost, "/api/v1/triage", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			body := decode[map[string]string](t, rec)
			if body["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestHandleTriage_OversizedBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	big := `{"task_input":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := env.do(t, http.MethodPost, "/api/v1/triage", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTriage_ServiceError(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New(log.Nop(), stubService{submitErr: errors.New("boom")}).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", strings.NewReader(`{"task_input":"x"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// /api/v1/policy

func TestHandlePolicy_GetSeedsDefault(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/policy", "")
	if got := decode[policy.Snapshot](t, rec); got != policy.Default() {
		t.Errorf("policy = %+v, want default", got)
	}
	if env.db.Len(policy.Partition) != 1 {
		t.Error("GET /policy did not seed the default snapshot")
	}
}

func TestHandlePolicy_PutThenGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := `{"zscaler_status":"OK","crowdstrike_endpoint_count":250,"jira_open_tickets":1,"meraki_network_health":"HEALTHY"}`
	rec := env.do(t, http.MethodPut, "/api/v1/policy", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	got := decode[policy.Snapshot](t, env.do(t, http.MethodGet, "/api/v1/policy", ""))
	if got.CrowdstrikeEndpointCount != 250 || got.MerakiNetworkHealth != "HEALTHY" {
		t.Errorf("policy after PUT = %+v", got)
	}

	// above threshold: no rule synthesized
	res := decode[triage.SubmitResult](t, env.do(t, http.MethodPost, "/api/v1/triage", `{"task_input":"routine"}`))
	if res.Outcome.RuleWritten != nil {
		t.Errorf("rule_written = %+v, want none", res.Outcome.RuleWritten)
	}
}

func TestHandlePolicy_PutInvalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, body := range []string{`{bad`, `{"crowdstrike_endpoint_count":3}`} {
		if rec := env.do(t, http.MethodPut, "/api/v1/policy", body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandlePolicy_PutStoreFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.db.FailInsert(errors.New("read-only"))
	body := `{"zscaler_status":"OK","crowdstrike_endpoint_count":1,"jira_open_tickets":1,"meraki_network_health":"OK"}`
	if rec := env.do(t, http.MethodPut, "/api/v1/policy", body); rec.Code != http.StatusInternalServerError {
		t.Errorf("PUT with failing store = %d, want 500", rec.Code)
	}
}

// /api/v1/rules

func TestHandleRules_ListAndGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res := decode[triage.SubmitResult](t, env.do(t, http.MethodPost, "/api/v1/triage", `{"task_input":"check"}`))
	id := res.Outcome.RuleID()

	list := decode[struct {
		Rules []rules.Rule `json:"rules"`
	}](t, env.do(t, http.MethodGet, "/api/v1/rules", ""))
	if len(list.Rules) != 1 || list.Rules[0].ID != id {
		t.Errorf("rules = %+v, want [%s]", list.Rules, id)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/rules/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET rule status = %d, want 200", rec.Code)
	}
	got := decode[rules.Rule](t, rec)
	if got.ConditionKeyword != rules.CrowdstrikeJira.ConditionKeyword || got.ActionDirective != rules.CrowdstrikeJira.ActionDirective {
		t.Errorf("rule = %+v", got)
	}
}

func TestHandleRules_GetMissing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/v1/rules/rule_crowdstrike_999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleRules_EmptyListIsArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/rules", "")
	if !strings.Contains(rec.Body.String(), `"rules":[]`) {
		t.Errorf("body = %s, want empty rules array", rec.Body.String())
	}
}

// /api/v1/facts

func TestHandleFacts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for range 3 {
		env.do(t, http.MethodPost, "/api/v1/triage", `{"task_input":"check"}`)
	}

	list := decode[struct {
		Facts []triage.FactRecord `json:"facts"`
	}](t, env.do(t, http.MethodGet, "/api/v1/facts?type=SecurityTriage&limit=2", ""))
	if len(list.Facts) != 2 {
		t.Fatalf("facts = %d, want 2", len(list.Facts))
	}
	if list.Facts[0].AgentID != triage.DefaultAgentID || list.Facts[0].FactType != triage.FactTypeSecurityTriage {
		t.Errorf("fact = %+v", list.Facts[0])
	}
}

func TestHandleFacts_BadLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, q := range []string{"limit=abc", "limit=-1"} {
		if rec := env.do(t, http.MethodGet, "/api/v1/facts?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET /facts?%s = %d, want 400", q, rec.Code)
		}
	}
}

// stubService satisfies Service for constructor and error-path tests.
type stubService struct {
	submitErr error
}

func (s stubService) Submit(context.Context, string) (*triage.SubmitResult, error) {
	return nil, s.submitErr
}
func (stubService) Policy(context.Context) policy.Snapshot                { return policy.Default() }
func (stubService) UpdatePolicy(context.Context, policy.Snapshot) error   { return nil }
func (stubService) Rules(context.Context) ([]rules.Rule, error)           { return []rules.Rule{}, nil }
func (stubService) Rule(context.Context, string) (rules.Rule, bool, error) { return rules.Rule{}, false, nil }
func (stubService) Facts(context.Context, string, int) ([]triage.FactRecord, error) {
	return []triage.FactRecord{}, nil
}
