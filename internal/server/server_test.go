package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/domain"
	"fabline/internal/engine"
	"fabline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("fab-1"))
	if _, err := e.CreateProject(context.Background(), engine.CreateProjectOptions{
		ID:       "fab-1",
		Category: "kitchen",
		Actor:    engine.Actor{ID: "tester", Role: "admin"},
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/fab-1"

	res, data := doJSON(t, client, http.MethodPost, base+"/blueprint", map[string]any{
		"filename": "layout.pdf",
	}, map[string]string{"X-Actor-Id": "ed", "X-Actor-Role": "engineer"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach blueprint: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/costing", map[string]any{
		"filename":     "quote.pdf",
		"total_amount": 52000,
	}, map[string]string{"X-Actor-Id": "ed", "X-Actor-Role": "engineer"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach costing: %d %s", res.StatusCode, string(data))
	}
	var attached AttachResponse
	if err := json.Unmarshal(data, &attached); err != nil {
		t.Fatalf("unmarshal attach: %v", err)
	}
	if attached.Project.Status != domain.StatusPendingCustomerApproval {
		t.Fatalf("status after costing = %s", attached.Project.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/approve", map[string]any{
		"plan": "staged",
	}, map[string]string{"X-Actor-Id": "cust-1", "X-Actor-Role": "customer"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/payments", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list payments: %d %s", res.StatusCode, string(data))
	}
	var stages []StageResponse
	if err := json.Unmarshal(data, &stages); err != nil {
		t.Fatalf("unmarshal stages: %v", err)
	}
	if len(stages) != 3 || stages[0].Amount != 15600 || stages[1].Amount != 20800 {
		t.Fatalf("stages = %+v", stages)
	}

	for _, status := range []string{"submitted", "verified"} {
		res, data = doJSON(t, client, http.MethodPatch, base+"/payments/1", map[string]any{
			"status": status,
		}, map[string]string{"X-Actor-Id": "kay", "X-Actor-Role": "cashier"})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("stage 1 -> %s: %d %s", status, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/fabricate", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fabricate: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var done ProjectResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("final status = %s", done.Status)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/fab-1"

	// costing before blueprint -> prerequisite_missing
	res, data := doJSON(t, client, http.MethodPost, base+"/costing", map[string]any{
		"filename":     "quote.pdf",
		"total_amount": 1000,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "prerequisite_missing" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}

	// approve out of order -> invalid_transition
	res, data = doJSON(t, client, http.MethodPost, base+"/approve", map[string]any{"plan": "staged"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}

	// unknown project -> not_found
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestRolePolicyEnforced(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/fab-1"

	// a customer may not attach blueprints
	res, data := doJSON(t, client, http.MethodPost, base+"/blueprint", map[string]any{
		"filename": "layout.pdf",
	}, map[string]string{"X-Actor-Id": "cust-1", "X-Actor-Role": "customer"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestRevisionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/fab-1"

	doJSON(t, client, http.MethodPost, base+"/blueprint", map[string]any{"filename": "layout.pdf"}, nil)
	doJSON(t, client, http.MethodPost, base+"/costing", map[string]any{"filename": "quote.pdf", "total_amount": 10000}, nil)

	res, data := doJSON(t, client, http.MethodPost, base+"/revisions", map[string]any{
		"feedback": "cabinet depth wrong",
		"target":   "blueprint",
	}, map[string]string{"X-Actor-Id": "cust-1", "X-Actor-Role": "customer"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request revision: %d %s", res.StatusCode, string(data))
	}
	var revised ReviseResponse
	if err := json.Unmarshal(data, &revised); err != nil {
		t.Fatalf("unmarshal revise: %v", err)
	}
	if revised.Project.Status != domain.StatusPendingBlueprint {
		t.Fatalf("status = %s", revised.Project.Status)
	}
	if revised.Revision.TargetVersion != 1 {
		t.Fatalf("target version = %d", revised.Revision.TargetVersion)
	}

	// empty feedback -> validation_failed
	res, data = doJSON(t, client, http.MethodPost, base+"/revisions", map[string]any{
		"feedback": "",
		"target":   "blueprint",
	}, map[string]string{"X-Actor-Id": "cust-1", "X-Actor-Role": "customer"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty feedback: %d %s", res.StatusCode, string(data))
	}
}
