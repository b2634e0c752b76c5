package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tracecheck/internal/db"
	"tracecheck/internal/migrate"
	"tracecheck/internal/store"
	"tracecheck/internal/validator"
)

const testSecret = "test-secret"

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
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := New(Config{
		Engine:   validator.New(nil),
		Store:    store.New(conn),
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
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

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHeader(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, "tester")}
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

func sampleEvents() []map[string]any {
	return []map[string]any{
		{"kind": "node_init", "timestamp": 0.0, "actor": "sensor"},
		{"kind": "node_init", "timestamp": 0.1, "actor": "planner"},
		{"kind": "topic_subscribe", "timestamp": 0.2, "actor": "planner", "topic": "/scan"},
		{"kind": "topic_publish", "timestamp": 0.3, "actor": "sensor", "topic": "/scan"},
		{"kind": "message_delivered", "timestamp": 0.35, "actor": "planner", "topic": "/scan"},
	}
}

func TestHealthIsExemptFromAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/runs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/runs", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestValidationLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/validations", map[string]any{
		"level":        "standard",
		"trace_source": "sim.jsonl",
		"events":       sampleEvents(),
	}, authHeader(t))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create validation status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		RunID  string `json:"run_id"`
		Report struct {
			Level       string  `json:"validation_level"`
			TotalRules  int     `json:"total_rules"`
			FailedRules int     `json:"failed_rules"`
			SuccessRate float64 `json:"success_rate"`
		} `json:"report"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if created.RunID == "" {
		t.Fatalf("expected run id")
	}
	if created.Report.Level != "standard" || created.Report.FailedRules != 0 {
		t.Fatalf("unexpected report: %+v", created.Report)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list runs status %d: %s", res.StatusCode, string(data))
	}
	var runs []map[string]any
	if err := json.Unmarshal(data, &runs); err != nil {
		t.Fatalf("unmarshal runs: %v", err)
	}
	if len(runs) != 1 || runs[0]["id"] != created.RunID {
		t.Fatalf("expected the recorded run: %v", runs)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+created.RunID, nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", res.StatusCode, string(data))
	}
	var detail struct {
		Run struct {
			TraceSource string `json:"trace_source"`
			TraceEvents int    `json:"trace_events"`
		} `json:"run"`
		Report json.RawMessage `json:"report"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.Run.TraceSource != "sim.jsonl" || detail.Run.TraceEvents != 5 {
		t.Fatalf("run detail: %+v", detail.Run)
	}
	if len(detail.Report) == 0 {
		t.Fatalf("expected embedded report")
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/runs/"+created.RunID, nil, authHeader(t))
	if res.StatusCode >= 300 {
		t.Fatalf("delete run status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+created.RunID, nil, authHeader(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestValidationRejectsUnknownLevel(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/validations", map[string]any{
		"level":  "extreme",
		"events": sampleEvents(),
	}, authHeader(t))
	if res.StatusCode == http.StatusCreated {
		t.Fatalf("expected rejection, got created: %s", string(data))
	}
}

func TestRulesCatalogEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rules?level=basic", nil, authHeader(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rules status %d: %s", res.StatusCode, string(data))
	}
	var infos []ruleInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		t.Fatalf("unmarshal rules: %v", err)
	}
	if len(infos) != 5 {
		t.Fatalf("expected 5 basic rules, got %d", len(infos))
	}
	for _, info := range infos {
		if info.MinLevel != "basic" {
			t.Fatalf("basic catalog leaked %+v", info)
		}
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if len(data) == 0 {
		t.Fatalf("expected metrics exposition")
	}
}
