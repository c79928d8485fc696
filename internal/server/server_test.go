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

	"jointly/internal/config"
	"jointly/internal/db"
	"jointly/internal/domain"
	"jointly/internal/engine"
	"jointly/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func bearerFor(t *testing.T, role domain.Role) map[string]string {
	t.Helper()
	token, err := MintToken(testSecret, "user-"+string(role), role, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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

func decodeInto(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	decodeInto(t, data, &envelope)
	return envelope.Error.Code
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestsRefused(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/submissions/landowner", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %q", code)
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/submissions/landowner", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("bad token: status=%d body=%s", res.StatusCode, data)
	}
}

func TestWrongRoleRefusedWith403(t *testing.T) {
	ts := newTestServer(t)
	landowner := bearerFor(t, domain.RoleLandowner)

	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/submissions/builder", nil, landowner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d body = %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("code = %q", code)
	}

	res, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/sessions",
		StartSessionRequest{Role: "builder", Category: "interior"}, landowner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-role session start status = %d", res.StatusCode)
	}
}

func TestWizardDefinitionExposesCatalog(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet,
		ts.URL+"/v1/wizards/landowner/contract-construction", nil, bearerFor(t, domain.RoleLandowner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, data)
	}
	var def DefinitionResponse
	decodeInto(t, data, &def)
	if len(def.Steps) != 6 || def.Steps[0] != "brief" || def.Steps[5] != "done" {
		t.Fatalf("steps = %v", def.Steps)
	}
	if len(def.Options["propertyDimensions"]) == 0 {
		t.Fatalf("options = %v", def.Options)
	}
}

func TestContractConstructionFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerFor(t, domain.RoleLandowner)

	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/sessions",
		StartSessionRequest{Role: "landowner", Category: "contract-construction"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d body = %s", res.StatusCode, data)
	}
	var session SessionResponse
	decodeInto(t, data, &session)
	if session.Step != "brief" {
		t.Fatalf("step = %s", session.Step)
	}
	base := ts.URL + "/v1/sessions/" + session.ID

	res, _ = doJSON(t, ts.Client(), http.MethodPost, base+"/continue", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("continue from brief status = %d", res.StatusCode)
	}

	// incomplete property step is refused with the gating code
	res, data = doJSON(t, ts.Client(), http.MethodPost, base+"/continue", nil, auth)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("gated continue: status=%d body=%s", res.StatusCode, data)
	}

	res, _ = doJSON(t, ts.Client(), http.MethodPatch, base+"/answers", AnswersRequest{Answers: map[string]any{
		"landownerName":      "Asha",
		"ward":               "12",
		"propertyDimensions": "30×40",
		"propertyFacing":     "North",
		"roadWidth":          "30",
	}}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch answers status = %d", res.StatusCode)
	}
	for _, step := range []string{"far", "pid", "intent"} {
		res, data = doJSON(t, ts.Client(), http.MethodPost, base+"/continue", nil, auth)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("continue to %s: status=%d body=%s", step, res.StatusCode, data)
		}
	}
	doJSON(t, ts.Client(), http.MethodPatch, base+"/answers", AnswersRequest{Answers: map[string]any{
		"timeline":    "Within a month",
		"projectType": "Duplex house",
	}}, auth)

	res, data = doJSON(t, ts.Client(), http.MethodPost, base+"/submit", nil, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d body = %s", res.StatusCode, data)
	}
	var rec SubmissionResponse
	decodeInto(t, data, &rec)
	if rec.Type != "contract-construction" || rec.Role != "landowner" {
		t.Fatalf("record = %+v", rec)
	}
	var payload domain.ContractConstruction
	decodeInto(t, rec.Payload, &payload)
	if payload.FAR != "2.75" || payload.ProjectIntent.Type != "Duplex house" {
		t.Fatalf("payload = %+v", payload)
	}

	// submitted session is gone
	res, _ = doJSON(t, ts.Client(), http.MethodGet, base, nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after submit = %d", res.StatusCode)
	}

	// and it shows up in the role-scoped listing
	res, data = doJSON(t, ts.Client(), http.MethodGet,
		ts.URL+"/v1/submissions/landowner?type=contract-construction&verified=no", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", res.StatusCode)
	}
	var list []SubmissionResponse
	decodeInto(t, data, &list)
	if len(list) != 1 || list[0].ID != rec.ID || list[0].Verified {
		t.Fatalf("list = %+v", list)
	}
}

func TestFeasibilityPreviewEndpoint(t *testing.T) {
	ts := newTestServer(t)
	auth := bearerFor(t, domain.RoleLandowner)

	res, data := doJSON(t, ts.Client(), http.MethodGet,
		ts.URL+"/v1/feasibility?dimensions=30%C3%9740&road_width=30", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", res.StatusCode, data)
	}
	var resp FeasibilityResponse
	decodeInto(t, data, &resp)
	if resp.Feasibility == nil || resp.Feasibility.TotalBuildableArea != 3300 {
		t.Fatalf("feasibility = %+v", resp.Feasibility)
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet,
		ts.URL+"/v1/feasibility?dimensions=abc&road_width=30", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("malformed dims status = %d", res.StatusCode)
	}
	decodeInto(t, data, &resp)
	if resp.Feasibility != nil {
		t.Fatalf("expected null feasibility, got %+v", resp.Feasibility)
	}
}

func TestAPIKeyAuthCarriesRole(t *testing.T) {
	ts := newTestServer(t)
	builder := bearerFor(t, domain.RoleBuilder)

	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/apikeys",
		CreateAPIKeyRequest{Name: "ci"}, builder)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status = %d body = %s", res.StatusCode, data)
	}
	var created APIKeyResponse
	decodeInto(t, data, &created)
	if created.Key == "" || created.Role != "builder" {
		t.Fatalf("created = %+v", created)
	}

	keyHeader := map[string]string{"X-Api-Key": created.Key}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/submissions/builder", nil, keyHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("key-authed list status = %d", res.StatusCode)
	}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/submissions/landowner", nil, keyHeader)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("key wrong-role status = %d", res.StatusCode)
	}

	res, _ = doJSON(t, ts.Client(), http.MethodDelete, ts.URL+"/v1/apikeys/"+created.ID, nil, builder)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key status = %d", res.StatusCode)
	}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/submissions/builder", nil, keyHeader)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status = %d", res.StatusCode)
	}
}
