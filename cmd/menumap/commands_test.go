package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/menumap/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// execute runs the root command against ts.
func execute(t *testing.T, ts *testServer, args ...string) error {
	t.Helper()
	oldClient, oldColor := newAPIClient, noColor
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	noColor = true
	t.Cleanup(func() {
		newAPIClient = oldClient
		noColor = oldColor
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func TestMapCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /menu-mapping": `[{"id":77,"name":"Kothu Parotta","usage":3,"relevance_score":0.9}]`,
	})

	if err := execute(t, ts, "map", "kotthu", "parota"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Path != "/menu-mapping?menu_name=kotthu+parota" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestMapCommand_MissingArgs(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := execute(t, ts, "map"); err == nil {
		t.Fatal("expected error for missing menu name")
	}
	if len(ts.requests) != 0 {
		t.Errorf("no request expected, got %d", len(ts.requests))
	}
}

func TestMapCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)
	err := execute(t, ts, "map", "dal")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestBatchUpload_CSV(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /menu-mapping/batch": `{"batch_id":"b-1","status":"queued","rows":2}`,
	})

	path := filepath.Join(t.TempDir(), "menu.csv")
	if err := os.WriteFile(path, []byte("id,name,mv_id,mv_name\n1,dal fry,3,Dal Fry\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, ts, "batch", "upload", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	body := ts.requests[0].Body
	if !strings.Contains(body, `filename="menu.csv"`) || !strings.Contains(body, "1,dal fry,3,Dal Fry") {
		t.Errorf("multipart body missing file: %q", body)
	}
}

func TestBatchUpload_PDFRoute(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /menu-mapping/pdf": `{"batch_id":"b-2","status":"queued","rows":5}`,
	})

	path := filepath.Join(t.TempDir(), "Menu.PDF")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, ts, "batch", "upload", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/menu-mapping/pdf" {
		t.Errorf("path = %q, want /menu-mapping/pdf", ts.requests[0].Path)
	}
}

func TestBatchUpload_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	err := execute(t, ts, "batch", "upload", filepath.Join(t.TempDir(), "nope.csv"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(ts.requests) != 0 {
		t.Errorf("no request expected, got %d", len(ts.requests))
	}
}

func TestBatchStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /batches/b-1": `{"id":"b-1","status":"completed","total_rows":4,"processed_rows":4,"accuracy":{"total":4,"correct_current":3,"correct_prediction":2}}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/batches/b-1")
	if err != nil {
		t.Fatal(err)
	}
	var st batchStatus
	if err := decodeJSON(resp, &st); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if st.ID != "b-1" || st.TotalRows != 4 || st.Accuracy.CorrectPredict != 2 {
		t.Errorf("status = %+v", st)
	}

	if err := execute(t, ts, "batch", "status", "b-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPredictionsApprove(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /predictions/p1": `{"id":"p1","is_approved":true}`,
	})

	if err := execute(t, ts, "predictions", "approve", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["is_approved"] != true {
		t.Errorf("is_approved = %v, want true", body["is_approved"])
	}
}

func TestPredictionsList_BatchFilter(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /predictions": `[{"id":"0123456789","menu_name":"dal fry","predicted_menu_id":3,"predicted_menu_name":"Dal Fry"}]`,
	})
	t.Cleanup(func() { predictionsListCmd.Flags().Set("batch", "") })

	if err := execute(t, ts, "predictions", "list", "--batch", "b 1", "--limit", "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/predictions?batch_id=b+1&limit=5" {
		t.Errorf("path = %q", got)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""

	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/predictions")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.LLM.ChatModel = "gpt-4o"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if k.Key == "server.api_token" {
			t.Error("secret key server.api_token must not be shown")
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("paneer", 10); got != "paneer" {
		t.Errorf("got %q", got)
	}
	if got := truncate("paneer butter masala", 10); got != "paneer ..." {
		t.Errorf("got %q", got)
	}
}
