package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/menumap/internal/mapper"
	"github.com/kalambet/menumap/internal/storage"
)

const testToken = "test-token-12345"

type mockMapper struct {
	result mapper.Result
	err    error
	got    string
}

func (m *mockMapper) Map(_ context.Context, name string) (mapper.Result, error) {
	m.got = name
	return m.result, m.err
}

func setupAppHandler(t *testing.T, token string, m MenuMapper) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if m == nil {
		m = &mockMapper{}
	}
	handler := NewAppHandler(AppDeps{
		Store:       store,
		Mapper:      m,
		Token:       token,
		MaxAttempts: 3,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func uploadReq(t *testing.T, url, filename string, content []byte, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t, testToken, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMap_ReturnsMatches(t *testing.T) {
	m := &mockMapper{result: mapper.Result{
		Input:     "panner tikka",
		Corrected: "paneer tikka",
		Matches: []mapper.QueryResult{
			{ID: 12, Name: "Paneer Tikka", Usage: 40, RelevanceScore: 0.95},
		},
	}}
	h, _ := setupAppHandler(t, testToken, m)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/menu-mapping?menu_name=Panner+Tikka", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if m.got != "Panner Tikka" {
		t.Errorf("mapper got %q", m.got)
	}

	var got []mapper.QueryResult
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 12 || got[0].RelevanceScore != 0.95 {
		t.Errorf("body = %+v", got)
	}
}

func TestMap_Verbose(t *testing.T) {
	m := &mockMapper{result: mapper.Result{Input: "dal", Corrected: "dal fry"}}
	h, _ := setupAppHandler(t, "", m)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/menu-mapping?menu_name=dal&verbose=true", "", ""))
	var got map[string]any
	json.NewDecoder(rr.Body).Decode(&got)
	if got["corrected"] != "dal fry" {
		t.Errorf("verbose body = %v", got)
	}
}

func TestMap_EmptyMatchesIsArray(t *testing.T) {
	h, _ := setupAppHandler(t, "", &mockMapper{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/menu-mapping?menu_name=xyz", "", ""))
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rr.Body.String())
	}
}

func TestMap_MissingName(t *testing.T) {
	h, _ := setupAppHandler(t, testToken, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/menu-mapping", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if typ := errorType(t, rr); typ != "invalid_request_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestMap_EmptyAfterNormalization(t *testing.T) {
	h, _ := setupAppHandler(t, "", &mockMapper{err: mapper.ErrEmptyInput})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/menu-mapping?menu_name=addon", "", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestMap_PipelineError(t *testing.T) {
	h, _ := setupAppHandler(t, "", &mockMapper{err: errors.New("index offline")})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/menu-mapping?menu_name=dal", "", ""))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestAuth_Required(t *testing.T) {
	h, _ := setupAppHandler(t, testToken, nil)
	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/predictions", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _ := setupAppHandler(t, "", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/predictions", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestBatchCSV_Accepted(t *testing.T) {
	h, store := setupAppHandler(t, testToken, nil)

	csv := "id,name,mv_id,mv_name\n2,Jeera Rice,4,Jeera Rice\n1,Dal Fry,3,Dal Fry\n"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadReq(t, "/menu-mapping/batch", "items.csv", []byte(csv), testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp batchAccepted
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "queued" || resp.Rows != 2 || resp.BatchID == "" {
		t.Errorf("resp = %+v", resp)
	}

	b, err := store.GetBatch(resp.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.Filename != "items.csv" || b.TotalRows != 2 || b.Source != "csv" {
		t.Errorf("batch = %+v", b)
	}
	if n, _ := store.PendingJobs(); n != 2 {
		t.Errorf("pending jobs = %d, want 2", n)
	}
}

func TestBatchCSV_HeaderMismatch(t *testing.T) {
	h, store := setupAppHandler(t, "", nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadReq(t, "/menu-mapping/batch", "bad.csv", []byte("id,item,mv_id,mv_name\n1,x,2,y\n"), ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if n, _ := store.PendingJobs(); n != 0 {
		t.Errorf("pending jobs = %d, want 0", n)
	}
}

func TestBatchCSV_MissingFile(t *testing.T) {
	h, _ := setupAppHandler(t, "", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/menu-mapping/batch", "id,name", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestBatchPDF_NotAPDF(t *testing.T) {
	h, _ := setupAppHandler(t, "", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadReq(t, "/menu-mapping/pdf", "menu.pdf", []byte("plain text"), ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetBatch(t *testing.T) {
	h, store := setupAppHandler(t, "", nil)
	if err := store.CreateBatch(storage.Batch{ID: "b1", Filename: "f.csv", TotalRows: 2}); err != nil {
		t.Fatal(err)
	}
	savePrediction(t, store, "p1", "b1", true)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/batches/b1", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got struct {
		ID        string                `json:"id"`
		TotalRows int                   `json:"total_rows"`
		Accuracy  storage.BatchAccuracy `json:"accuracy"`
	}
	json.NewDecoder(rr.Body).Decode(&got)
	if got.ID != "b1" || got.TotalRows != 2 || got.Accuracy.Total != 1 || got.Accuracy.CorrectPredict != 1 {
		t.Errorf("body = %+v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/batches/missing", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing batch status = %d", rr.Code)
	}
}

func savePrediction(t *testing.T, store *storage.Store, id, batchID string, correct bool) {
	t.Helper()
	err := store.SavePrediction(storage.Prediction{
		ID:                id,
		BatchID:           batchID,
		MenuID:            1,
		MenuName:          "dal fry",
		MasterMenuID:      3,
		PredictedMenuID:   3,
		PredictedMenuName: "Dal Fry",
		EvalPrediction:    correct,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}
}

func TestPredictions_ListGetPatch(t *testing.T) {
	h, store := setupAppHandler(t, "", nil)
	savePrediction(t, store, "p1", "b1", true)
	savePrediction(t, store, "p2", "b2", false)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/predictions?batch_id=b2", "", ""))
	var list []storage.Prediction
	json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 1 || list[0].ID != "p2" {
		t.Fatalf("list = %+v", list)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/predictions/p1", `{"is_approved": false}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/predictions/p1", "", ""))
	var p storage.Prediction
	json.NewDecoder(rr.Body).Decode(&p)
	if p.IsApproved == nil || *p.IsApproved {
		t.Errorf("IsApproved = %v, want false", p.IsApproved)
	}
}

func TestPredictions_PatchValidation(t *testing.T) {
	h, store := setupAppHandler(t, "", nil)
	savePrediction(t, store, "p1", "", true)

	cases := []struct {
		path, body string
		want       int
	}{
		{"/predictions/p1", `{}`, http.StatusBadRequest},
		{"/predictions/p1", `not json`, http.StatusBadRequest},
		{"/predictions/nope", `{"is_approved": true}`, http.StatusNotFound},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPatch, c.path, c.body, ""))
		if rr.Code != c.want {
			t.Errorf("%s %s: status = %d, want %d", c.path, c.body, rr.Code, c.want)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/predictions/nope", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("get missing: status = %d", rr.Code)
	}
}
