package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgnsrekt/cdpgrab/internal/cdp"
	"github.com/dgnsrekt/cdpgrab/internal/snapshot"
	"github.com/dgnsrekt/cdpgrab/internal/workflow"
)

// stubService writes fixed payloads to the requested output path.
type stubService struct {
	targets []cdp.Target
	err     error
	lastReq workflow.Request

	afterWrite func()
}

func (s *stubService) Targets(ctx context.Context) ([]cdp.Target, error) {
	return s.targets, s.err
}

func (s *stubService) FetchHTML(ctx context.Context, req workflow.Request) (workflow.Result, error) {
	return s.write(req, "Dash", "<html>dash</html>")
}

func (s *stubService) CaptureScreenshot(ctx context.Context, req workflow.Request) (workflow.Result, error) {
	return s.write(req, "", "\x89PNG\r\n\x1a\n")
}

func (s *stubService) write(req workflow.Request, title, payload string) (workflow.Result, error) {
	s.lastReq = req
	if s.err != nil {
		return workflow.Result{}, s.err
	}
	if err := os.WriteFile(req.Output, []byte(payload), 0o644); err != nil {
		return workflow.Result{}, err
	}
	if s.afterWrite != nil {
		s.afterWrite()
	}
	return workflow.Result{
		Target: cdp.Target{ID: "T1", Type: "page", URL: "https://example.com/dash"},
		Title:  title,
		Path:   req.Output,
		Bytes:  int64(len(payload)),
		Chars:  len(payload),
	}, nil
}

func newTestServer(t *testing.T, svc Service) (http.Handler, *snapshot.Store) {
	t.Helper()
	store, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewServer(svc, store), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type captureResponse struct {
	Capture snapshot.Meta `json:"capture"`
	URL     string        `json:"url"`
}

func decodeCapture(t *testing.T, w *httptest.ResponseRecorder) captureResponse {
	t.Helper()
	var resp captureResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestDocsDarkMode(t *testing.T) {
	h, _ := newTestServer(t, &stubService{})
	w := do(t, h, http.MethodGet, "/docs", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, &stubService{})
	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body = %s; want status ok", w.Body.String())
	}
}

func TestListTargets(t *testing.T) {
	svc := &stubService{targets: []cdp.Target{
		{ID: "A", Type: "service_worker", URL: "https://example.com/sw.js"},
		{ID: "B", Type: "page", Title: "Dash", URL: "https://example.com/dash", WebSocketDebuggerURL: "ws://x/devtools/page/B"},
	}}
	h, _ := newTestServer(t, svc)
	w := do(t, h, http.MethodGet, "/api/v1/targets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		Targets []targetView `json:"targets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Targets) != 2 || body.Targets[0].ID != "A" || body.Targets[1].Title != "Dash" {
		t.Fatalf("targets = %+v; want listing order preserved", body.Targets)
	}
}

func TestFetchHTMLRecordsCapture(t *testing.T) {
	svc := &stubService{}
	h, store := newTestServer(t, svc)

	w := do(t, h, http.MethodPost, "/api/v1/html", `{"keyword":"dash","name":"dash.html"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got, want := svc.lastReq.Output, filepath.Join(store.Dir(), "dash.html"); got != want {
		t.Fatalf("output = %q; want %q", got, want)
	}
	if svc.lastReq.Keyword != "dash" {
		t.Fatalf("keyword = %q; want dash", svc.lastReq.Keyword)
	}

	resp := decodeCapture(t, w)
	c := resp.Capture
	if c.Kind != snapshot.KindHTML || c.File != "dash.html" || c.TargetID != "T1" || c.Title != "Dash" || c.Bytes != 17 {
		t.Fatalf("capture = %+v", c)
	}
	if resp.URL != "/api/v1/captures/"+c.ID+"/content" {
		t.Fatalf("url = %q", resp.URL)
	}

	w = do(t, h, http.MethodGet, resp.URL, "")
	if w.Code != http.StatusOK {
		t.Fatalf("content status = %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "<html>dash</html>" || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("content = %q (%s)", w.Body.String(), w.Header().Get("Content-Type"))
	}
}

func TestScreenshotDefaultNameAndLifecycle(t *testing.T) {
	svc := &stubService{}
	h, store := newTestServer(t, svc)

	w := do(t, h, http.MethodPost, "/api/v1/screenshot", `{"keyword":"dash"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	c := decodeCapture(t, w).Capture
	if got, want := svc.lastReq.Output, filepath.Join(store.Dir(), c.ID+".png"); got != want {
		t.Fatalf("output = %q; want %q", got, want)
	}

	w = do(t, h, http.MethodGet, "/api/v1/captures", "")
	var list struct {
		Captures []snapshot.Meta `json:"captures"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Captures) != 1 || list.Captures[0].ID != c.ID {
		t.Fatalf("captures = %+v", list.Captures)
	}

	w = do(t, h, http.MethodGet, "/api/v1/captures/"+c.ID+"/content", "")
	if w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("content type = %q; want image/png", w.Header().Get("Content-Type"))
	}

	if w = do(t, h, http.MethodDelete, "/api/v1/captures/"+c.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(svc.lastReq.Output); !os.IsNotExist(err) {
		t.Fatalf("capture file still present (stat err %v)", err)
	}
	if w = do(t, h, http.MethodGet, "/api/v1/captures/"+c.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestCaptureNotFound(t *testing.T) {
	h, _ := newTestServer(t, &stubService{})
	for _, id := range []string{"123e4567-e89b-12d3-a456-426614174000", "not-a-uuid"} {
		if w := do(t, h, http.MethodGet, "/api/v1/captures/"+id, ""); w.Code != http.StatusNotFound {
			t.Fatalf("id %q: status = %d, want 404", id, w.Code)
		}
	}
}

func TestCaptureRejectsPathNames(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestServer(t, svc)
	for _, name := range []string{"../escape.html", "a/b.html", "..", ".index"} {
		w := do(t, h, http.MethodPost, "/api/v1/html", `{"keyword":"dash","name":"`+name+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("name %q: status = %d, want %d", name, w.Code, http.StatusBadRequest)
		}
	}
	if svc.lastReq.Output != "" {
		t.Fatalf("service called with %q for a rejected name", svc.lastReq.Output)
	}
}

func TestCaptureRejectsIndexedName(t *testing.T) {
	svc := &stubService{}
	h, store := newTestServer(t, svc)

	w := do(t, h, http.MethodPost, "/api/v1/html", `{"keyword":"dash","name":"dash.html"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first capture status = %d: %s", w.Code, w.Body.String())
	}
	first := decodeCapture(t, w).Capture

	svc.lastReq = workflow.Request{}
	w = do(t, h, http.MethodPost, "/api/v1/screenshot", `{"keyword":"dash","name":"dash.html"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("reused name status = %d, want %d: %s", w.Code, http.StatusConflict, w.Body.String())
	}
	if svc.lastReq.Output != "" {
		t.Fatalf("service called with %q for a reused name", svc.lastReq.Output)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 1 || metas[0].ID != first.ID {
		t.Fatalf("captures = %+v; want only %s", metas, first.ID)
	}
	data, _, err := store.ReadContent(first.ID)
	if err != nil || string(data) != "<html>dash</html>" {
		t.Fatalf("ReadContent() = %q, %v; want original capture intact", data, err)
	}
}

func TestCaptureRemovesFileWhenIndexWriteFails(t *testing.T) {
	svc := &stubService{}
	h, store := newTestServer(t, svc)
	svc.afterWrite = func() {
		if err := os.RemoveAll(filepath.Join(store.Dir(), ".index")); err != nil {
			t.Errorf("remove index dir: %v", err)
		}
	}

	w := do(t, h, http.MethodPost, "/api/v1/html", `{"keyword":"dash","name":"orphan.html"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusInternalServerError, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "orphan.html")); !os.IsNotExist(err) {
		t.Fatalf("unindexed capture file left on disk (stat err %v)", err)
	}
}

func TestMapErrStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{cdp.CodeNoTargetFound, http.StatusNotFound},
		{cdp.CodeCommandTimeout, http.StatusGatewayTimeout},
		{cdp.CodeConnectFailed, http.StatusBadGateway},
		{cdp.CodeDirectoryUnavailable, http.StatusBadGateway},
		{cdp.CodeSinkWrite, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &stubService{err: cdp.NewError(tt.code, "boom", nil)}
			h, store := newTestServer(t, svc)
			w := do(t, h, http.MethodPost, "/api/v1/html", `{"keyword":"dash"}`)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if metas, _ := store.List(); len(metas) != 0 {
				t.Fatalf("failed capture recorded: %+v", metas)
			}
		})
	}
}
