package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zulandar/costdesk/internal/chat"
)

// fakeBackend serves the chat and dashboard endpoints.
type fakeBackend struct {
	srv *httptest.Server

	mu      sync.Mutex
	queries []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fb.mu.Lock()
		fb.queries = append(fb.queries, req.Query)
		fb.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"answer":"Answer to: %s","sessionId":"s-1","citations":[{"retrievedReferences":[`+
			`{"location":{"s3Location":{"uri":"s3://reports/q3.pdf"}},"metadata":{"title":"Q3 report"}},{}]}]}`, req.Query)
	})
	mux.HandleFunc("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"totalMonthlyCost":1234}`)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) queryLog() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.queries...)
}

// writeConfig writes a config file pointing at baseURL with a sqlite
// registry file in a temp dir. extra is appended verbatim.
func writeConfig(t *testing.T, baseURL, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`backend:
  base_url: %s/api
registry:
  driver: sqlite
  path: %s
log:
  level: error
%s`, baseURL, filepath.Join(dir, "registry.db"), extra)

	path := filepath.Join(dir, "costdesk.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// runCmd executes the root command with args and stdin, returning stdout.
func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// nopBackend answers every question with the same text.
type nopBackend struct{}

func (nopBackend) Chat(ctx context.Context, query, sessionID string) (chat.Result, error) {
	return chat.Result{Answer: "ok"}, nil
}

func (nopBackend) Dashboard(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newTestController(t *testing.T) *chat.Controller {
	t.Helper()
	ctrl, err := chat.NewController(chat.ControllerOpts{Key: "cli:test", Backend: nopBackend{}})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return ctrl
}
