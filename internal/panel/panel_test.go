package panel

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlerServesRoot(t *testing.T) {
	w := get(t, Handler(""), "/")

	if w.Code != http.StatusOK {
		t.Fatalf("GET /: got status %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("GET /: response doesn't contain HTML doctype")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestHandlerServesAssets(t *testing.T) {
	h := Handler("")
	for _, p := range []string{"/app.js", "/style.css"} {
		w := get(t, h, p)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: got status %d, want 200", p, w.Code)
		}
		if w.Body.Len() == 0 {
			t.Errorf("GET %s: empty response body", p)
		}
	}
}

func TestHandlerFallback(t *testing.T) {
	h := Handler("")

	w := get(t, h, "/sessions/box-01")
	if w.Code != http.StatusOK {
		t.Errorf("GET /sessions/box-01: got status %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("fallback didn't serve index.html")
	}

	if w := get(t, h, "/missing.js"); w.Code != http.StatusNotFound {
		t.Errorf("GET /missing.js: got status %d, want 404", w.Code)
	}
}

func TestHandlerFilesystemMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(`<!DOCTYPE html><p>from disk</p>`), 0o644); err != nil {
		t.Fatal(err)
	}

	h := Handler(dir)
	if w := get(t, h, "/"); !strings.Contains(w.Body.String(), "from disk") {
		t.Errorf("filesystem GET /: got %q", w.Body.String())
	}
	if w := get(t, h, "/deep/route"); !strings.Contains(w.Body.String(), "from disk") {
		t.Error("filesystem fallback didn't serve index.html")
	}
}

func TestHandlerInvalidDirFallsBackToEmbed(t *testing.T) {
	w := get(t, Handler("/nonexistent/dir/that/does/not/exist"), "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Sessions") {
		t.Errorf("invalid dir: got status %d, body %q", w.Code, w.Body.String())
	}
}
