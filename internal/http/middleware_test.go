package httpx

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompression(t *testing.T) {
	payload := map[string]string{"report_text": strings.Repeat("心理评估报告 ", 500)}
	jsonHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, payload)
	})

	tests := []struct {
		name           string
		acceptEncoding string
		method         string
		path           string
		handler        http.Handler
		expectGzip     bool
	}{
		{name: "json with gzip", acceptEncoding: "gzip, deflate", handler: jsonHandler, expectGzip: true},
		{name: "gzip with q value", acceptEncoding: "br;q=1.0, gzip;q=0.5", handler: jsonHandler, expectGzip: true},
		{name: "gzip disabled by q=0", acceptEncoding: "gzip;q=0", handler: jsonHandler},
		{name: "no accept-encoding", handler: jsonHandler},
		{name: "head request", acceptEncoding: "gzip", method: http.MethodHead, handler: jsonHandler},
		{
			name:           "event stream path",
			acceptEncoding: "gzip",
			path:           "/sse/report-status/x",
			handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, `{"ok":true}`)
			}),
		},
		{
			name:           "no content",
			acceptEncoding: "gzip",
			handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			path := tt.path
			if path == "" {
				path = "/api/assessments/x/report"
			}
			req := httptest.NewRequest(method, path, nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rec := httptest.NewRecorder()

			Compression(CompressionConfig{Level: 6})(tt.handler).ServeHTTP(rec, req)

			if !tt.expectGzip {
				assert.Empty(t, rec.Header().Get("Content-Encoding"))
				return
			}
			require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
			assert.Contains(t, rec.Header().Values("Vary"), "Accept-Encoding")

			zr, err := gzip.NewReader(rec.Body)
			require.NoError(t, err)
			var got map[string]string
			require.NoError(t, json.NewDecoder(zr).Decode(&got))
			assert.Equal(t, payload, got)
		})
	}
}

func TestCompression_ConcurrentRequestsReuseWriters(t *testing.T) {
	h := Compression(CompressionConfig{Level: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
	}))

	done := make(chan string, 20)
	for i := range 20 {
		go func() {
			path := "/api/assessments/" + strings.Repeat("a", i+1)
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Accept-Encoding", "gzip")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			zr, err := gzip.NewReader(rec.Body)
			if err != nil {
				done <- ""
				return
			}
			var got map[string]string
			if err := json.NewDecoder(zr).Decode(&got); err != nil || got["path"] != path {
				done <- ""
				return
			}
			done <- path
		}()
	}
	for range 20 {
		assert.NotEmpty(t, <-done)
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := map[string]bool{
		"":                   false,
		"gzip":               true,
		"GZIP":               true,
		"deflate, gzip":      true,
		"gzip;q=0":           false,
		"gzip; q=0.0":        false,
		"gzip;q=0.8":         true,
		"x-gzip":             false,
		"identity, br;q=0.9": false,
	}
	for header, want := range tests {
		assert.Equal(t, want, acceptsGzip(header), header)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/assessments/x/status", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "http", entry["msg"])
	assert.Equal(t, "/api/assessments/x/status", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
}

func TestLogging_ExposesFlusher(t *testing.T) {
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "x")
		assert.NoError(t, http.NewResponseController(w).Flush())
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/report-status/x", nil))

	assert.True(t, rec.Flushed)
}

func TestRecover(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/assessments", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeInternal, body["code"])
	assert.NotContains(t, body["error"], "boom")
}
