package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logRecord struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	records []logRecord
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.records = append(l.records, logRecord{"info", msg, args})
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.records = append(l.records, logRecord{"warn", msg, args})
}

func TestLoggerMiddleware(t *testing.T) {
	serve := func(t *testing.T, status int, requestID string) (*recordingLogger, *http.Response, string) {
		t.Helper()

		l := &recordingLogger{}
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err, "should write response")
		})
		srv := httptest.NewServer(LoggerMiddleware(l)(h))
		t.Cleanup(srv.Close)

		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/api/oauth2/callback?code=secret-code&state=signed", nil)
		require.NoError(t, err)
		if requestID != "" {
			req.Header.Set(RequestIDHeader, requestID)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		defer resp.Body.Close() // nolint:errcheck
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")

		return l, resp, string(body)
	}

	t.Run("success logged with info", func(t *testing.T) {
		l, resp, body := serve(t, http.StatusTeapot, "")

		require.Equal(t, http.StatusTeapot, resp.StatusCode)
		require.Equal(t, "hi", body)
		require.Len(t, l.records, 1, "logger should be called once")

		rec := l.records[0]
		assert.Equal(t, "info", rec.level)
		assert.Equal(t, "got HTTP request", rec.msg)
		require.Len(t, rec.args, 12)
		assert.Equal(t, "request_id", rec.args[0])
		assert.Equal(t, resp.Header.Get(RequestIDHeader), rec.args[1], "generated request id should be sent back")
		assert.NotEmpty(t, rec.args[1])
		assert.Equal(t, []any{"method", "GET", "path", "/api/oauth2/callback"}, rec.args[2:6], "query must not be logged")
		assert.Equal(t, "duration", rec.args[6])
		assert.Equal(t, []any{"status", http.StatusTeapot, "size", 2}, rec.args[8:])
	})

	t.Run("server error logged with warn", func(t *testing.T) {
		l, resp, _ := serve(t, http.StatusBadGateway, "req-42")

		assert.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))
		require.Len(t, l.records, 1)
		assert.Equal(t, "warn", l.records[0].level)
		assert.Equal(t, "HTTP request failed", l.records[0].msg)
		assert.Equal(t, "req-42", l.records[0].args[1])
	})
}
