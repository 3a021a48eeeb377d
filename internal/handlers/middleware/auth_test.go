package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminTokenMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("ok"))
		require.NoError(t, err, "should write response")
	})

	get := func(t *testing.T, url string, authorization string) (int, string) {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
		require.NoError(t, err)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		return resp.StatusCode, string(body)
	}

	t.Run("token ok", func(t *testing.T) {
		srv := httptest.NewServer(AdminTokenMiddleware("secret")(handler))
		defer srv.Close()

		code, body := get(t, srv.URL+"/test", "Bearer secret")

		require.Equalf(t, http.StatusOK, code, "should return status OK. Resp: %s", body)
		require.Equal(t, "ok", body)
	})

	t.Run("token fail", func(t *testing.T) {
		srv := httptest.NewServer(AdminTokenMiddleware("secret")(handler))
		defer srv.Close()

		tests := []struct {
			name          string
			authorization string
		}{
			{name: "no header", authorization: ""},
			{name: "wrong token", authorization: "Bearer wrong"},
			{name: "wrong scheme", authorization: "Basic c2VjcmV0"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				code, body := get(t, srv.URL+"/test", tc.authorization)

				require.Equal(t, http.StatusUnauthorized, code)
				require.JSONEq(t, `{"error": "service_error", "message": "Unauthorized"}`, body)
			})
		}
	})

	t.Run("query token", func(t *testing.T) {
		srv := httptest.NewServer(AdminTokenMiddleware("secret", WithQueryToken("admin_token"))(handler))
		defer srv.Close()

		code, body := get(t, srv.URL+"/test?admin_token=secret", "")
		require.Equalf(t, http.StatusOK, code, "should return status OK. Resp: %s", body)

		code, _ = get(t, srv.URL+"/test?admin_token=wrong", "")
		require.Equal(t, http.StatusUnauthorized, code)

		code, _ = get(t, srv.URL+"/test", "")
		require.Equal(t, http.StatusUnauthorized, code)

		code, _ = get(t, srv.URL+"/test?admin_token=secret", "Bearer wrong")
		require.Equal(t, http.StatusUnauthorized, code, "header takes precedence over query")
	})

	t.Run("query token not allowed by default", func(t *testing.T) {
		srv := httptest.NewServer(AdminTokenMiddleware("secret")(handler))
		defer srv.Close()

		code, _ := get(t, srv.URL+"/test?admin_token=secret", "")
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("disabled", func(t *testing.T) {
		srv := httptest.NewServer(AdminTokenMiddleware("")(handler))
		defer srv.Close()

		code, body := get(t, srv.URL+"/test", "")

		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "ok", body)
	})
}
