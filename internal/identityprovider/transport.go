package identityprovider

import (
	"net/http"
	"net/http/httputil"

	"github.com/nkiryanov/credentialmanager/internal/logger"
)

// debugTransport dumps provider requests and responses with bodies to debug log
type debugTransport struct {
	next   http.RoundTripper
	logger logger.Logger
}

func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(req, true); err == nil {
		t.logger.Debug("Provider request", "method", req.Method, "url", req.URL.Redacted(), "dump", string(dump))
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.Debug("Provider request failed", "url", req.URL.Redacted(), "error", err)
		return nil, err
	}

	if dump, err := httputil.DumpResponse(resp, true); err == nil {
		t.logger.Debug("Provider response", "url", req.URL.Redacted(), "status", resp.StatusCode, "dump", string(dump))
	}

	return resp, nil
}
