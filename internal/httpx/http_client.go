package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

// ExternalHTTPClient is shared by all outbound API calls except the ones with
// their own fixed bound (Slack webhook: 10s, metadata token fetch: 5s).
var ExternalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ConfigureExternalHTTPClient applies the configured timeout and returns the
// value actually in effect.
func ConfigureExternalHTTPClient(seconds int) time.Duration {
	if seconds > 0 {
		ExternalHTTPClient.Timeout = time.Duration(seconds) * time.Second
	}
	return ExternalHTTPClient.Timeout
}
