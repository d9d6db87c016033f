package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewClient verifies the client carries the timeout and logging transport.
func TestNewClient(t *testing.T) {
	client := NewClient(5 * time.Second)

	require.NotNil(t, client)
	assert.Equal(t, 5*time.Second, client.Timeout)
	assert.IsType(t, &LoggingRoundTripper{}, client.Transport)
}

// TestLoggingRoundTripper verifies requests pass through to the origin.
func TestLoggingRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(2 * time.Second)
	resp, err := client.Get(srv.URL)

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
