package transport

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient(Config{})
	assert.Equal(t, DefaultTimeout, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}

func TestNewHTTPClientTimeout(t *testing.T) {
	c := NewHTTPClient(Config{Timeout: 5 * time.Second})
	assert.Equal(t, 5*time.Second, c.Timeout)
}

func TestInsecureClientAcceptsSelfSignedServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Config{}).Get(srv.URL)
	assert.Error(t, err, "strict client must reject the test certificate")

	resp, err := NewHTTPClient(Config{InsecureSkipVerify: true}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
