package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewHTTPCollector(srv.URL+"/", "", 0, time.Second)
	require.NoError(t, err)
	metrics, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics["up"])
	assert.Equal(t, 200.0, metrics["status_code"])

	c, err = NewHTTPCollector(srv.URL+"/broken", http.MethodHead, 0, time.Second)
	require.NoError(t, err)
	metrics, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, metrics["up"])
	assert.Equal(t, 502.0, metrics["status_code"])

	c, err = NewHTTPCollector(srv.URL+"/broken", "", http.StatusBadGateway, time.Second)
	require.NoError(t, err)
	metrics, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics["up"], "expected status overrides the 2xx rule")
}

func TestHTTPCollector_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPCollector(url, "", 0, time.Second)
	require.NoError(t, err)
	metrics, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"up": 0}, metrics)
}
