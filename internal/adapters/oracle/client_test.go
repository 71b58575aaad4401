package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/domain"
)

func TestClientGetValuation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/assets/patent-7/valuation":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"asset_id":"patent-7","value":"180000.00","as_of":"2024-03-01T10:00:00Z"}`))
		case "/v1/assets/garbled/valuation":
			_, _ = w.Write([]byte(`{"value":`))
		default:
			http.Error(w, "unknown asset", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "k1"})
	require.NoError(t, err)

	v, err := c.GetValuation(context.Background(), "patent-7")
	require.NoError(t, err)
	assert.Equal(t, domain.Major(180000), v.Value)
	assert.True(t, v.AsOf.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	_, err = c.GetValuation(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)

	_, err = c.GetValuation(context.Background(), "garbled")
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestClientHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetValuation(ctx, "slow")
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}
