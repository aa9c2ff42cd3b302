package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getHealth(t *testing.T, s *Server) (int, Health) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestServerHealth(t *testing.T) {
	t.Run("no check", func(t *testing.T) {
		code, resp := getHealth(t, NewServer(0, nil))
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, resp.Healthy())
		assert.Equal(t, "dittomft", resp.Service)
		assert.False(t, resp.StartedAt.IsZero())
	})

	t.Run("failing check", func(t *testing.T) {
		s := NewServer(0, func(context.Context) error { return errors.New("store closed") })
		code, resp := getHealth(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.False(t, resp.Healthy())
		assert.Equal(t, "store closed", resp.Error)
	})
}

func TestServerServeStopsOnCancel(t *testing.T) {
	s := NewServer(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
