package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"payment-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(time.Second, 3, zerolog.Nop())
	resp, err := c.PostJSON(context.Background(), "vnpay", srv.URL, nil, map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"rejected"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(time.Second, 3, zerolog.Nop())
	resp, err := c.PostJSON(context.Background(), "vnpay", srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UnavailableAfterExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2, zerolog.Nop())
	_, err := c.PostJSON(context.Background(), "vnpay", srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load()) // First attempt plus two retries
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "GW_001", appErr.Code)
	assert.True(t, appErr.Retryable)
}

func TestClient_ContextCancelStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(time.Second, 5, zerolog.Nop())
	start := time.Now()
	_, err := c.PostJSON(ctx, "vnpay", srv.URL, nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sig-value", r.Header.Get("X-Signature"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(time.Second, 0, zerolog.Nop())
	_, err := c.PostJSON(context.Background(), "vnpay", srv.URL, map[string]string{"X-Signature": "sig-value"}, nil)
	require.NoError(t, err)
}
