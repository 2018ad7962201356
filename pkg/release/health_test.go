package release

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPHealthCheckRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	check := HTTPHealthCheck{URL: srv.URL, Attempts: 5, Interval: time.Millisecond}
	assert.NoError(t, check.Check(context.Background()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPHealthCheckGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	check := HTTPHealthCheck{URL: srv.URL, Attempts: 2, Interval: time.Millisecond}
	err := check.Check(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPHealthCheckWithoutURL(t *testing.T) {
	assert.Error(t, HTTPHealthCheck{}.Check(context.Background()))
}

func TestAllowedTransitions(t *testing.T) {
	assert.True(t, allowed(PhaseIdle, PhaseBackingUp))
	assert.True(t, allowed(PhaseIdle, PhaseRollingBack))
	assert.True(t, allowed(PhaseHealthChecking, PhaseRollingBack))
	assert.False(t, allowed(PhaseHealthy, PhaseRollingBack))
	assert.False(t, allowed(PhaseBackingUp, PhaseHealthy))

	for from, tos := range transitions {
		assert.False(t, from.Terminal(), "terminal phases have no successors: %s", from)
		assert.NotEmpty(t, tos)
	}
}
