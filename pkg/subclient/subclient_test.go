package subclient_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
	"github.com/dmitrymomot/membergate/pkg/subclient"
)

type sleepRecorder struct {
	slept []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.slept = append(r.slept, d)
}

func newClient(t *testing.T, baseURL string, rec *sleepRecorder) *subclient.Client {
	t.Helper()
	return subclient.New(baseURL,
		subclient.WithSleep(rec.sleep),
		subclient.WithLogger(slog.New(slog.DiscardHandler)),
	)
}

func TestFetch_Anonymous(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	client := newClient(t, srv.URL, rec)

	res := client.Fetch(context.Background(), "")
	assert.Equal(t, entitlement.Anonymous(), res.Subscription)
	assert.Empty(t, res.Warning)
	assert.Equal(t, int32(0), calls.Load(), "anonymous fetch must not hit the network")
	assert.True(t, entitlement.HasAccess(res.Subscription, entitlement.TierFree))
	assert.False(t, entitlement.HasAccess(res.Subscription, entitlement.TierPro))
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscription/status", r.URL.Path)
		assert.Equal(t, "Bearer tok_1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tier":"PRO","status":"ACTIVE","currentPeriodEnd":"2025-07-01T00:00:00Z"}`))
	}))
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	client := newClient(t, srv.URL, rec)

	res := client.Fetch(context.Background(), "tok_1")
	assert.Empty(t, res.Warning)
	assert.Empty(t, rec.slept)
	assert.Equal(t, entitlement.TierPro, res.Subscription.Tier)
	assert.Equal(t, entitlement.StatusActive, res.Subscription.Status)
	require.NotNil(t, res.CurrentPeriodEnd)
	assert.Equal(t, 2025, res.CurrentPeriodEnd.Year())
}

func TestFetch_LegacyTierNormalized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tier":"TEAM","status":"ACTIVE"}`))
	}))
	t.Cleanup(srv.Close)

	client := newClient(t, srv.URL, &sleepRecorder{})

	res := client.Fetch(context.Background(), "tok_1")
	assert.Equal(t, entitlement.TierPro, res.Subscription.Tier)
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"tier":"PRO","status":"ACTIVE"}`))
	}))
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	client := newClient(t, srv.URL, rec)

	res := client.Fetch(context.Background(), "tok_1")
	assert.Empty(t, res.Warning)
	assert.Equal(t, entitlement.TierPro, res.Subscription.Tier)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.slept)
}

func TestFetch_ExhaustionFallsBackToFree(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	client := newClient(t, srv.URL, rec)

	res := client.Fetch(context.Background(), "tok_1")
	assert.Equal(t, entitlement.Anonymous(), res.Subscription)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.slept)

	// Free content stays reachable through the outage.
	assert.True(t, entitlement.HasAccess(res.Subscription, entitlement.TierFree))
}

func TestFetch_MalformedBodyFallsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	t.Cleanup(srv.Close)

	client := newClient(t, srv.URL, &sleepRecorder{})

	res := client.Fetch(context.Background(), "tok_1")
	assert.Equal(t, entitlement.Anonymous(), res.Subscription)
	assert.NotEmpty(t, res.Warning)
}

func TestNew_PanicsOnEmptyBaseURL(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { subclient.New("") })
}
