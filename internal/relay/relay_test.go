package relay_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"ciphermesh/internal/keystore"
	"ciphermesh/internal/metrics"
	"ciphermesh/internal/relay"
)

func newRelay(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := relay.NewServer(relay.WithServerMetrics(metrics.New(reg), reg))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func TestRelay_BundleHandsOutEachOneTimeKeyOnce(t *testing.T) {
	ctx := context.Background()
	ts, _ := newRelay(t)

	bob, err := keystore.Generate("bob", 2)
	require.NoError(t, err)
	up, err := bob.DirectoryBundle(2)
	require.NoError(t, err)
	require.NoError(t, relay.NewClient(ts.URL, "bob").PublishBundle(ctx, up))

	alice := relay.NewClient(ts.URL, "alice")
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		b, err := alice.FetchBundle(ctx, "bob")
		require.NoError(t, err)
		require.NotNil(t, b.OneTimePreKey)
		require.False(t, seen[b.OneTimePreKey.ID.String()])
		seen[b.OneTimePreKey.ID.String()] = true
		require.Equal(t, up.SignedPreKey, b.SignedPreKey)
	}

	b, err := alice.FetchBundle(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, b.OneTimePreKey)
	require.Equal(t, up.IdentityKey, b.IdentityKey)

	_, err = alice.FetchBundle(ctx, "nobody")
	require.Error(t, err)
}

func TestRelay_MailboxDeliverFetchAck(t *testing.T) {
	ctx := context.Background()
	ts, _ := newRelay(t)
	alice := relay.NewClient(ts.URL, "alice")
	bob := relay.NewClient(ts.URL, "bob")

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, alice.Deliver(ctx, "bob", []byte(m)))
	}

	got, err := bob.FetchMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "one", string(got[0].Data))
	require.Equal(t, "alice", got[0].From.String())
	require.NotEmpty(t, got[0].ID)
	require.NotEqual(t, got[0].ID, got[1].ID)

	require.NoError(t, bob.AckMessages(ctx, 2))
	got, err = bob.FetchMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "three", string(got[0].Data))

	require.NoError(t, bob.AckMessages(ctx, 10))
	got, err = bob.FetchMessages(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRelay_RejectsBadInput(t *testing.T) {
	ts, _ := newRelay(t)

	resp, err := http.Post(ts.URL+"/v1/bundles", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Error(t, relay.NewClient(ts.URL, "alice").Deliver(context.Background(), "bob", nil))

	resp, err = http.Get(ts.URL + "/v1/messages/bob?limit=-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelay_ServesMetrics(t *testing.T) {
	ts, _ := newRelay(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "ciphermesh_relay_http_requests_total")
}

func TestRelay_RateLimitByIP(t *testing.T) {
	ts := httptest.NewServer(relay.NewServer(relay.WithRateLimit(2, time.Minute)).Handler())
	t.Cleanup(ts.Close)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
