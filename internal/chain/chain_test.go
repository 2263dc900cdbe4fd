package chain_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpulse/internal/chain"
	"linkpulse/internal/errs"
	"linkpulse/internal/testsupport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *chain.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return chain.NewClient(server.URL, 2*time.Second, testsupport.Logger())
}

func TestGetProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/P1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"viewCount": 42, "verified": true, "owner": "0xabc", "walrusSiteId": "w1", "links": [{"title": "Blog", "url": "https://example.com"}]}`))
	})

	profile, err := client.GetProfile(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", profile.ID)
	assert.EqualValues(t, 42, profile.ViewCount)
	assert.True(t, profile.Verified)
	require.Len(t, profile.Links, 1)
	assert.Equal(t, "Blog", profile.Links[0].Title)
}

func TestProfileExists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/profiles/known" {
			w.Write([]byte(`{"id": "known"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	exists, err := client.ProfileExists(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.ProfileExists(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProfileExistsMemoized(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"id": "hot"}`))
	})

	for i := 0; i < 5; i++ {
		exists, err := client.ProfileExists(context.Background(), "hot")
		require.NoError(t, err)
		assert.True(t, exists)
	}
	assert.Equal(t, 1, calls)
}

func TestUpstreamFailureIsUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.ProfileExists(context.Background(), "P1")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnavailable), "a 5xx is unknown, not not-exists")

	_, err = client.GetProfile(context.Background(), "P1")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnavailable))
}

func TestUnconfiguredAdapter(t *testing.T) {
	adapter := chain.Unconfigured{}

	exists, err := adapter.ProfileExists(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = adapter.GetProfile(context.Background(), "anything")
	assert.True(t, errs.IsKind(err, errs.KindUnavailable))
}
