package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpulse/internal/analytics"
	"linkpulse/internal/chain"
	"linkpulse/internal/errs"
	"linkpulse/internal/testsupport"
	"linkpulse/internal/tracking"
)

// stubAdapter scripts the chain responses per profile.
type stubAdapter struct {
	exists map[string]bool
	err    error
}

func (s *stubAdapter) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.exists[profileID], nil
}

func (s *stubAdapter) GetProfile(ctx context.Context, profileID string) (*chain.Profile, error) {
	return nil, errs.Unavailable("not implemented", nil)
}

func newTestHub(t *testing.T, adapter chain.Adapter) *Hub {
	t.Helper()
	dm := testsupport.SetupTestDB(t)
	service := analytics.NewService(dm, nil, testsupport.Logger(), time.Hour)
	if adapter == nil {
		adapter = chain.Unconfigured{}
	}
	return NewHub(service, adapter, testsupport.Logger(), 30*time.Second)
}

func receive(t *testing.T, sub *Subscriber) Envelope {
	t.Helper()
	select {
	case msg := <-sub.Outbound():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Envelope{}
	}
}

func TestPublishReachesSubscribedProfileOnly(t *testing.T) {
	hub := newTestHub(t, nil)

	subscribed := NewSubscriber()
	bystander := NewSubscriber()
	hub.Register(subscribed)
	hub.Register(bystander)
	hub.Subscribe(subscribed, "P1")
	hub.Subscribe(bystander, "P2")

	hub.PublishView("P1", map[string]interface{}{"viewId": uint(1)})

	msg := receive(t, subscribed)
	assert.Equal(t, MsgNewView, msg.Type)
	assert.Equal(t, "P1", msg.ProfileID)

	select {
	case unexpected := <-bystander.Outbound():
		t.Fatalf("bystander received %v", unexpected)
	default:
	}
}

func TestPublishClickEnvelope(t *testing.T) {
	hub := newTestHub(t, nil)

	sub := NewSubscriber()
	hub.Register(sub)
	hub.Subscribe(sub, "P1")

	hub.PublishClick("P1", map[string]interface{}{"clickId": uint(9), "linkIndex": 2})

	msg := receive(t, sub)
	assert.Equal(t, MsgNewClick, msg.Type)
	assert.NotZero(t, msg.Timestamp)
}

func TestBackpressureDropsNewestAndFlags(t *testing.T) {
	hub := newTestHub(t, nil)

	sub := NewSubscriber()
	hub.Register(sub)
	hub.Subscribe(sub, "P1")

	// Fill the queue without draining, then overflow it.
	for i := 0; i < subscriberBuffer; i++ {
		hub.PublishView("P1", nil)
	}
	hub.PublishView("P1", nil)

	select {
	case <-sub.Closed():
	default:
		t.Fatal("overflowing subscriber was not flagged for disconnect")
	}
	assert.Len(t, sub.send, subscriberBuffer, "the overflowing message is dropped, not queued")
}

func TestUnregisterDetachesEverywhere(t *testing.T) {
	hub := newTestHub(t, nil)

	sub := NewSubscriber()
	hub.Register(sub)
	hub.Subscribe(sub, "P1")
	hub.Subscribe(sub, "P2")
	assert.Equal(t, 1, hub.ConnectionCount())

	hub.Unregister(sub)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Empty(t, hub.subscribedProfiles())

	hub.PublishView("P1", nil)
	select {
	case msg := <-sub.Outbound():
		t.Fatalf("unregistered subscriber received %v", msg)
	default:
	}
}

func TestSubscribeSendsInitialSnapshot(t *testing.T) {
	hub := newTestHub(t, &stubAdapter{exists: map[string]bool{"P1": true}})

	sub := NewSubscriber()
	hub.Register(sub)
	hub.handleSubscribe(sub, "P1")

	msg := receive(t, sub)
	assert.Equal(t, MsgRealtime, msg.Type)
	assert.Equal(t, "P1", msg.ProfileID)
	require.IsType(t, &analytics.RealTimeStats{}, msg.Data)

	// The subscription is live: a subsequent publish arrives next.
	hub.PublishView("P1", map[string]interface{}{"viewId": uint(7)})
	next := receive(t, sub)
	assert.Equal(t, MsgNewView, next.Type)
}

func TestSubscribeUnknownProfile(t *testing.T) {
	hub := newTestHub(t, &stubAdapter{exists: map[string]bool{}})

	sub := NewSubscriber()
	hub.Register(sub)
	hub.handleSubscribe(sub, "ghost")

	msg := receive(t, sub)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeProfileNotFound, msg.Code)
	assert.Empty(t, hub.subscribedProfiles(), "failed subscribe leaves the map untouched")
}

func TestSubscribeChainFailure(t *testing.T) {
	hub := newTestHub(t, &stubAdapter{err: errs.Unavailable("chain down", nil)})

	sub := NewSubscriber()
	hub.Register(sub)
	hub.handleSubscribe(sub, "P1")

	msg := receive(t, sub)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeSubscriptionError, msg.Code, "transport failure is unknown, not not-found")
}

func TestHeartbeatCountsConnections(t *testing.T) {
	hub := newTestHub(t, nil)

	first := NewSubscriber()
	second := NewSubscriber()
	hub.Register(first)
	hub.Register(second)

	hub.heartbeat()

	msg := receive(t, first)
	assert.Equal(t, MsgHeartbeat, msg.Type)
	assert.Equal(t, 2, msg.Connections)
}

var _ tracking.Publisher = (*Hub)(nil)
