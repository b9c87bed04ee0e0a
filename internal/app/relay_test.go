package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	return NewRelay(NewPresence(), NewCallTable(0), NewRateLimiter(100, time.Minute))
}

func TestRelayRejectsSpoofedSender(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b", &fakeConn{})

	_, _, err := r.Offer("conn-a", "mallory", "bob")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, _, err = r.Offer("conn-unknown", "alice", "bob")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRelayOfferToOfflineUser(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})

	_, _, err := r.Offer("conn-a", "alice", "carol")
	assert.ErrorIs(t, err, ErrRecipientOffline)
	assert.Equal(t, 0, r.Calls.Active(), "no session is left behind")
}

func TestRelayOfferResolvesAllCalleeConnections(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b1", &fakeConn{})
	r.Presence.Register("bob", "conn-b2", &fakeConn{})

	call, targets, err := r.Offer("conn-a", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), call.Callee)
	assert.Len(t, targets, 2, "multi-device callee rings everywhere")
}

func TestRelayAnswerReturnsQueuedCandidates(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b", &fakeConn{})

	_, _, err := r.Offer("conn-a", "alice", "bob")
	require.NoError(t, err)

	// Early callee candidates queue instead of racing the answer.
	targets, err := r.Candidate("conn-b", "bob", "alice", core.Frame("c1"))
	require.NoError(t, err)
	assert.Nil(t, targets)

	targets, pending, err := r.Answer("conn-b", "bob", "alice")
	require.NoError(t, err)
	assert.Len(t, targets, 1)
	assert.Equal(t, []core.Frame{core.Frame("c1")}, pending)
}

func TestRelayHangupResolvesPeerConns(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b1", &fakeConn{})
	r.Presence.Register("bob", "conn-b2", &fakeConn{})

	_, _, err := r.Offer("conn-a", "alice", "bob")
	require.NoError(t, err)

	targets, err := r.Hangup("conn-a", "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
	assert.Equal(t, 0, r.Calls.Active())

	// Hangup with no session still resolves the peer; idempotent end.
	targets, err = r.Hangup("conn-a", "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

func TestRelayDisconnectEndsBoundCalls(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b", &fakeConn{})

	_, _, err := r.Offer("conn-a", "alice", "bob")
	require.NoError(t, err)

	uid, last, ended, ok := r.Disconnect("conn-a")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), uid)
	assert.True(t, last)
	require.Len(t, ended, 1)
	assert.Equal(t, domain.UserID("bob"), ended[0].PeerOf("alice"))

	_, _, _, ok = r.Disconnect("conn-a")
	assert.False(t, ok, "second disconnect is a no-op")
}

func TestRelayDisconnectOfSecondaryDeviceKeepsUserCalls(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a1", &fakeConn{})
	r.Presence.Register("alice", "conn-a2", &fakeConn{})
	r.Presence.Register("bob", "conn-b", &fakeConn{})

	_, _, err := r.Offer("conn-a1", "alice", "bob")
	require.NoError(t, err)

	// The idle tab closing does not kill the call.
	_, last, ended, ok := r.Disconnect("conn-a2")
	require.True(t, ok)
	assert.False(t, last)
	assert.Empty(t, ended)
	assert.Equal(t, 1, r.Calls.Active())

	// The tab that placed the call closing does.
	_, _, ended, ok = r.Disconnect("conn-a1")
	require.True(t, ok)
	assert.Len(t, ended, 1)
	assert.Equal(t, 0, r.Calls.Active())
}

func TestRelayOfferRateLimited(t *testing.T) {
	r := NewRelay(NewPresence(), NewCallTable(0), NewRateLimiter(1, time.Minute))
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b", &fakeConn{})

	_, _, err := r.Offer("conn-a", "alice", "bob")
	require.NoError(t, err)
	_, err2 := r.Hangup("conn-a", "alice", "bob")
	require.NoError(t, err2)

	_, _, err = r.Offer("conn-a", "alice", "bob")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRelayCandidatePassesAfterAnswer(t *testing.T) {
	r := newTestRelay(t)
	r.Presence.Register("alice", "conn-a", &fakeConn{})
	r.Presence.Register("bob", "conn-b", &fakeConn{})

	_, _, err := r.Offer("conn-a", "alice", "bob")
	require.NoError(t, err)
	_, _, err = r.Answer("conn-b", "bob", "alice")
	require.NoError(t, err)

	targets, err := r.Candidate("conn-b", "bob", "alice", core.Frame("c"))
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}
