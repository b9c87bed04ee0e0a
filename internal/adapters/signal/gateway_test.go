package signal

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhub/signaling/internal/app"
	"github.com/mentorhub/signaling/internal/config"
	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

// The gateway tests drive dispatch directly with wire-format JSON, the
// same bytes a browser client would send, and read the outbound frames
// off the connection's send channel.

func newTestGateway() *Gateway {
	cfg := &config.Config{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		TypingTTL:  4 * time.Second,
	}
	presence := app.NewPresence()
	calls := app.NewCallTable(0)
	relay := app.NewRelay(presence, calls, app.NewRateLimiter(100, time.Minute))
	rooms := app.NewRooms(cfg.TypingTTL)
	gw := NewGateway(cfg, relay, rooms, nil)
	calls.SetOnExpire(gw.OnOfferExpired)
	rooms.SetOnTypingExpire(gw.OnTypingExpired)
	return gw
}

func newTestConn(uid domain.UserID, name string) *wsConn {
	return &wsConn{
		id:   core.ConnID("conn-" + string(uid) + "-" + name),
		send: make(chan core.Frame, 32),
		uid:  uid,
		name: name,
	}
}

// drain decodes every frame currently buffered for the connection.
func drain(t *testing.T, c *wsConn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case f := <-c.send:
			var m map[string]any
			require.NoError(t, json.Unmarshal(f, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofKind(frames []map[string]any, kind string) []map[string]any {
	var out []map[string]any
	for _, f := range frames {
		if f["type"] == kind {
			out = append(out, f)
		}
	}
	return out
}

func goOnline(gw *Gateway, c *wsConn) {
	gw.dispatch(c, []byte(fmt.Sprintf(`{"type":"user-online","userId":%q}`, c.uid)))
}

func TestOnlineBroadcastAndSpoofRejection(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")

	goOnline(gw, a)
	goOnline(gw, b)

	// Bob coming online re-broadcasts the list to everyone.
	frames := drain(t, a)
	lists := ofKind(frames, "online-users")
	require.NotEmpty(t, lists)
	last := lists[len(lists)-1]
	assert.ElementsMatch(t, []any{"alice", "bob"}, last["users"])

	// Claiming someone else's id at announcement time is refused.
	m := newTestConn("mallory", "Mallory")
	gw.dispatch(m, []byte(`{"type":"user-online","userId":"alice"}`))
	frames = drain(t, m)
	require.Len(t, ofKind(frames, "error"), 1)
	assert.Empty(t, ofKind(frames, "online-users"))
}

func TestOfferDeliveredExactlyOnce(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)
	drain(t, a)
	drain(t, b)

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))

	offers := ofKind(drain(t, b), "call-offer")
	require.Len(t, offers, 1)
	assert.Equal(t, "alice", offers[0]["fromUserId"])
	offer, ok := offers[0]["offer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v=0", offer["sdp"])
}

func TestOfferToOfflineUser(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	goOnline(gw, a)
	drain(t, a)

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"carol","offer":{"type":"offer","sdp":"v=0"}}`))

	frames := drain(t, a)
	unavailable := ofKind(frames, "call-unavailable")
	require.Len(t, unavailable, 1)
	assert.Equal(t, "offline", unavailable[0]["reason"])
	assert.Equal(t, "carol", unavailable[0]["toUserId"])
}

func TestBusyCalleeRejectsSecondCaller(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	c := newTestConn("carol", "Carol")
	for _, cn := range []*wsConn{a, b, c} {
		goOnline(gw, cn)
	}

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))
	drain(t, b)
	gw.dispatch(c, []byte(`{"type":"call-offer","fromUserId":"carol","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))

	busy := ofKind(drain(t, c), "call-busy")
	require.Len(t, busy, 1)
	assert.Equal(t, "bob", busy[0]["toUserId"])
	assert.Empty(t, ofKind(drain(t, b), "call-offer"), "busy callee never rings twice")
}

func TestDuplicateAnswerForwardedOnce(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))
	drain(t, a)
	drain(t, b)

	answer := []byte(`{"type":"call-answer","fromUserId":"bob","toUserId":"alice","answer":{"type":"answer","sdp":"v=0"}}`)
	gw.dispatch(b, answer)
	gw.dispatch(b, answer)

	answers := ofKind(drain(t, a), "call-answer")
	assert.Len(t, answers, 1, "the duplicate answer is silently dropped")
}

func TestEarlyCandidatesFollowAnswerInOrder(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))
	drain(t, a)
	drain(t, b)

	// Candidates from the callee before the answer: the caller must not
	// see them yet.
	for _, c := range []string{"cand-A", "cand-B", "cand-C"} {
		gw.dispatch(b, []byte(fmt.Sprintf(`{"type":"ice-candidate","fromUserId":"bob","toUserId":"alice","candidate":{"candidate":%q}}`, c)))
	}
	assert.Empty(t, drain(t, a))

	gw.dispatch(b, []byte(`{"type":"call-answer","fromUserId":"bob","toUserId":"alice","answer":{"type":"answer","sdp":"v=0"}}`))

	frames := drain(t, a)
	require.Len(t, frames, 4)
	assert.Equal(t, "call-answer", frames[0]["type"])
	for i, want := range []string{"cand-A", "cand-B", "cand-C"} {
		require.Equal(t, "ice-candidate", frames[i+1]["type"])
		cand := frames[i+1]["candidate"].(map[string]any)
		assert.Equal(t, want, cand["candidate"])
	}
}

func TestMessageFanoutAndUnread(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)

	// Scenario: both joined, live delivery and no unread marker.
	gw.dispatch(a, []byte(`{"type":"join-room","conversationId":"conv-1"}`))
	gw.dispatch(b, []byte(`{"type":"join-room","conversationId":"conv-1"}`))
	drain(t, a)
	drain(t, b)

	gw.dispatch(b, []byte(`{"type":"send-message","conversationId":"conv-1","toUserId":"alice","senderId":"bob","text":"hi"}`))
	frames := drain(t, a)
	msgs := ofKind(frames, "message")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0]["text"])
	assert.Empty(t, ofKind(frames, "unread-notice"))

	// Scenario: alice looks at another conversation; unread instead.
	gw.dispatch(a, []byte(`{"type":"join-room","conversationId":"conv-2"}`))
	drain(t, a)
	gw.dispatch(b, []byte(`{"type":"send-message","conversationId":"conv-1","toUserId":"alice","senderId":"bob","text":"psst"}`))

	frames = drain(t, a)
	assert.Empty(t, ofKind(frames, "message"))
	notices := ofKind(frames, "unread-notice")
	require.Len(t, notices, 1)
	assert.Equal(t, "conv-1", notices[0]["conversationId"])
	assert.Equal(t, "bob", notices[0]["senderId"])
	assert.Equal(t, true, notices[0]["hasNew"])
}

func TestUnreadReplayedOnReconnect(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)
	gw.dispatch(a, []byte(`{"type":"join-room","conversationId":"conv-other"}`))
	drain(t, a)

	gw.dispatch(b, []byte(`{"type":"send-message","conversationId":"conv-1","toUserId":"alice","senderId":"bob","text":"one"}`))
	drain(t, a)

	// A second tab announces itself and catches up on the marker.
	a2 := newTestConn("alice", "Alice2")
	goOnline(gw, a2)
	notices := ofKind(drain(t, a2), "unread-notice")
	require.Len(t, notices, 1)
	assert.Equal(t, "conv-1", notices[0]["conversationId"])
}

func TestSpoofedMessageSenderRejected(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)
	gw.dispatch(b, []byte(`{"type":"join-room","conversationId":"conv-1"}`))
	drain(t, b)

	gw.dispatch(a, []byte(`{"type":"send-message","conversationId":"conv-1","toUserId":"bob","senderId":"bob","text":"fake"}`))
	assert.Empty(t, ofKind(drain(t, b), "message"))
	require.Len(t, ofKind(drain(t, a), "error"), 1)
}

func TestTypingBroadcast(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)
	gw.dispatch(a, []byte(`{"type":"join-room","conversationId":"conv-1"}`))
	gw.dispatch(b, []byte(`{"type":"join-room","conversationId":"conv-1"}`))
	drain(t, a)
	drain(t, b)

	gw.dispatch(a, []byte(`{"type":"typing","conversationId":"conv-1"}`))
	typings := ofKind(drain(t, b), "typing")
	require.Len(t, typings, 1)
	assert.Equal(t, "alice", typings[0]["userId"])
	assert.Empty(t, ofKind(drain(t, a), "typing"), "the typist does not hear themselves")

	gw.dispatch(a, []byte(`{"type":"stop-typing","conversationId":"conv-1"}`))
	stops := ofKind(drain(t, b), "stop-typing")
	require.Len(t, stops, 1)

	// A second stop has nothing left to clear.
	gw.dispatch(a, []byte(`{"type":"stop-typing","conversationId":"conv-1"}`))
	assert.Empty(t, ofKind(drain(t, b), "stop-typing"))
}

func TestDisconnectMidCallNotifiesPeer(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))
	gw.dispatch(b, []byte(`{"type":"call-answer","fromUserId":"bob","toUserId":"alice","answer":{"type":"answer","sdp":"v=0"}}`))
	drain(t, a)
	drain(t, b)

	gw.cleanup(a)

	frames := drain(t, b)
	ends := ofKind(frames, "call-end")
	require.Len(t, ends, 1)
	assert.Equal(t, "alice", ends[0]["fromUserId"])
	assert.Equal(t, "disconnect", ends[0]["reason"])

	lists := ofKind(frames, "online-users")
	require.NotEmpty(t, lists)
	assert.ElementsMatch(t, []any{"bob"}, lists[len(lists)-1]["users"])
}

func TestHangupEndsForBothDirections(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	b := newTestConn("bob", "Bob")
	goOnline(gw, a)
	goOnline(gw, b)

	gw.dispatch(a, []byte(`{"type":"call-offer","fromUserId":"alice","toUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`))
	drain(t, b)

	// Callee declines: call-end from the callee while still offered.
	gw.dispatch(b, []byte(`{"type":"call-end","fromUserId":"bob","toUserId":"alice"}`))
	ends := ofKind(drain(t, a), "call-end")
	require.Len(t, ends, 1)
	assert.Equal(t, "bob", ends[0]["fromUserId"])
	assert.Equal(t, 0, gw.relay.Calls.Active())
}

func TestUnknownKindIgnored(t *testing.T) {
	gw := newTestGateway()
	a := newTestConn("alice", "Alice")
	goOnline(gw, a)
	drain(t, a)

	gw.dispatch(a, []byte(`{"type":"launch-missiles"}`))
	gw.dispatch(a, []byte(`not json at all`))
	assert.Empty(t, drain(t, a))
}
