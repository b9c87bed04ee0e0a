package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/domain"
	"github.com/mentorhub/signaling/internal/metrics"
)

// handleOnline processes the explicit presence announcement. The claimed
// id must match the identity authenticated at handshake; a mismatch is
// the same spoofing class the relay guards against.
func (g *Gateway) handleOnline(c *wsConn, data []byte) {
	var p struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad user-online payload")
		return
	}
	if p.UserID != "" && domain.UserID(p.UserID) != c.uid {
		metrics.AuthFailures.Inc()
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Str("claimed", p.UserID).Str("authenticated", string(c.uid)).Msg("user-online identity mismatch")
		g.sendError(c, "identity mismatch")
		return
	}

	newlyOnline := g.relay.Presence.Register(c.uid, c.id, c)
	c.registered = true
	metrics.OnlineUsers.Set(float64(g.relay.Presence.OnlineCount()))

	if newlyOnline {
		g.broadcastOnline()
	} else {
		// Only the fresh connection needs the current list.
		users := g.relay.Presence.Online()
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = string(u)
		}
		g.sendJSON(c, onlineUsersMsg{Type: kindOnlineUsers, Users: ids})
	}

	// Replay unread markers accumulated while the user was away from
	// the conversations in question.
	for _, mark := range g.rooms.UnreadFor(c.uid) {
		g.sendJSON(c, unreadNoticeMsg{
			Type:           kindUnreadNotice,
			ConversationID: mark.Conversation,
			SenderID:       mark.Sender,
			SenderName:     mark.SenderName,
			HasNew:         true,
		})
	}
}

func (g *Gateway) handlePing(c *wsConn) {
	g.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: kindPong})
}

// OnOfferExpired is wired into the call table at startup: an unanswered
// offer times out and the caller hears about it.
func (g *Gateway) OnOfferExpired(call domain.Call) {
	frame, err := encode(callUnavailableMsg{Type: kindCallUnavailable, ToUserID: call.Callee, Reason: "timeout"})
	if err != nil {
		return
	}
	for _, snap := range g.relay.Presence.Lookup(call.Caller) {
		_ = snap.Conn.TrySend(frame)
	}
	metrics.CallsEnded.WithLabelValues(string(domain.EndTimeout)).Inc()
	metrics.ActiveCalls.Set(float64(g.relay.Calls.Active()))
}

// OnTypingExpired is wired into the rooms at startup: a typing indicator
// that was never explicitly cleared gets auto-cleared for the room.
func (g *Gateway) OnTypingExpired(conv domain.ConversationID, uid domain.UserID) {
	frame, err := encode(typingMsg{Type: kindStopTyping, ConversationID: conv, UserID: uid})
	if err != nil {
		return
	}
	g.rooms.BroadcastExceptUser(conv, uid, frame)
}
