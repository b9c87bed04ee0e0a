package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/domain"
	"github.com/mentorhub/signaling/internal/idgen"
	"github.com/mentorhub/signaling/internal/metrics"
)

const historyFetchTimeout = 2 * time.Second

func (g *Gateway) handleJoinRoom(c *wsConn, data []byte) {
	var p struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		log.Warn().Str("module", "signal").Msg("bad join-room payload")
		return
	}
	if !c.registered {
		g.sendError(c, "not registered")
		return
	}
	conv := domain.ConversationID(p.ConversationID)
	g.rooms.Join(c.id, c.uid, c, conv)

	resp := roomJoinedMsg{Type: kindRoomJoined, ConversationID: conv}
	if g.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyFetchTimeout)
		recent, err := g.history.Recent(ctx, conv, 50)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conv", p.ConversationID).Msg("history catch-up failed")
		}
		for _, m := range recent {
			resp.History = append(resp.History, messageToWire(m))
		}
	}
	g.sendJSON(c, resp)
}

func (g *Gateway) handleLeaveRoom(c *wsConn, data []byte) {
	var p struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		log.Warn().Str("module", "signal").Msg("bad leave-room payload")
		return
	}
	g.rooms.Leave(c.id, domain.ConversationID(p.ConversationID))
}

// handleSendMessage assigns the message identity, fans it out live to
// joined connections and marks the conversation unread for the recipient
// when they are online but looking elsewhere. Durable persistence is the
// REST layer's job; only the optional catch-up cache is fed here.
func (g *Gateway) handleSendMessage(c *wsConn, data []byte) {
	var p struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
		ToUserID       string `json:"toUserId"`
		SenderID       string `json:"senderId"`
		Text           string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" || p.Text == "" {
		log.Warn().Str("module", "signal").Msg("bad send-message payload")
		return
	}
	if !c.registered {
		g.sendError(c, "not registered")
		return
	}
	if p.SenderID != "" && domain.UserID(p.SenderID) != c.uid {
		metrics.AuthFailures.Inc()
		g.sendError(c, "not authorized")
		return
	}

	msg := domain.Message{
		ID:           domain.MessageID(idgen.NewULID()),
		Conversation: domain.ConversationID(p.ConversationID),
		Sender:       c.uid,
		SenderName:   c.name,
		Text:         p.Text,
		SentAt:       time.Now(),
	}

	frame, err := encode(messageToWire(msg))
	if err != nil {
		return
	}
	res := g.rooms.Broadcast(msg.Conversation, msg.ID, c.id, frame)
	metrics.MessagesDelivered.Add(float64(res.SentTo))

	if g.history != nil {
		g.history.Append(msg)
	}

	recipient := domain.UserID(p.ToUserID)
	if recipient == "" || recipient == c.uid {
		return
	}
	if g.rooms.IsViewing(recipient, msg.Conversation) {
		return
	}
	targets := g.relay.Presence.Lookup(recipient)
	if len(targets) == 0 {
		// Fully offline; the REST layer computes unread from storage on
		// their next login.
		return
	}
	mark := domain.UnreadMarker{
		Conversation: msg.Conversation,
		Sender:       msg.Sender,
		SenderName:   msg.SenderName,
		At:           msg.SentAt,
	}
	g.rooms.SetUnread(recipient, mark)
	notice, err := encode(unreadNoticeMsg{
		Type:           kindUnreadNotice,
		ConversationID: mark.Conversation,
		SenderID:       mark.Sender,
		SenderName:     mark.SenderName,
		HasNew:         true,
	})
	if err != nil {
		return
	}
	for _, snap := range targets {
		_ = snap.Conn.TrySend(notice)
	}
	metrics.UnreadNotices.Inc()
}

func (g *Gateway) handleTyping(c *wsConn, data []byte) {
	conv, ok := g.typingPayload(c, data)
	if !ok {
		return
	}
	g.rooms.Typing(conv, c.uid)
	frame, err := encode(typingMsg{Type: kindTyping, ConversationID: conv, UserID: c.uid})
	if err != nil {
		return
	}
	g.rooms.BroadcastExceptUser(conv, c.uid, frame)
}

func (g *Gateway) handleStopTyping(c *wsConn, data []byte) {
	conv, ok := g.typingPayload(c, data)
	if !ok {
		return
	}
	if !g.rooms.StopTyping(conv, c.uid) {
		return
	}
	frame, err := encode(typingMsg{Type: kindStopTyping, ConversationID: conv, UserID: c.uid})
	if err != nil {
		return
	}
	g.rooms.BroadcastExceptUser(conv, c.uid, frame)
}

func (g *Gateway) typingPayload(c *wsConn, data []byte) (domain.ConversationID, bool) {
	var p struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		log.Warn().Str("module", "signal").Msg("bad typing payload")
		return "", false
	}
	if !c.registered {
		return "", false
	}
	return domain.ConversationID(p.ConversationID), true
}
