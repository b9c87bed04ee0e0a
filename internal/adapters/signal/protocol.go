package signal

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

// Wire message kinds. Flat JSON envelopes, discriminated by "type".
const (
	// client -> server
	kindUserOnline    = "user-online"
	kindCallOffer     = "call-offer"
	kindCallAnswer    = "call-answer"
	kindICECandidate  = "ice-candidate"
	kindCallConnected = "call-connected"
	kindCallEnd       = "call-end"
	kindJoinRoom      = "join-room"
	kindLeaveRoom     = "leave-room"
	kindSendMessage   = "send-message"
	kindTyping        = "typing"
	kindStopTyping    = "stop-typing"
	kindPing          = "ping"

	// server -> client
	kindOnlineUsers     = "online-users"
	kindCallBusy        = "call-busy"
	kindCallUnavailable = "call-unavailable"
	kindRoomJoined      = "room-joined"
	kindMessage         = "message"
	kindUnreadNotice    = "unread-notice"
	kindError           = "error"
	kindPong            = "pong"
)

// Outbound envelopes. SDP and ICE payloads use the pion types and are
// relayed opaquely; the server never inspects them.

type onlineUsersMsg struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type callOfferMsg struct {
	Type       string                    `json:"type"`
	FromUserID domain.UserID             `json:"fromUserId"`
	FromName   string                    `json:"fromName,omitempty"`
	Offer      webrtc.SessionDescription `json:"offer"`
}

type callAnswerMsg struct {
	Type       string                    `json:"type"`
	FromUserID domain.UserID             `json:"fromUserId"`
	Answer     webrtc.SessionDescription `json:"answer"`
}

type candidateMsg struct {
	Type       string                  `json:"type"`
	FromUserID domain.UserID           `json:"fromUserId"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

type callEndMsg struct {
	Type       string        `json:"type"`
	FromUserID domain.UserID `json:"fromUserId"`
	Reason     string        `json:"reason,omitempty"`
}

type callBusyMsg struct {
	Type     string        `json:"type"`
	ToUserID domain.UserID `json:"toUserId"`
}

type callUnavailableMsg struct {
	Type     string        `json:"type"`
	ToUserID domain.UserID `json:"toUserId"`
	Reason   string        `json:"reason"`
}

type roomJoinedMsg struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversationId"`
	History        []messageMsg          `json:"history,omitempty"`
}

type messageMsg struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversationId"`
	MessageID      domain.MessageID      `json:"messageId"`
	SenderID       domain.UserID         `json:"senderId"`
	SenderName     string                `json:"senderName,omitempty"`
	Text           string                `json:"text"`
	SentAt         time.Time             `json:"sentAt"`
}

func messageToWire(m domain.Message) messageMsg {
	return messageMsg{
		Type:           kindMessage,
		ConversationID: m.Conversation,
		MessageID:      m.ID,
		SenderID:       m.Sender,
		SenderName:     m.SenderName,
		Text:           m.Text,
		SentAt:         m.SentAt,
	}
}

type unreadNoticeMsg struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversationId"`
	SenderID       domain.UserID         `json:"senderId"`
	SenderName     string                `json:"senderName,omitempty"`
	HasNew         bool                  `json:"hasNew"`
}

type typingMsg struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversationId"`
	UserID         domain.UserID         `json:"userId"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	return core.Frame(b), err
}
