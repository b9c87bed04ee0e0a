package domain

import "time"

type (
	ConversationID string
	MessageID      string
)

// Message is a chat message as it travels through live fanout.
// Durable storage of messages belongs to the REST layer; this struct only
// feeds delivery and the optional recent-history cache.
type Message struct {
	ID           MessageID      `json:"id"`
	Conversation ConversationID `json:"conversationId"`
	Sender       UserID         `json:"senderId"`
	SenderName   string         `json:"senderName,omitempty"`
	Text         string         `json:"text"`
	SentAt       time.Time      `json:"sentAt"`
}

// UnreadMarker flags a conversation with activity the user has not seen.
// Last write wins: a newer message overwrites the marker, it never counts.
type UnreadMarker struct {
	Conversation ConversationID `json:"conversationId"`
	Sender       UserID         `json:"senderId"`
	SenderName   string         `json:"senderName,omitempty"`
	At           time.Time      `json:"at"`
}
