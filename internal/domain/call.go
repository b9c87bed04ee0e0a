package domain

import "time"

type CallID string

// CallPhase is the negotiation phase of a 1:1 call.
// Transitions: Offered -> Answered -> Connected -> Ended,
// with Offered -> Ended on decline, cancel or timeout,
// and any phase -> Ended on disconnect of either party.
type CallPhase int

const (
	CallOffered CallPhase = iota
	CallAnswered
	CallConnected
	CallEnded
)

func (p CallPhase) String() string {
	switch p {
	case CallOffered:
		return "offered"
	case CallAnswered:
		return "answered"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	}
	return "unknown"
}

// EndReason says why a call left the table.
type EndReason string

const (
	EndHangup     EndReason = "hangup"
	EndTimeout    EndReason = "timeout"
	EndDisconnect EndReason = "disconnect"
)

// Call is the read-only view of a call session (no transport fields).
type Call struct {
	ID        CallID    `json:"id"`
	Caller    UserID    `json:"caller"`
	Callee    UserID    `json:"callee"`
	Phase     CallPhase `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// PeerOf returns the other party of the call relative to uid.
// The zero UserID is returned when uid is not a party at all.
func (c Call) PeerOf(uid UserID) UserID {
	switch uid {
	case c.Caller:
		return c.Callee
	case c.Callee:
		return c.Caller
	}
	return ""
}
