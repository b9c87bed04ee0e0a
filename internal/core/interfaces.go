package core

// Frame is a raw wire payload, already encoded.
type Frame []byte

// ConnID identifies a single live transport connection. A user may hold
// several at once (multi-tab, multi-device).
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ConnSnapshot pairs a connection id with its transport handle,
// as returned by presence lookups.
type ConnSnapshot struct {
	ID   ConnID
	Conn SignalConnection
}

// DeliveryResult reports fanout stats/backpressure to the caller.
type DeliveryResult struct {
	SentTo  int
	Dropped []ConnID
}
