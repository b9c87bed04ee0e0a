package app

import (
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

// Relay is the stateless per-message router for call signaling. It checks
// the sender's registered identity, resolves the target through Presence
// and consults the CallTable before handing the adapter the connections
// to forward to. Forwarding is at-most-once per connection; there is no
// retry and no persistence, loss is recovered by the caller redialling.
type Relay struct {
	Presence *Presence
	Calls    *CallTable
	Limiter  *RateLimiter
}

func NewRelay(presence *Presence, calls *CallTable, limiter *RateLimiter) *Relay {
	return &Relay{Presence: presence, Calls: calls, Limiter: limiter}
}

// authorize rejects messages whose claimed sender does not match the
// identity registered for the sending connection.
func (r *Relay) authorize(cid core.ConnID, claimed domain.UserID) error {
	uid, ok := r.Presence.UserOf(cid)
	if !ok {
		return ErrNotRegistered
	}
	if uid != claimed {
		log.Warn().Str("module", "app.relay").Str("conn", string(cid)).Str("claimed", string(claimed)).Str("registered", string(uid)).Msg("sender spoof attempt")
		return ErrNotAuthorized
	}
	return nil
}

// Offer opens a call session and resolves the callee's connections.
// ErrRecipientOffline and ErrCalleeBusy are expected outcomes the adapter
// turns into user-facing notices.
func (r *Relay) Offer(cid core.ConnID, from, to domain.UserID) (domain.Call, []core.ConnSnapshot, error) {
	if err := r.authorize(cid, from); err != nil {
		return domain.Call{}, nil, err
	}
	if r.Limiter != nil && !r.Limiter.Allow(from) {
		return domain.Call{}, nil, ErrRateLimited
	}
	targets := r.Presence.Lookup(to)
	if len(targets) == 0 {
		return domain.Call{}, nil, ErrRecipientOffline
	}
	call, err := r.Calls.Offer(from, to, cid)
	if err != nil {
		return domain.Call{}, nil, err
	}
	return call, targets, nil
}

// Answer advances the session and returns the caller's connections plus
// any candidate frames queued while the offer was pending. The adapter
// must forward the answer first, then drain the frames in order.
func (r *Relay) Answer(cid core.ConnID, from, to domain.UserID) ([]core.ConnSnapshot, []core.Frame, error) {
	if err := r.authorize(cid, from); err != nil {
		return nil, nil, err
	}
	targets := r.Presence.Lookup(to)
	if len(targets) == 0 {
		// Caller vanished between offer and answer; the disconnect path
		// has already torn the session down or is about to.
		return nil, nil, ErrRecipientOffline
	}
	_, pending, err := r.Calls.Answer(from, to, cid)
	if err != nil {
		return nil, nil, err
	}
	return targets, pending, nil
}

// Candidate routes one ICE candidate. A nil target slice with a nil error
// means the candidate was queued for later delivery.
func (r *Relay) Candidate(cid core.ConnID, from, to domain.UserID, frame core.Frame) ([]core.ConnSnapshot, error) {
	if err := r.authorize(cid, from); err != nil {
		return nil, err
	}
	pass, err := r.Calls.QueueOrPass(from, to, frame)
	if err != nil {
		return nil, err
	}
	if !pass {
		return nil, nil
	}
	targets := r.Presence.Lookup(to)
	if len(targets) == 0 {
		return nil, ErrRecipientOffline
	}
	return targets, nil
}

// Connected records the media-established notice from either party.
func (r *Relay) Connected(cid core.ConnID, from, to domain.UserID) error {
	if err := r.authorize(cid, from); err != nil {
		return err
	}
	if !r.Calls.Connected(from, to) {
		return ErrDuplicateSignal
	}
	return nil
}

// Hangup ends the session (idempotent) and resolves every connection of
// the other party so multi-device peers all see the call end.
func (r *Relay) Hangup(cid core.ConnID, from, to domain.UserID) ([]core.ConnSnapshot, error) {
	if err := r.authorize(cid, from); err != nil {
		return nil, err
	}
	r.Calls.End(from, to, domain.EndHangup)
	return r.Presence.Lookup(to), nil
}

// Disconnect tears down everything the dying connection was involved in:
// its presence entry, any call bound to it, and, when it was the user's
// last connection, any call the user was party to at all.
func (r *Relay) Disconnect(cid core.ConnID) (uid domain.UserID, lastConn bool, ended []domain.Call, ok bool) {
	uid, lastConn, ok = r.Presence.Unregister(cid)
	if !ok {
		return "", false, nil, false
	}
	ended = r.Calls.EndForConn(cid)
	if lastConn {
		ended = append(ended, r.Calls.EndForUser(uid)...)
	}
	return uid, lastConn, ended, true
}
