package app

import "errors"

var (
	// ErrNotAuthorized means the claimed sender id does not match the
	// identity registered for the sending connection.
	ErrNotAuthorized = errors.New("sender identity mismatch")

	// ErrRecipientOffline means the target user has no live connection.
	ErrRecipientOffline = errors.New("recipient offline")

	// ErrDuplicateSignal means an offer/answer arrived in a phase that
	// already consumed it. Dropped silently, never surfaced as a failure.
	ErrDuplicateSignal = errors.New("duplicate signal for call phase")

	// ErrCalleeBusy means one of the parties already has a live call.
	ErrCalleeBusy = errors.New("callee busy")

	// ErrNotRegistered means the connection never announced a user id.
	ErrNotRegistered = errors.New("connection not registered")

	// ErrRateLimited means the sender exceeded the offer rate window.
	ErrRateLimited = errors.New("rate limited")
)
