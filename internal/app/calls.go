package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

// Candidates queued while the caller still has no remote description.
// Past this point the negotiation is broken anyway; drop the oldest.
const maxPendingCandidates = 128

// callSession is the server-side mirror of one 1:1 negotiation.
// All fields are guarded by the owning CallTable mutex.
type callSession struct {
	id         domain.CallID
	caller     domain.UserID
	callee     domain.UserID
	callerConn core.ConnID
	calleeConn core.ConnID // zero until answered
	phase      domain.CallPhase
	createdAt  time.Time
	pending    []core.Frame // callee->caller candidates while offered
	timer      *time.Timer
}

func (s *callSession) view() domain.Call {
	return domain.Call{
		ID:        s.id,
		Caller:    s.caller,
		Callee:    s.callee,
		Phase:     s.phase,
		CreatedAt: s.createdAt,
	}
}

// CallTable owns every live call session and enforces the strict
// single-active-call policy: a user is party to at most one session at a
// time, so an offer towards (or from) a busy user is rejected.
type CallTable struct {
	mu           sync.Mutex
	byUser       map[domain.UserID]*callSession
	offerTimeout time.Duration
	onExpire     func(domain.Call)
}

func NewCallTable(offerTimeout time.Duration) *CallTable {
	return &CallTable{
		byUser:       make(map[domain.UserID]*callSession),
		offerTimeout: offerTimeout,
	}
}

// SetOnExpire installs the unanswered-offer callback. Must be called
// before the table starts taking offers; the callback runs without the
// table lock held.
func (t *CallTable) SetOnExpire(fn func(domain.Call)) {
	t.onExpire = fn
}

// Offer opens a session in the offered phase. Either party already being
// in a call yields ErrCalleeBusy.
func (t *CallTable) Offer(caller, callee domain.UserID, callerConn core.ConnID) (domain.Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.byUser[caller]; busy {
		return domain.Call{}, ErrCalleeBusy
	}
	if _, busy := t.byUser[callee]; busy {
		return domain.Call{}, ErrCalleeBusy
	}

	s := &callSession{
		id:         domain.CallID(uuid.NewString()),
		caller:     caller,
		callee:     callee,
		callerConn: callerConn,
		phase:      domain.CallOffered,
		createdAt:  time.Now(),
	}
	if t.offerTimeout > 0 {
		id := s.id
		s.timer = time.AfterFunc(t.offerTimeout, func() { t.expire(caller, id) })
	}
	t.byUser[caller] = s
	t.byUser[callee] = s
	log.Info().Str("module", "app.calls").Str("call", string(s.id)).Str("caller", string(caller)).Str("callee", string(callee)).Msg("call offered")
	return s.view(), nil
}

// Answer moves the session to the answered phase and releases the
// candidates queued for the caller, in arrival order. A second answer for
// a session already answered or connected is a duplicate.
func (t *CallTable) Answer(callee, caller domain.UserID, calleeConn core.ConnID) (domain.Call, []core.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[callee]
	if !ok || s.caller != caller || s.callee != callee {
		return domain.Call{}, nil, ErrDuplicateSignal
	}
	if s.phase != domain.CallOffered {
		return domain.Call{}, nil, ErrDuplicateSignal
	}
	s.phase = domain.CallAnswered
	s.calleeConn = calleeConn
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.pending
	s.pending = nil
	log.Info().Str("module", "app.calls").Str("call", string(s.id)).Int("queued_candidates", len(pending)).Msg("call answered")
	return s.view(), pending, nil
}

// QueueOrPass decides what happens to an ICE candidate travelling
// from -> to. While the session is still offered, candidates towards the
// caller are held back (the caller cannot apply them before the answer);
// everything else rides the transport order and passes through.
// No session between the pair means a straggler from an ended call.
func (t *CallTable) QueueOrPass(from, to domain.UserID, frame core.Frame) (pass bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sessionFor(from, to)
	if s == nil {
		return false, ErrDuplicateSignal
	}
	if s.phase == domain.CallOffered && from == s.callee {
		if len(s.pending) >= maxPendingCandidates {
			s.pending = s.pending[1:]
			log.Warn().Str("module", "app.calls").Str("call", string(s.id)).Msg("pending candidate queue full, dropping oldest")
		}
		s.pending = append(s.pending, frame)
		return false, nil
	}
	return true, nil
}

// Connected marks the media path as established. Reported by either
// party; repeats and out-of-phase notices are ignored.
func (t *CallTable) Connected(from, to domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sessionFor(from, to)
	if s == nil || s.phase != domain.CallAnswered {
		return false
	}
	s.phase = domain.CallConnected
	log.Info().Str("module", "app.calls").Str("call", string(s.id)).Msg("call connected")
	return true
}

// End releases the session between the pair, in either orientation.
// Ending an already-ended call is a no-op.
func (t *CallTable) End(from, to domain.UserID, reason domain.EndReason) (domain.Call, bool) {
	t.mu.Lock()
	s := t.sessionFor(from, to)
	if s == nil {
		t.mu.Unlock()
		return domain.Call{}, false
	}
	t.removeLocked(s, reason)
	view := s.view()
	t.mu.Unlock()
	return view, true
}

// EndForConn terminates any session bound to the given connection.
// Called on transport disconnect; other connections of the same user are
// not affected.
func (t *CallTable) EndForConn(cid core.ConnID) []domain.Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ended []domain.Call
	for _, s := range t.byUser {
		if s.phase == domain.CallEnded {
			continue
		}
		if s.callerConn == cid || s.calleeConn == cid {
			t.removeLocked(s, domain.EndDisconnect)
			ended = append(ended, s.view())
		}
	}
	return ended
}

// EndForUser terminates any session the user is party to. Called when a
// user's last connection goes away.
func (t *CallTable) EndForUser(uid domain.UserID) []domain.Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byUser[uid]
	if !ok {
		return nil
	}
	t.removeLocked(s, domain.EndDisconnect)
	return []domain.Call{s.view()}
}

// Active reports the number of live sessions.
func (t *CallTable) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[domain.CallID]struct{}, len(t.byUser))
	for _, s := range t.byUser {
		seen[s.id] = struct{}{}
	}
	return len(seen)
}

// sessionFor finds a session joining the pair, caller side first.
func (t *CallTable) sessionFor(a, b domain.UserID) *callSession {
	if s, ok := t.byUser[a]; ok && (s.caller == b || s.callee == b) {
		return s
	}
	return nil
}

func (t *CallTable) removeLocked(s *callSession, reason domain.EndReason) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.phase = domain.CallEnded
	s.pending = nil
	delete(t.byUser, s.caller)
	delete(t.byUser, s.callee)
	log.Info().Str("module", "app.calls").Str("call", string(s.id)).Str("reason", string(reason)).Msg("call ended")
}

func (t *CallTable) expire(caller domain.UserID, id domain.CallID) {
	t.mu.Lock()
	s, ok := t.byUser[caller]
	if !ok || s.id != id || s.phase != domain.CallOffered {
		t.mu.Unlock()
		return
	}
	t.removeLocked(s, domain.EndTimeout)
	view := s.view()
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(view)
	}
}
