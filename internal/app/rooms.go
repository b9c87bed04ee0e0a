package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

// How many delivered message ids each connection remembers for de-dup.
const recentIDCap = 256

// recentSet is a bounded FIFO set of delivered message ids.
type recentSet struct {
	ids   map[domain.MessageID]struct{}
	order []domain.MessageID
}

func newRecentSet() *recentSet {
	return &recentSet{ids: make(map[domain.MessageID]struct{})}
}

// add reports false when the id was already present.
func (r *recentSet) add(id domain.MessageID) bool {
	if _, dup := r.ids[id]; dup {
		return false
	}
	if len(r.order) >= recentIDCap {
		delete(r.ids, r.order[0])
		r.order = r.order[1:]
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
	return true
}

type roomMember struct {
	user domain.UserID
	conv domain.ConversationID
	conn core.SignalConnection
	seen *recentSet
}

type typingKey struct {
	conv domain.ConversationID
	user domain.UserID
}

type typingEntry struct {
	timer *time.Timer
}

// Rooms tracks which connection is actively viewing which conversation,
// fans out live messages with per-connection de-dup, keeps the in-memory
// unread markers, and runs the typing-indicator timers. A connection
// views at most one conversation at a time; joining replaces the prior
// membership.
type Rooms struct {
	mu     sync.Mutex
	conns  map[core.ConnID]*roomMember
	byConv map[domain.ConversationID]map[core.ConnID]*roomMember
	unread map[domain.UserID]map[domain.ConversationID]domain.UnreadMarker
	typing map[typingKey]*typingEntry

	typingTTL      time.Duration
	onTypingExpire func(domain.ConversationID, domain.UserID)
}

func NewRooms(typingTTL time.Duration) *Rooms {
	return &Rooms{
		conns:     make(map[core.ConnID]*roomMember),
		byConv:    make(map[domain.ConversationID]map[core.ConnID]*roomMember),
		unread:    make(map[domain.UserID]map[domain.ConversationID]domain.UnreadMarker),
		typing:    make(map[typingKey]*typingEntry),
		typingTTL: typingTTL,
	}
}

// SetOnTypingExpire installs the auto-clear broadcast hook. The callback
// runs without the rooms lock held.
func (r *Rooms) SetOnTypingExpire(fn func(domain.ConversationID, domain.UserID)) {
	r.onTypingExpire = fn
}

// Join puts the connection into the conversation, replacing whatever it
// was viewing before, and clears the user's unread marker for it.
func (r *Rooms) Join(cid core.ConnID, uid domain.UserID, conn core.SignalConnection, conv domain.ConversationID) (prev domain.ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.conns[cid]; ok {
		prev = m.conv
		if prev == conv {
			return prev
		}
		r.detachLocked(cid, m)
	}
	m := &roomMember{user: uid, conv: conv, conn: conn, seen: newRecentSet()}
	r.conns[cid] = m
	set, ok := r.byConv[conv]
	if !ok {
		set = make(map[core.ConnID]*roomMember)
		r.byConv[conv] = set
	}
	set[cid] = m

	if marks, ok := r.unread[uid]; ok {
		delete(marks, conv)
		if len(marks) == 0 {
			delete(r.unread, uid)
		}
	}
	log.Info().Str("module", "app.rooms").Str("conn", string(cid)).Str("user", string(uid)).Str("conv", string(conv)).Msg("joined room")
	return prev
}

// Leave removes the connection from the conversation, if it is the one
// currently viewed.
func (r *Rooms) Leave(cid core.ConnID, conv domain.ConversationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[cid]
	if !ok || m.conv != conv {
		return false
	}
	r.detachLocked(cid, m)
	log.Info().Str("module", "app.rooms").Str("conn", string(cid)).Str("conv", string(conv)).Msg("left room")
	return true
}

// DropConnection is the implicit leave on disconnect.
func (r *Rooms) DropConnection(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.conns[cid]; ok {
		r.detachLocked(cid, m)
	}
}

func (r *Rooms) detachLocked(cid core.ConnID, m *roomMember) {
	delete(r.conns, cid)
	if set, ok := r.byConv[m.conv]; ok {
		delete(set, cid)
		if len(set) == 0 {
			delete(r.byConv, m.conv)
		}
	}
}

// Broadcast delivers a message frame to every connection joined to the
// conversation except the sending one. A connection that already saw the
// message id is skipped, so redelivery after reconnect catch-up cannot
// double up.
func (r *Rooms) Broadcast(conv domain.ConversationID, msgID domain.MessageID, from core.ConnID, frame core.Frame) core.DeliveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := core.DeliveryResult{}
	for cid, m := range r.byConv[conv] {
		if cid == from {
			continue
		}
		if !m.seen.add(msgID) {
			continue
		}
		if err := m.conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.rooms").Str("conv", string(conv)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// BroadcastExceptUser fans a frame to every joined connection not owned
// by uid. Used for typing indicators, which carry no message identity.
func (r *Rooms) BroadcastExceptUser(conv domain.ConversationID, uid domain.UserID, frame core.Frame) core.DeliveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := core.DeliveryResult{}
	for cid, m := range r.byConv[conv] {
		if m.user == uid {
			continue
		}
		if err := m.conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SentTo++
	}
	return res
}

// IsViewing reports whether any of the user's connections is joined to
// the conversation. Drives unread suppression.
func (r *Rooms) IsViewing(uid domain.UserID, conv domain.ConversationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byConv[conv] {
		if m.user == uid {
			return true
		}
	}
	return false
}

// SetUnread overwrites the user's marker for the conversation.
// Markers never accumulate into counts; the latest sender wins.
func (r *Rooms) SetUnread(uid domain.UserID, mark domain.UnreadMarker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	marks, ok := r.unread[uid]
	if !ok {
		marks = make(map[domain.ConversationID]domain.UnreadMarker)
		r.unread[uid] = marks
	}
	marks[mark.Conversation] = mark
}

// UnreadFor snapshots the user's markers, oldest first, for replay on
// reconnect.
func (r *Rooms) UnreadFor(uid domain.UserID) []domain.UnreadMarker {
	r.mu.Lock()
	defer r.mu.Unlock()
	marks := r.unread[uid]
	out := make([]domain.UnreadMarker, 0, len(marks))
	for _, m := range marks {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Typing starts or refreshes the auto-clear timer and reports whether a
// broadcast is due (it always is; the return mirrors StopTyping).
func (r *Rooms) Typing(conv domain.ConversationID, uid domain.UserID) {
	key := typingKey{conv: conv, user: uid}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.typing[key]; ok {
		e.timer.Stop()
	}
	e := &typingEntry{}
	e.timer = time.AfterFunc(r.typingTTL, func() { r.expireTyping(key, e) })
	r.typing[key] = e
}

// StopTyping clears the indicator immediately. Reports false when there
// was nothing to clear, so an expired indicator is not re-broadcast.
func (r *Rooms) StopTyping(conv domain.ConversationID, uid domain.UserID) bool {
	key := typingKey{conv: conv, user: uid}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.typing[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.typing, key)
	return true
}

func (r *Rooms) expireTyping(key typingKey, e *typingEntry) {
	r.mu.Lock()
	if r.typing[key] != e {
		r.mu.Unlock()
		return
	}
	delete(r.typing, key)
	r.mu.Unlock()

	if r.onTypingExpire != nil {
		r.onTypingExpire(key.conv, key.user)
	}
}
