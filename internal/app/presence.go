package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

// Presence maps user ids to their live connections. It owns the online
// set exclusively; no other component mutates it. The reverse index keeps
// Unregister O(1) on disconnect.
type Presence struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]map[core.ConnID]core.SignalConnection
	byConn map[core.ConnID]domain.UserID
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[domain.UserID]map[core.ConnID]core.SignalConnection),
		byConn: make(map[core.ConnID]domain.UserID),
	}
}

// Register binds a connection to a user. Registering the same pair twice
// is a no-op. Reports whether the user just came online so the gateway
// knows to broadcast the online-users list.
func (p *Presence) Register(uid domain.UserID, cid core.ConnID, conn core.SignalConnection) (newlyOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.byUser[uid]
	if !ok {
		conns = make(map[core.ConnID]core.SignalConnection)
		p.byUser[uid] = conns
		newlyOnline = true
	}
	if _, dup := conns[cid]; dup {
		return false
	}
	conns[cid] = conn
	p.byConn[cid] = uid
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("conn", string(cid)).Bool("online", newlyOnline).Msg("registered")
	return newlyOnline
}

// Unregister removes a connection from whichever user owned it.
// Safe to call twice; the second call reports ok=false.
func (p *Presence) Unregister(cid core.ConnID) (uid domain.UserID, lastConn bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	uid, ok = p.byConn[cid]
	if !ok {
		return "", false, false
	}
	delete(p.byConn, cid)
	conns := p.byUser[uid]
	delete(conns, cid)
	if len(conns) == 0 {
		delete(p.byUser, uid)
		lastConn = true
	}
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("conn", string(cid)).Bool("offline", lastConn).Msg("unregistered")
	return uid, lastConn, true
}

// Lookup returns a snapshot of the user's live connections.
// Unknown users yield an empty slice, never an error.
func (p *Presence) Lookup(uid domain.UserID) []core.ConnSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conns := p.byUser[uid]
	out := make([]core.ConnSnapshot, 0, len(conns))
	for cid, c := range conns {
		out = append(out, core.ConnSnapshot{ID: cid, Conn: c})
	}
	return out
}

// UserOf resolves the registered identity of a connection.
func (p *Presence) UserOf(cid core.ConnID) (domain.UserID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	uid, ok := p.byConn[cid]
	return uid, ok
}

// Online returns the sorted ids of all online users.
func (p *Presence) Online() []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserID, 0, len(p.byUser))
	for uid := range p.byUser {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OnlineCount is cheaper than len(Online()) for metrics.
func (p *Presence) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}
