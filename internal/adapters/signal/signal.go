package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/app"
	"github.com/mentorhub/signaling/internal/config"
	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
	"github.com/mentorhub/signaling/internal/history"
	"github.com/mentorhub/signaling/internal/metrics"
)

var ErrBackpressure = errors.New("backpressure")

// Gateway terminates the WebSocket transport and translates wire
// envelopes into relay, call-table and room operations.
type Gateway struct {
	cfg     *config.Config
	relay   *app.Relay
	rooms   *app.Rooms
	history *history.Store // nil when the catch-up cache is disabled
}

func NewGateway(cfg *config.Config, relay *app.Relay, rooms *app.Rooms, store *history.Store) *Gateway {
	return &Gateway{cfg: cfg, relay: relay, rooms: rooms, history: store}
}

// wsConn is one live client connection. The send channel decouples
// fanout from slow sockets; TrySend never blocks.
type wsConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	// Authenticated at handshake; presence registration still waits for
	// the explicit user-online announcement.
	uid  domain.UserID
	name string

	// Only the read pump flips this, after a valid user-online.
	registered bool

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps.
// The identity middleware has already placed user_id/user_name in the
// gin context.
func (g *Gateway) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := domain.NewUser(domain.UserID(c.GetString("user_id")), c.GetString("user_name"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(g.cfg.ReadLimit)

	conn := &wsConn{
		id:   core.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, 32),
		uid:  user.ID,
		name: user.Username,
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("user", string(user.ID)).Msg("new WS connection")
	metrics.TotalConnections.Inc()
	metrics.ActiveConnections.Inc()

	ctx, cancel := context.WithCancel(ctx)
	go g.writePump(ctx, conn)
	go g.readPump(ctx, cancel, conn)
}

// cleanup runs exactly once when the read pump exits: implicit room
// leave, presence unregister and termination of any call bound to the
// connection, with call-end notices to the surviving party.
func (g *Gateway) cleanup(conn *wsConn) {
	g.rooms.DropConnection(conn.id)

	uid, lastConn, ended, ok := g.relay.Disconnect(conn.id)
	if ok {
		for _, call := range ended {
			g.notifyCallEnd(call, uid, domain.EndDisconnect)
		}
		if lastConn {
			if g.relay.Limiter != nil {
				g.relay.Limiter.Forget(uid)
			}
			g.broadcastOnline()
		}
		metrics.OnlineUsers.Set(float64(g.relay.Presence.OnlineCount()))
		metrics.ActiveCalls.Set(float64(g.relay.Calls.Active()))
	}

	metrics.ActiveConnections.Dec()
	conn.Close()
}

// notifyCallEnd tells every connection of the ended call's other party.
func (g *Gateway) notifyCallEnd(call domain.Call, from domain.UserID, reason domain.EndReason) {
	peer := call.PeerOf(from)
	if peer == "" {
		return
	}
	frame, err := encode(callEndMsg{Type: kindCallEnd, FromUserID: from, Reason: string(reason)})
	if err != nil {
		return
	}
	for _, snap := range g.relay.Presence.Lookup(peer) {
		_ = snap.Conn.TrySend(frame)
	}
	metrics.CallsEnded.WithLabelValues(string(reason)).Inc()
}

// broadcastOnline pushes the full online-users list to every registered
// connection.
func (g *Gateway) broadcastOnline() {
	users := g.relay.Presence.Online()
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = string(u)
	}
	frame, err := encode(onlineUsersMsg{Type: kindOnlineUsers, Users: ids})
	if err != nil {
		return
	}
	for _, uid := range users {
		for _, snap := range g.relay.Presence.Lookup(uid) {
			_ = snap.Conn.TrySend(frame)
		}
	}
}
