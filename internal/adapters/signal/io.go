package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (g *Gateway) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(g.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump is the single reader for the connection; dispatch stays
// sequential so one connection's messages can never be reordered.
func (g *Gateway) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		cancel()
		g.cleanup(c)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				return
			}
			g.dispatch(c, data)
		}
	}
}

func (g *Gateway) dispatch(c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case kindUserOnline:
		g.handleOnline(c, data)
	case kindPing:
		g.handlePing(c)
	case kindCallOffer:
		g.handleOffer(c, data)
	case kindCallAnswer:
		g.handleAnswer(c, data)
	case kindICECandidate:
		g.handleCandidate(c, data)
	case kindCallConnected:
		g.handleConnected(c, data)
	case kindCallEnd:
		g.handleCallEnd(c, data)
	case kindJoinRoom:
		g.handleJoinRoom(c, data)
	case kindLeaveRoom:
		g.handleLeaveRoom(c, data)
	case kindSendMessage:
		g.handleSendMessage(c, data)
	case kindTyping:
		g.handleTyping(c, data)
	case kindStopTyping:
		g.handleStopTyping(c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (g *Gateway) sendJSON(c *wsConn, v any) {
	frame, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(frame)
}

func (g *Gateway) sendError(c *wsConn, msg string) {
	g.sendJSON(c, errorMsg{Type: kindError, Error: msg})
}
