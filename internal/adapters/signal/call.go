package signal

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/app"
	"github.com/mentorhub/signaling/internal/domain"
	"github.com/mentorhub/signaling/internal/metrics"
)

func (g *Gateway) handleOffer(c *wsConn, data []byte) {
	var p struct {
		Type       string                    `json:"type"`
		ToUserID   string                    `json:"toUserId"`
		FromUserID string                    `json:"fromUserId"`
		Offer      webrtc.SessionDescription `json:"offer"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad offer payload")
		return
	}
	from, to := domain.UserID(p.FromUserID), domain.UserID(p.ToUserID)

	call, targets, err := g.relay.Offer(c.id, from, to)
	if err != nil {
		g.rejectOffer(c, to, err)
		return
	}

	frame, err := encode(callOfferMsg{Type: kindCallOffer, FromUserID: from, FromName: c.name, Offer: p.Offer})
	if err != nil {
		return
	}
	for _, snap := range targets {
		_ = snap.Conn.TrySend(frame)
	}
	metrics.SignalsRelayed.WithLabelValues(kindCallOffer).Inc()
	metrics.CallsStarted.Inc()
	metrics.ActiveCalls.Set(float64(g.relay.Calls.Active()))
	log.Info().Str("module", "signal").Str("call", string(call.ID)).Str("caller", string(from)).Str("callee", string(to)).Msg("offer relayed")
}

// rejectOffer maps relay errors to the user-facing notices: busy and
// offline get their own kinds so the UI can say why the call never rang.
func (g *Gateway) rejectOffer(c *wsConn, to domain.UserID, err error) {
	switch {
	case errors.Is(err, app.ErrRecipientOffline):
		g.sendJSON(c, callUnavailableMsg{Type: kindCallUnavailable, ToUserID: to, Reason: "offline"})
		metrics.SignalsDropped.WithLabelValues("offline").Inc()
	case errors.Is(err, app.ErrCalleeBusy):
		g.sendJSON(c, callBusyMsg{Type: kindCallBusy, ToUserID: to})
		metrics.SignalsDropped.WithLabelValues("busy").Inc()
	case errors.Is(err, app.ErrRateLimited):
		g.sendError(c, "too many call attempts")
		metrics.SignalsDropped.WithLabelValues("rate_limited").Inc()
	case errors.Is(err, app.ErrNotAuthorized), errors.Is(err, app.ErrNotRegistered):
		metrics.AuthFailures.Inc()
		g.sendError(c, "not authorized")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("offer failed")
	}
}

func (g *Gateway) handleAnswer(c *wsConn, data []byte) {
	var p struct {
		Type       string                    `json:"type"`
		ToUserID   string                    `json:"toUserId"`
		FromUserID string                    `json:"fromUserId"`
		Answer     webrtc.SessionDescription `json:"answer"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad answer payload")
		return
	}
	from, to := domain.UserID(p.FromUserID), domain.UserID(p.ToUserID)

	targets, pending, err := g.relay.Answer(c.id, from, to)
	if err != nil {
		// Duplicate answers are an expected race; drop without noise.
		if errors.Is(err, app.ErrDuplicateSignal) {
			metrics.SignalsDropped.WithLabelValues("duplicate").Inc()
			log.Debug().Str("module", "signal").Str("from", string(from)).Msg("duplicate answer dropped")
			return
		}
		g.dropSignal(c, err, "answer")
		return
	}

	frame, err := encode(callAnswerMsg{Type: kindCallAnswer, FromUserID: from, Answer: p.Answer})
	if err != nil {
		return
	}
	for _, snap := range targets {
		_ = snap.Conn.TrySend(frame)
		// Candidates held back while the offer was pending follow the
		// answer in their original arrival order.
		for _, q := range pending {
			_ = snap.Conn.TrySend(q)
		}
	}
	metrics.SignalsRelayed.WithLabelValues(kindCallAnswer).Inc()
}

func (g *Gateway) handleCandidate(c *wsConn, data []byte) {
	var p struct {
		Type       string                  `json:"type"`
		ToUserID   string                  `json:"toUserId"`
		FromUserID string                  `json:"fromUserId"`
		Candidate  webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	from, to := domain.UserID(p.FromUserID), domain.UserID(p.ToUserID)

	frame, err := encode(candidateMsg{Type: kindICECandidate, FromUserID: from, Candidate: p.Candidate})
	if err != nil {
		return
	}
	targets, err := g.relay.Candidate(c.id, from, to, frame)
	if err != nil {
		if errors.Is(err, app.ErrDuplicateSignal) {
			// Straggler from an ended call.
			metrics.SignalsDropped.WithLabelValues("stale").Inc()
			log.Debug().Str("module", "signal").Str("from", string(from)).Msg("candidate without session dropped")
			return
		}
		g.dropSignal(c, err, "candidate")
		return
	}
	if targets == nil {
		// Queued until the answer opens the path.
		return
	}
	for _, snap := range targets {
		_ = snap.Conn.TrySend(frame)
	}
	metrics.SignalsRelayed.WithLabelValues(kindICECandidate).Inc()
}

func (g *Gateway) handleConnected(c *wsConn, data []byte) {
	var p struct {
		Type       string `json:"type"`
		ToUserID   string `json:"toUserId"`
		FromUserID string `json:"fromUserId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad call-connected payload")
		return
	}
	err := g.relay.Connected(c.id, domain.UserID(p.FromUserID), domain.UserID(p.ToUserID))
	if err != nil && !errors.Is(err, app.ErrDuplicateSignal) {
		g.dropSignal(c, err, "call-connected")
	}
}

func (g *Gateway) handleCallEnd(c *wsConn, data []byte) {
	var p struct {
		Type       string `json:"type"`
		ToUserID   string `json:"toUserId"`
		FromUserID string `json:"fromUserId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad call-end payload")
		return
	}
	from, to := domain.UserID(p.FromUserID), domain.UserID(p.ToUserID)

	targets, err := g.relay.Hangup(c.id, from, to)
	if err != nil {
		g.dropSignal(c, err, "call-end")
		return
	}
	frame, err := encode(callEndMsg{Type: kindCallEnd, FromUserID: from, Reason: string(domain.EndHangup)})
	if err != nil {
		return
	}
	for _, snap := range targets {
		_ = snap.Conn.TrySend(frame)
	}
	metrics.SignalsRelayed.WithLabelValues(kindCallEnd).Inc()
	metrics.CallsEnded.WithLabelValues(string(domain.EndHangup)).Inc()
	metrics.ActiveCalls.Set(float64(g.relay.Calls.Active()))
}

// dropSignal handles the shared failure tail of the call handlers.
func (g *Gateway) dropSignal(c *wsConn, err error, kind string) {
	switch {
	case errors.Is(err, app.ErrNotAuthorized), errors.Is(err, app.ErrNotRegistered):
		metrics.AuthFailures.Inc()
		g.sendError(c, "not authorized")
	case errors.Is(err, app.ErrRecipientOffline):
		metrics.SignalsDropped.WithLabelValues("offline").Inc()
		log.Debug().Str("module", "signal").Str("kind", kind).Msg("recipient offline, dropped")
	default:
		log.Error().Err(err).Str("module", "signal").Str("kind", kind).Msg("signal dropped")
	}
}
