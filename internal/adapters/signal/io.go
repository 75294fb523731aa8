package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	done := ctx.Done()
	for {
		select {
		case <-done:
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			done = nil
			c.Close()
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn, st *connState) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(st.id)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), st.id)
		st.release()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(st.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
		if mt != websocket.TextMessage {
			ctl.sendError(c, core.CodeBadPayload, "text frames only")
			continue
		}
		if !ctl.handleSignal(ctx, c, st, data) {
			return
		}
	}
}

// handleSignal dispatches one inbound frame. It returns false when the connection
// must be closed.
func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, st *connState, data []byte) bool {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Warn().Str("module", "signal").Str("conn", string(st.id)).Msg("bad envelope")
		ctl.sendError(c, core.CodeBadPayload, "malformed envelope")
		return true
	}
	if !st.allow() {
		ctl.sendError(c, core.CodeRateLimited, "slow down")
		return true
	}

	switch env.Type {
	case core.TypeJoin:
		return ctl.handleJoin(ctx, c, st, data)
	case core.TypeOffer, core.TypeAnswer, core.TypeICECandidate:
		ctl.handleRelay(c, st, env.Type, data)
	case core.TypeMediaState:
		ctl.handleMediaState(ctx, c, st, data)
	case core.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
	return true
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code, message string) {
	ctl.sendJSON(c, core.NewError(code, message))
}
