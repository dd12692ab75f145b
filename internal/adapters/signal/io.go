package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app/voice"
)

func (ctl *VoiceWSController) writePump(ctx context.Context, c *WsVoiceConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		t := time.NewTicker(ctl.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
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

func (ctl *VoiceWSController) readPump(ctx context.Context, cancel context.CancelFunc, ct string, c *WsVoiceConn, b *binding) {
	defer func() {
		log.Info().Str("module", "signal").Str("ct", ct).Msg("readPump closing")
		owned := b.release()
		cancel()
		c.Close()
		if owned != nil {
			leaveCtx, done := context.WithTimeout(context.Background(), leaveTimeout)
			defer done()
			if err := owned.Leave(leaveCtx); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("ct", ct).Msg("leave on disconnect")
			}
		}
	}()

	if ctl.opts.PingPeriod > 0 {
		wait := 2 * ctl.opts.PingPeriod
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("ct", ct).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("ct", ct).Msg("readPump read error")
				}
				return
			}
			ctl.handleCommand(ctx, c, b, data)
		}
	}
}

func (ctl *VoiceWSController) handleCommand(ctx context.Context, c *WsVoiceConn, b *binding, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload", "malformed json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, c, b, data)
	case "leave":
		ctl.handleLeave(ctx, c, b)
	case "mute":
		ctl.handleMute(ctx, c, b, data)
	case "deafen":
		ctl.handleDeafen(ctx, c, b, data)
	case "state":
		ctl.handleState(c, b)
	case "whoami":
		ctl.handleWhoAmI(c, b)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown command")
		ctl.sendError(c, "unknown_command", env.Type)
	}
}

// forwardEvents relays coordinator events until the subscription or ctx ends.
func (ctl *VoiceWSController) forwardEvents(ctx context.Context, c *WsVoiceConn, sub *voice.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			ctl.sendJSON(c, ev)
		}
	}
}

func (ctl *VoiceWSController) sendJSON(c *WsVoiceConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil && err != ErrConnClosed {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped frame")
	}
}
