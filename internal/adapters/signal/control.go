package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (ctl *VoiceWSController) sendError(c *WsVoiceConn, code, msg string) {
	ctl.sendJSON(c, errorFrame{Type: "error", Code: code, Error: msg})
}

func (ctl *VoiceWSController) sendAppError(c *WsVoiceConn, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	ctl.sendError(c, string(appErr.Code), appErr.Message)
}

func (ctl *VoiceWSController) handlePing(c *WsVoiceConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(c, resp)
}

// handleJoin binds the connection to the user and joins in the background so
// that a following "leave" can cancel an attempt still in progress.
func (ctl *VoiceWSController) handleJoin(ctx context.Context, c *WsVoiceConn, b *binding, data []byte) {
	var p struct {
		TeamID string `json:"team_id"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, "bad_payload", "malformed join")
		return
	}
	team, err := domain.ParseTeamID(p.TeamID)
	if err != nil {
		ctl.sendAppError(c, apperrors.InvalidInput("team_id", err.Error()))
		return
	}
	user, err := domain.ParseUserID(p.UserID)
	if err != nil {
		ctl.sendAppError(c, apperrors.InvalidInput("user_id", err.Error()))
		return
	}
	if !ctl.Limiter.Allow(user) {
		ctl.sendAppError(c, apperrors.RateLimitExceeded())
		return
	}

	co, err := ctl.Registry.GetOrCreate(user)
	if err != nil {
		ctl.sendAppError(c, err)
		return
	}
	sub, ok := b.bind(user, co)
	if !ok {
		ctl.sendAppError(c, apperrors.InvalidInput("user_id", "connection bound to another user"))
		return
	}
	if sub != nil {
		go ctl.forwardEvents(ctx, c, sub)
	}

	go func() {
		session, err := co.Join(ctx, team, user)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("join failed")
			ctl.sendAppError(c, err)
			return
		}
		if !b.markOwner() {
			leaveCtx, done := context.WithTimeout(context.Background(), leaveTimeout)
			defer done()
			_ = co.Leave(leaveCtx)
			return
		}
		ctl.sendJSON(c, struct {
			Type      string           `json:"type"`
			SessionID domain.SessionID `json:"session_id"`
		}{"joined", session})
	}()
}

func (ctl *VoiceWSController) handleLeave(ctx context.Context, c *WsVoiceConn, b *binding) {
	_, co := b.get()
	if co == nil {
		ctl.sendAppError(c, apperrors.NotConnected())
		return
	}
	if err := co.Leave(ctx); err != nil {
		ctl.sendAppError(c, err)
		return
	}
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{"left"})
}

func (ctl *VoiceWSController) handleMute(ctx context.Context, c *WsVoiceConn, b *binding, data []byte) {
	var p struct {
		Muted *bool `json:"muted"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Muted == nil {
		ctl.sendAppError(c, apperrors.InvalidInput("muted", "required boolean"))
		return
	}
	_, co := b.get()
	if co == nil {
		ctl.sendAppError(c, apperrors.NotConnected())
		return
	}
	if err := co.SetMuted(ctx, *p.Muted); err != nil {
		ctl.sendAppError(c, err)
	}
}

func (ctl *VoiceWSController) handleDeafen(ctx context.Context, c *WsVoiceConn, b *binding, data []byte) {
	var p struct {
		Deafened *bool `json:"deafened"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Deafened == nil {
		ctl.sendAppError(c, apperrors.InvalidInput("deafened", "required boolean"))
		return
	}
	_, co := b.get()
	if co == nil {
		ctl.sendAppError(c, apperrors.NotConnected())
		return
	}
	if err := co.SetDeafened(ctx, *p.Deafened); err != nil {
		ctl.sendAppError(c, err)
	}
}
