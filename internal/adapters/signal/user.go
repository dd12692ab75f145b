package signal

import (
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/domain"
)

func (ctl *VoiceWSController) handleState(c *WsVoiceConn, b *binding) {
	resp := struct {
		Type  string         `json:"type"`
		Voice voice.Snapshot `json:"voice"`
	}{
		Type: "snapshot",
		Voice: voice.Snapshot{
			State:        voice.StateDisconnected.String(),
			Links:        []voice.LinkInfo{},
			Participants: []domain.Participant{},
		},
	}
	if _, co := b.get(); co != nil {
		resp.Voice = co.Snapshot()
	}
	ctl.sendJSON(c, resp)
}

func (ctl *VoiceWSController) handleWhoAmI(c *WsVoiceConn, b *binding) {
	user, co := b.get()
	resp := struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"user_id,omitempty"`
		State  string        `json:"state"`
	}{
		Type:   "whoami",
		UserID: user,
		State:  voice.StateDisconnected.String(),
	}
	if co != nil {
		resp.State = co.State().String()
	}
	ctl.sendJSON(c, resp)
}
