package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

var ErrUnknownSignalKind = errors.New("unknown signal kind")

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalMessage is a directed offer/answer/candidate relayed through the store.
// Payload holds a webrtc.SessionDescription for offers and answers and a
// webrtc.ICECandidateInit for candidates.
type SignalMessage struct {
	ID        int64           `db:"id" json:"id"`
	SessionID SessionID       `db:"session_id" json:"session_id"`
	From      UserID          `db:"from_user_id" json:"from"`
	To        UserID          `db:"to_user_id" json:"to"`
	Kind      SignalKind      `db:"signal_type" json:"kind"`
	Payload   json.RawMessage `db:"signal_data" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

func NewDescriptionSignal(session SessionID, from, to UserID, desc webrtc.SessionDescription) (SignalMessage, error) {
	var kind SignalKind
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		kind = SignalOffer
	case webrtc.SDPTypeAnswer:
		kind = SignalAnswer
	default:
		return SignalMessage{}, fmt.Errorf("unsupported sdp type %q", desc.Type.String())
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{SessionID: session, From: from, To: to, Kind: kind, Payload: raw}, nil
}

func NewCandidateSignal(session SessionID, from, to UserID, cand webrtc.ICECandidateInit) (SignalMessage, error) {
	raw, err := json.Marshal(cand)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{SessionID: session, From: from, To: to, Kind: SignalICECandidate, Payload: raw}, nil
}

// Description decodes an offer or answer payload.
func (m SignalMessage) Description() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if m.Kind != SignalOffer && m.Kind != SignalAnswer {
		return desc, fmt.Errorf("%w: %s carries no description", ErrUnknownSignalKind, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &desc); err != nil {
		return desc, fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return desc, nil
}

func (m SignalMessage) Candidate() (webrtc.ICECandidateInit, error) {
	var cand webrtc.ICECandidateInit
	if m.Kind != SignalICECandidate {
		return cand, fmt.Errorf("%w: %s carries no candidate", ErrUnknownSignalKind, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &cand); err != nil {
		return cand, fmt.Errorf("decode candidate payload: %w", err)
	}
	return cand, nil
}
