// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
)

// ClientMessage is the decoded form of one inbound frame. Polymorphic
// payload fields stay untyped (any) so the validators in the model package
// can sanitize them; trackId in particular must be rejected when clients
// send a numeric index instead of a string id.
type ClientMessage struct {
	Type string  `json:"type"`
	Seq  *uint64 `json:"seq"`
	Ack  *uint64 `json:"ack"`

	TrackID       any `json:"trackId"`
	SourceTrackID any `json:"sourceTrackId"`
	TargetTrackID any `json:"targetTrackId"`
	Step          any `json:"step"`
	Steps         any `json:"steps"`
	Tempo         any `json:"tempo"`
	Swing         any `json:"swing"`
	Lock          any `json:"lock"`
	Locks         any `json:"locks"`
	Volume        any `json:"volume"`
	Transpose     any `json:"transpose"`
	StepCount     any `json:"stepCount"`
	SampleID      any `json:"sampleId"`
	Name          any `json:"name"`
	Track         any `json:"track"`
	Effects       any `json:"effects"`
	Scale         any `json:"scale"`
	FMParams      any `json:"fmParams"`
	LoopRegion    any `json:"loopRegion"`
	Position      any `json:"position"`
	Muted         any `json:"muted"`
	Soloed        any `json:"soloed"`
	ClientTime    any `json:"clientTime"`
}

// ParseClientMessage decodes one inbound frame. Frames without a type are
// rejected.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse client message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("parse client message: missing type")
	}
	return &msg, nil
}

// StringTrackID returns the track id carried by v, rejecting absent values
// and numeric addressing.
func StringTrackID(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ServerMessage is the outbound envelope. Mutating broadcasts carry Seq and,
// when the triggering command had one, ClientSeq; informational broadcasts
// carry neither. Unused payload fields stay absent on the wire.
type ServerMessage struct {
	Type      string  `json:"type"`
	Seq       *uint64 `json:"seq,omitempty"`
	ClientSeq *uint64 `json:"clientSeq,omitempty"`
	PlayerID  string  `json:"playerId,omitempty"`

	TrackID       string                `json:"trackId,omitempty"`
	SourceTrackID string                `json:"sourceTrackId,omitempty"`
	TargetTrackID string                `json:"targetTrackId,omitempty"`
	Step          *int                  `json:"step,omitempty"`
	Steps         []int                 `json:"steps,omitempty"`
	On            *bool                 `json:"on,omitempty"`
	Tempo         *int                  `json:"tempo,omitempty"`
	Swing         *int                  `json:"swing,omitempty"`
	SwingCleared  bool                  `json:"swingCleared,omitempty"`
	Lock          *model.ParameterLock  `json:"lock,omitempty"`
	Locks         []model.PlockEntry    `json:"locks,omitempty"`
	Volume        *float64              `json:"volume,omitempty"`
	Transpose     *int                  `json:"transpose,omitempty"`
	StepCount     *int                  `json:"stepCount,omitempty"`
	SampleID      string                `json:"sampleId,omitempty"`
	Name          *string               `json:"name,omitempty"`
	Track         *model.Track          `json:"track,omitempty"`
	Effects       *model.EffectsState   `json:"effects,omitempty"`
	EffectsClear  bool                  `json:"effectsCleared,omitempty"`
	Scale         *model.Scale          `json:"scale,omitempty"`
	FMParams      *model.FMParams       `json:"fmParams,omitempty"`
	LoopRegion    *model.LoopRegion     `json:"loopRegion,omitempty"`
	Position      *model.CursorPosition `json:"position,omitempty"`
	Muted         *bool                 `json:"muted,omitempty"`
	Soloed        *bool                 `json:"soloed,omitempty"`

	State            *model.SessionState `json:"state,omitempty"`
	Players          []model.PlayerInfo  `json:"players,omitempty"`
	Player           *model.PlayerInfo   `json:"player,omitempty"`
	PlayerCount      *int                `json:"playerCount,omitempty"`
	ServerSeq        *uint64             `json:"serverSeq,omitempty"`
	PlayingPlayerIDs []string            `json:"playingPlayerIds,omitempty"`
	Immutable        *bool               `json:"immutable,omitempty"`
	Hash             string              `json:"hash,omitempty"`
	ClientTime       *float64            `json:"clientTime,omitempty"`
	ServerTime       *int64              `json:"serverTime,omitempty"`
	Message          string              `json:"message,omitempty"`
}

// NewMutatingBroadcast builds the envelope for a state-mutating broadcast.
// Requiring the server sequence here makes it impossible to emit a mutating
// broadcast without one.
func NewMutatingBroadcast(bcastType string, serverSeq uint64, clientSeq *uint64, playerID string) *ServerMessage {
	seq := serverSeq
	return &ServerMessage{
		Type:      bcastType,
		Seq:       &seq,
		ClientSeq: clientSeq,
		PlayerID:  playerID,
	}
}

// NewError builds a typed error frame.
func NewError(message string) *ServerMessage {
	return &ServerMessage{Type: BcastError, Message: message}
}

// Encode marshals the message for the wire.
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
