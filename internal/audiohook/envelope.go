// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_audiohook defines the Genesys AudioHook wire protocol:
// the JSON envelope, the typed parameter payloads for every message the
// bridge sends or receives, media negotiation and upgrade-handshake
// validation. Binary frames on the same socket carry raw audio and are not
// enveloped.
package internal_audiohook

import "encoding/json"

// ProtocolVersion is the only AudioHook version the bridge speaks.
const ProtocolVersion = "2"

// ZeroUUID marks a connection probe when used as both the conversation id
// and the participant id of an open message.
const ZeroUUID = "00000000-0000-0000-0000-000000000000"

// Client-to-server message types.
const (
	TypeOpen   = "open"
	TypePing   = "ping"
	TypeClose  = "close"
	TypeError  = "error"
	TypeUpdate = "update"
	TypeResume = "resume"
	TypePause  = "pause"
)

// Server-to-client message types.
const (
	TypeOpened     = "opened"
	TypePong       = "pong"
	TypeClosed     = "closed"
	TypeEvent      = "event"
	TypeDisconnect = "disconnect"
)

// Disconnect reasons understood by the carrier's flow engine.
const (
	ReasonCompleted = "completed"
	ReasonTransfer  = "transfer"
	ReasonError     = "error"
)

// Envelope is the JSON frame wrapping every non-binary AudioHook message.
// Parameters stays raw so each handler can decode its own payload type.
type Envelope struct {
	Version    string          `json:"version"`
	Type       string          `json:"type"`
	Seq        int             `json:"seq"`
	ClientSeq  int             `json:"clientseq,omitempty"`
	ID         string          `json:"id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Media describes one audio stream offered or selected during negotiation.
// A selected entry is echoed back verbatim, channels included.
type Media struct {
	Type     string   `json:"type,omitempty"`
	Format   string   `json:"format"`
	Channels []string `json:"channels,omitempty"`
	Rate     int      `json:"rate"`
}

// Participant identifies the caller on the carrier side.
type Participant struct {
	ID      string `json:"id"`
	ANI     string `json:"ani,omitempty"`
	ANIName string `json:"aniName,omitempty"`
	DNIS    string `json:"dnis,omitempty"`
}

// OpenParameters is the payload of the open message.
type OpenParameters struct {
	OrganizationID string            `json:"organizationId,omitempty"`
	ConversationID string            `json:"conversationId"`
	Participant    Participant       `json:"participant"`
	Media          []Media           `json:"media"`
	InputVariables map[string]string `json:"inputVariables,omitempty"`
}

// OpenedParameters is the payload of the opened response. Media holds the
// single negotiated stream, or stays empty for probe connections.
type OpenedParameters struct {
	StartPaused bool    `json:"startPaused"`
	Media       []Media `json:"media"`
}

// CloseParameters is the payload of the carrier-initiated close.
type CloseParameters struct {
	Reason string `json:"reason,omitempty"`
}

// ClosedParameters acknowledges a close. Summary carries the ending
// analysis when one was produced in time.
type ClosedParameters struct {
	Summary map[string]any `json:"summary"`
}

// ErrorParameters is the payload of a carrier error message. RetryAfter is
// an ISO-8601 duration accompanying code 429.
type ErrorParameters struct {
	Code       int    `json:"code"`
	Message    string `json:"message,omitempty"`
	RetryAfter string `json:"retryAfter,omitempty"`
}

// DisconnectParameters asks the carrier to end the session. OutputVariables
// feed the flow engine after the call.
type DisconnectParameters struct {
	Reason          string            `json:"reason"`
	Info            string            `json:"info,omitempty"`
	OutputVariables map[string]string `json:"outputVariables,omitempty"`
}

// Entity is one item inside an event message.
type Entity struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventParameters is the payload of a server event message.
type EventParameters struct {
	Entities []Entity `json:"entities"`
}

// BargeInEvent builds the event payload announcing that the caller started
// speaking over agent playback.
func BargeInEvent() EventParameters {
	return EventParameters{Entities: []Entity{{Type: "barge_in", Data: map[string]any{}}}}
}

// NewEnvelope wraps a parameter payload into a protocol frame. A nil
// payload marshals to an empty object so pong keeps its parameters key.
func NewEnvelope(msgType string, seq, clientSeq int, id string, params any) (Envelope, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version:    ProtocolVersion,
		Type:       msgType,
		Seq:        seq,
		ClientSeq:  clientSeq,
		ID:         id,
		Parameters: raw,
	}, nil
}
