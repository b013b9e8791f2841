// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_provider defines the model-provider abstraction the
// session controller talks to: session parameters, tool plumbing and the
// callback surface a realtime client drives during a call.
package internal_provider

import (
	"context"
	"encoding/json"
	"strconv"
)

// ToolDefinition declares one function exposed to the model. Parameters is
// a JSON-schema object with named properties and a required list.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one function invocation observed in a completed response.
type ToolCall struct {
	Name      string
	CallID    string
	Arguments map[string]any
}

// DisconnectRequest asks the session to end the carrier call.
type DisconnectRequest struct {
	Reason string
	Info   string
}

// ToolOutcome is what dispatching a tool call produces. Output goes back to
// the model as the function result. A non-nil Disconnect schedules a
// carrier disconnect once the model finishes its next response; Farewell is
// the closing instruction requested in between.
type ToolOutcome struct {
	Output     map[string]any
	Disconnect *DisconnectRequest
	Farewell   string
}

// ToolDispatcher resolves tool calls surfaced by the provider. Dispatch
// must never propagate handler errors; failures come back as structured
// error payloads in Output.
type ToolDispatcher interface {
	Definitions() []ToolDefinition
	Dispatch(ctx context.Context, call ToolCall) ToolOutcome
}

// Callbacks is the session surface a realtime client invokes from its read
// loop. All fields are optional.
type Callbacks struct {
	// OnAudio receives decoded downlink audio in the negotiated output
	// format.
	OnAudio func(frame []byte)
	// OnSpeechStarted fires when the provider's VAD detects the caller
	// talking over playback.
	OnSpeechStarted func()
	// OnDisconnect consumes a pending disconnect once the farewell
	// response has completed.
	OnDisconnect func(req DisconnectRequest)
	// OnClosed fires when the provider socket closes or the read loop
	// fails terminally.
	OnClosed func(err error)
}

// AudioFormat names a provider-side audio encoding.
type AudioFormat struct {
	Type string // "audio/pcmu" or "audio/pcm"
	Rate int
}

// MulawFormat is telephony audio passed through without transcoding.
func MulawFormat() AudioFormat { return AudioFormat{Type: "audio/pcmu", Rate: 8000} }

// PCMFormat is linear 16-bit audio at the given rate.
func PCMFormat(rate int) AudioFormat { return AudioFormat{Type: "audio/pcm", Rate: rate} }

// MaxTokens is a response token cap: either unbounded ("inf" on the wire)
// or a positive integer.
type MaxTokens struct {
	Inf bool
	N   int
}

// MaxTokensInf returns an unbounded cap.
func MaxTokensInf() MaxTokens { return MaxTokens{Inf: true} }

// MaxTokensN returns a bounded cap.
func MaxTokensN(n int) MaxTokens { return MaxTokens{N: n} }

func (m MaxTokens) MarshalJSON() ([]byte, error) {
	if m.Inf {
		return json.Marshal("inf")
	}
	return json.Marshal(m.N)
}

func (m MaxTokens) String() string {
	if m.Inf {
		return "inf"
	}
	return strconv.Itoa(m.N)
}

// SessionConfig carries everything negotiated with the provider at session
// start.
type SessionConfig struct {
	Model           string
	Voice           string
	Instructions    string
	Temperature     float64
	MaxOutputTokens MaxTokens
	InputFormat     AudioFormat
	OutputFormat    AudioFormat
	Tools           []ToolDefinition
}

// TokenUsage accumulates the provider's reported token counts for the most
// recent response.
type TokenUsage struct {
	InputTextTokens        int
	InputCachedTextTokens  int
	InputAudioTokens       int
	InputCachedAudioTokens int
	OutputTextTokens       int
	OutputAudioTokens      int
}

// Variables renders the usage as carrier output variables. Zeroes are
// reported as "0" so the counters are always populated.
func (u TokenUsage) Variables() map[string]string {
	return map[string]string{
		"TOTAL_INPUT_TEXT_TOKENS":         strconv.Itoa(u.InputTextTokens),
		"TOTAL_INPUT_CACHED_TEXT_TOKENS":  strconv.Itoa(u.InputCachedTextTokens),
		"TOTAL_INPUT_AUDIO_TOKENS":        strconv.Itoa(u.InputAudioTokens),
		"TOTAL_INPUT_CACHED_AUDIO_TOKENS": strconv.Itoa(u.InputCachedAudioTokens),
		"TOTAL_OUTPUT_TEXT_TOKENS":        strconv.Itoa(u.OutputTextTokens),
		"TOTAL_OUTPUT_AUDIO_TOKENS":       strconv.Itoa(u.OutputAudioTokens),
	}
}

// Client is a realtime model session. Connect must complete the provider
// handshake before returning; SendAudio streams caller audio; Summary asks
// for the ending analysis and blocks until the provider answers or ctx
// expires.
type Client interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte) error
	Summary(ctx context.Context) (map[string]any, error)
	Usage() TokenUsage
	Running() bool
	Close() error
}
