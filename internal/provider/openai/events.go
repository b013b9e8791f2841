// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_openai

import internal_provider "github.com/sonaralabs/audiobridge/internal/provider"

// =============================================================================
// Server event types (provider -> bridge)
// =============================================================================

const (
	evtSessionCreated = "session.created"
	evtSessionUpdated = "session.updated"
	evtError          = "error"
	evtAudioDelta     = "response.audio.delta"
	evtOutputDelta    = "response.output_audio.delta"
	evtSpeechStarted  = "input_audio_buffer.speech_started"
	evtSpeechStopped  = "input_audio_buffer.speech_stopped"
	evtResponseDone   = "response.done"
)

// serverEvent is the envelope of every provider event. Only the fields the
// bridge acts on are decoded; everything else is ignored.
type serverEvent struct {
	Type     string           `json:"type"`
	Code     int              `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
	Delta    string           `json:"delta,omitempty"`
	Response *responsePayload `json:"response,omitempty"`
}

type responsePayload struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Output   []outputItem   `json:"output,omitempty"`
	Usage    *usagePayload  `json:"usage,omitempty"`
}

// outputItem is one entry of a completed response: a message, a text item
// or a function call.
type outputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (r *responsePayload) metadataType() string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	t, _ := r.Metadata["type"].(string)
	return t
}

type usagePayload struct {
	InputTokenDetails struct {
		TextTokens          int `json:"text_tokens"`
		AudioTokens         int `json:"audio_tokens"`
		CachedTokensDetails struct {
			TextTokens  int `json:"text_tokens"`
			AudioTokens int `json:"audio_tokens"`
		} `json:"cached_tokens_details"`
	} `json:"input_token_details"`
	OutputTokenDetails struct {
		TextTokens  int `json:"text_tokens"`
		AudioTokens int `json:"audio_tokens"`
	} `json:"output_token_details"`
}

func (u *usagePayload) toUsage() internal_provider.TokenUsage {
	return internal_provider.TokenUsage{
		InputTextTokens:        u.InputTokenDetails.TextTokens,
		InputCachedTextTokens:  u.InputTokenDetails.CachedTokensDetails.TextTokens,
		InputAudioTokens:       u.InputTokenDetails.AudioTokens,
		InputCachedAudioTokens: u.InputTokenDetails.CachedTokensDetails.AudioTokens,
		OutputTextTokens:       u.OutputTokenDetails.TextTokens,
		OutputAudioTokens:      u.OutputTokenDetails.AudioTokens,
	}
}

// =============================================================================
// Client event types (bridge -> provider)
// =============================================================================

type sessionUpdateEvent struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Type             string                     `json:"type"`
	Model            string                     `json:"model"`
	Instructions     string                     `json:"instructions"`
	OutputModalities []string                   `json:"output_modalities"`
	Temperature      float64                    `json:"temperature,omitempty"`
	MaxOutputTokens  internal_provider.MaxTokens `json:"max_output_tokens"`
	Tools            []toolPayload              `json:"tools"`
	ToolChoice       string                     `json:"tool_choice"`
	Audio            audioPayload               `json:"audio"`
}

type toolPayload struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type audioPayload struct {
	Input  audioInputPayload  `json:"input"`
	Output audioOutputPayload `json:"output"`
}

type audioInputPayload struct {
	Format        formatPayload `json:"format"`
	TurnDetection turnDetection `json:"turn_detection"`
}

type audioOutputPayload struct {
	Format formatPayload `json:"format"`
	Voice  string        `json:"voice"`
}

type formatPayload struct {
	Type string `json:"type"`
	Rate int    `json:"rate,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareEvent struct {
	Type string `json:"type"`
}

type responseCreateEvent struct {
	Type     string        `json:"type"`
	Response *responseSpec `json:"response,omitempty"`
}

type responseSpec struct {
	Conversation     string            `json:"conversation,omitempty"`
	OutputModalities []string          `json:"output_modalities,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Instructions     string            `json:"instructions,omitempty"`
}

type itemCreateEvent struct {
	Type string      `json:"type"`
	Item itemPayload `json:"item"`
}

type itemPayload struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}
