// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_audio

// Format identifies the encoding of an audio byte stream.
type Format string

const (
	FormatMuLaw    Format = "PCMU"
	FormatLinear16 Format = "L16"
)

// Config describes a concrete audio stream layout: encoding, sample rate and
// channel count. All carrier-side audio is µ-law 8 kHz mono; provider-side
// audio is either the same (pass-through) or linear PCM16 at 16/24 kHz.
type Config struct {
	Format     Format
	SampleRate int
	Channels   int
}

// BytesPerMillisecond returns how many bytes one millisecond of audio in this
// config occupies. µ-law packs one sample per byte; linear16 packs two.
func (c Config) BytesPerMillisecond() int {
	bytesPerSample := 1
	if c.Format == FormatLinear16 {
		bytesPerSample = 2
	}
	return c.SampleRate * c.Channels * bytesPerSample / 1000
}

// NewMulaw8khzMonoConfig is the carrier's native AudioHook media format.
func NewMulaw8khzMonoConfig() Config {
	return Config{Format: FormatMuLaw, SampleRate: 8000, Channels: 1}
}

// NewLinear16khzMonoConfig is the uplink format for providers that consume
// linear PCM (16 kHz input).
func NewLinear16khzMonoConfig() Config {
	return Config{Format: FormatLinear16, SampleRate: 16000, Channels: 1}
}

// NewLinear24khzMonoConfig is the downlink format for providers that produce
// linear PCM (24 kHz output).
func NewLinear24khzMonoConfig() Config {
	return Config{Format: FormatLinear16, SampleRate: 24000, Channels: 1}
}
