// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_audio

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// MuLawSilence is the µ-law byte for a zero-amplitude sample. Downlink frames
// are padded with it when a partial frame must be flushed.
const MuLawSilence = 0xFF

// DecodeMuLawToPCM16 expands µ-law bytes to 16-bit little-endian linear PCM.
// The output is twice the length of the input.
func DecodeMuLawToPCM16(ulaw []byte) []byte {
	return g711.DecodeUlaw(ulaw)
}

// EncodePCM16ToMuLaw compresses 16-bit little-endian linear PCM to µ-law.
// The output is half the length of the input; a trailing odd byte is ignored.
func EncodePCM16ToMuLaw(pcm16 []byte) []byte {
	return g711.EncodeUlaw(pcm16)
}

// pcm16Samples reinterprets little-endian PCM16 bytes as int16 samples.
func pcm16Samples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// pcm16Bytes serializes int16 samples back to little-endian PCM16 bytes.
func pcm16Bytes(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

// PadMuLaw returns frame extended with µ-law silence bytes up to size.
// Frames already at or beyond size are returned unchanged.
func PadMuLaw(frame []byte, size int) []byte {
	if len(frame) >= size {
		return frame
	}
	padded := make([]byte, size)
	copy(padded, frame)
	for i := len(frame); i < size; i++ {
		padded[i] = MuLawSilence
	}
	return padded
}
