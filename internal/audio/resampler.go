// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_audio

import (
	"fmt"

	"github.com/sonaralabs/audiobridge/pkg/commons"
)

// Resampler converts audio bytes between two stream configs. Conversions are
// limited to the profiles this bridge actually negotiates: µ-law 8 kHz on the
// carrier side, and linear PCM16 at 8/16/24 kHz on the provider side.
type Resampler interface {
	Resample(data []byte, src, dst Config) ([]byte, error)
}

type linearResampler struct {
	logger commons.Logger
}

// NewResampler returns the default resampler: µ-law transcode at the edges,
// linear interpolation for rate conversion. Telephone-band audio tolerates
// linear interpolation well and it keeps the hot path allocation-light.
func NewResampler(logger commons.Logger) Resampler {
	return &linearResampler{logger: logger}
}

func (r *linearResampler) Resample(data []byte, src, dst Config) ([]byte, error) {
	if src == dst {
		return data, nil
	}
	if src.Channels != 1 || dst.Channels != 1 {
		return nil, fmt.Errorf("resample: only mono audio is supported")
	}

	// Normalize to linear PCM16 samples at the source rate.
	var pcm []byte
	switch src.Format {
	case FormatMuLaw:
		pcm = DecodeMuLawToPCM16(data)
	case FormatLinear16:
		pcm = data
	default:
		return nil, fmt.Errorf("resample: unsupported source format %q", src.Format)
	}

	samples := pcm16Samples(pcm)
	if src.SampleRate != dst.SampleRate {
		samples = resampleLinear(samples, src.SampleRate, dst.SampleRate)
	}

	switch dst.Format {
	case FormatMuLaw:
		return EncodePCM16ToMuLaw(pcm16Bytes(samples)), nil
	case FormatLinear16:
		return pcm16Bytes(samples), nil
	default:
		return nil, fmt.Errorf("resample: unsupported destination format %q", dst.Format)
	}
}

// resampleLinear converts samples between rates using linear interpolation.
func resampleLinear(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		return []int16{}
	}

	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
