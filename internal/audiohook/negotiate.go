// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_audiohook

// Telephony audio the bridge can carry end to end.
const (
	FormatPCMU    = "PCMU"
	TelephonyRate = 8000
)

// IsProbe reports whether an open message is a Genesys connection probe:
// both the conversation id and the participant id are the all-zeros UUID.
// Probes get an opened response with empty media and no provider session.
func IsProbe(p OpenParameters) bool {
	return p.ConversationID == ZeroUUID && p.Participant.ID == ZeroUUID
}

// SelectMedia picks the first offered stream the bridge supports, currently
// PCMU at 8 kHz. The chosen entry must be echoed back unmodified. Returns
// false when nothing offered is usable; the caller then disconnects.
func SelectMedia(offered []Media) (Media, bool) {
	for _, m := range offered {
		if m.Format == FormatPCMU && m.Rate == TelephonyRate {
			return m, true
		}
	}
	return Media{}, false
}
