// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_audiohook

import (
	"fmt"
	"net/http"
	"strings"
)

// Subprotocol is offered by Genesys on upgrade and must be echoed when
// requested.
const Subprotocol = "audiohook"

// HeaderAPIKey carries the shared secret Genesys presents on upgrade.
const HeaderAPIKey = "X-Api-Key"

// RequiredHeaders must all be present on the upgrade request, x-api-key
// aside, before the socket is accepted.
var RequiredHeaders = []string{
	"Audiohook-Organization-Id",
	"Audiohook-Correlation-Id",
	"Audiohook-Session-Id",
	"Upgrade",
	"Sec-Websocket-Version",
	"Sec-Websocket-Key",
}

// HandshakeError rejects an upgrade request with a specific HTTP status.
type HandshakeError struct {
	Status  int
	Message string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected (%d): %s", e.Status, e.Message)
}

// ValidateHandshake checks an AudioHook upgrade request before the
// websocket upgrade is attempted: API key first, then the required headers,
// then the websocket-specific values. Returns nil when the request may be
// upgraded.
func ValidateHandshake(r *http.Request, expectedAPIKey string) *HandshakeError {
	apiKey := r.Header.Get(HeaderAPIKey)
	if apiKey == "" {
		return &HandshakeError{Status: http.StatusUnauthorized, Message: "Missing 'x-api-key' header"}
	}
	if apiKey != expectedAPIKey {
		return &HandshakeError{Status: http.StatusUnauthorized, Message: "Invalid API Key"}
	}

	var missing []string
	for _, h := range RequiredHeaders {
		if r.Header.Get(h) == "" {
			missing = append(missing, strings.ToLower(h))
		}
	}
	if len(missing) > 0 {
		return &HandshakeError{
			Status:  http.StatusBadRequest,
			Message: "Missing required headers: " + strings.Join(missing, ", "),
		}
	}

	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return &HandshakeError{Status: http.StatusBadRequest, Message: "WebSocket upgrade required"}
	}
	if r.Header.Get("Sec-Websocket-Version") != "13" {
		return &HandshakeError{Status: http.StatusBadRequest, Message: "WebSocket version 13 required"}
	}
	return nil
}

// SelectSubprotocol picks "audiohook" from the client's requested
// subprotocols, or "" when the client did not ask for it.
func SelectSubprotocol(r *http.Request) string {
	for _, requested := range r.Header.Values("Sec-Websocket-Protocol") {
		for _, p := range strings.Split(requested, ",") {
			if strings.TrimSpace(p) == Subprotocol {
				return Subprotocol
			}
		}
	}
	return ""
}
