// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonaralabs/audiobridge/config"
	internal_audiohook "github.com/sonaralabs/audiobridge/internal/audiohook"
	"github.com/sonaralabs/audiobridge/pkg/commons"
)

func testAppConfig() *config.AppConfig {
	return &config.AppConfig{
		ServiceName: "audiobridge",
		Host:        "127.0.0.1",
		Port:        0,
		LogLevel:    "info",

		CarrierPath:   "/audiohook",
		CarrierAPIKey: "carrier-key",

		OpenAIAPIKey:           "sk-test",
		OpenAIRealtimeURL:      "wss://example.invalid/v1/realtime",
		OpenAIModel:            "gpt-realtime",
		DefaultVoice:           "sage",
		DefaultTemperature:     0.8,
		DefaultMaxOutputTokens: "inf",
		DefaultAgentName:       "AI Assistant",
		DefaultCompanyName:     "Our Company",
		ProviderAudioProfile:   "pcmu",

		EndingPrompt: "Summarize the call as JSON.",

		AudioBufferFrames: 50,
		FrameSendInterval: 0.15,
		AudioFrameBytes:   1600,

		MessageRateLimit:  5,
		MessageBurstLimit: 25,
		BinaryRateLimit:   5,
		BinaryBurstLimit:  25,

		RateLimitMaxRetries: 3,

		ToolChoice:           "auto",
		MaxToolCalls:         10,
		MaxToolArgumentBytes: 16384,

		GenesysHTTPTimeoutSeconds:   10,
		GenesysHTTPRetryMax:         2,
		GenesysHTTPRetryBackoffSecs: 0.5,
		GenesysTokenCacheTTLSeconds: 3600,
		GenesysMaxToolsPerSession:   8,

		ShutdownGraceSeconds: 1,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := New(commons.NewNopLogger(), testAppConfig())
	ts := httptest.NewServer(server.Engine())
	t.Cleanup(ts.Close)
	return ts
}

func upgradeHeaders() http.Header {
	headers := http.Header{}
	headers.Set("X-Api-Key", "carrier-key")
	headers.Set("Audiohook-Organization-Id", "11e2d160-cd0c-4a2a-9a4a-9b34ae4dd2a2")
	headers.Set("Audiohook-Correlation-Id", "ff6aa429-9417-4c4b-b421-4bed3b67d2b9")
	headers.Set("Audiohook-Session-Id", "f4b3d160-9417-4c4b-b421-4bed3b67d2b9")
	return headers
}

// ============================================================
// HTTP surface
// ============================================================

func TestServer_HealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK\n", string(body))
}

func TestServer_UnknownPathIs404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RejectsMissingAPIKey(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audiohook"

	headers := upgradeHeaders()
	headers.Del("X-Api-Key")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RejectsWrongAPIKey(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audiohook"

	headers := upgradeHeaders()
	headers.Set("X-Api-Key", "wrong")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RejectsMissingProtocolHeaders(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audiohook"

	headers := upgradeHeaders()
	headers.Del("Audiohook-Session-Id")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ============================================================
// Probe round trip over a real upgrade
// ============================================================

func TestServer_ProbeRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audiohook"

	dialer := websocket.Dialer{Subprotocols: []string{"audiohook"}}
	conn, resp, err := dialer.Dial(wsURL, upgradeHeaders())
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()
	assert.Equal(t, "audiohook", resp.Header.Get("Sec-Websocket-Protocol"))

	open, err := internal_audiohook.NewEnvelope(internal_audiohook.TypeOpen, 1, 0, "probe-1",
		internal_audiohook.OpenParameters{
			ConversationID: internal_audiohook.ZeroUUID,
			Participant:    internal_audiohook.Participant{ID: internal_audiohook.ZeroUUID},
			Media: []internal_audiohook.Media{
				{Type: "audio", Format: "PCMU", Channels: []string{"external"}, Rate: 8000},
			},
		})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(open))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var opened internal_audiohook.Envelope
	require.NoError(t, conn.ReadJSON(&opened))
	assert.Equal(t, internal_audiohook.TypeOpened, opened.Type)
	assert.Equal(t, 1, opened.Seq)
	assert.Equal(t, 1, opened.ClientSeq)
	assert.Equal(t, "probe-1", opened.ID)

	var params internal_audiohook.OpenedParameters
	require.NoError(t, json.Unmarshal(opened.Parameters, &params))
	assert.Empty(t, params.Media)
}
