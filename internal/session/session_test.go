// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_session

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audiohook "github.com/sonaralabs/audiobridge/internal/audiohook"
	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	internal_ratelimit "github.com/sonaralabs/audiobridge/internal/ratelimit"
	internal_tools "github.com/sonaralabs/audiobridge/internal/tools"
	"github.com/sonaralabs/audiobridge/pkg/commons"
)

// ============================================================
// Fakes
// ============================================================

type wsFrame struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	incoming  chan wsFrame
	outgoing  chan wsFrame
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan wsFrame, 16),
		outgoing: make(chan wsFrame, 64),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	case frame := <-c.incoming:
		return frame.messageType, frame.data, nil
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)
	select {
	case <-c.done:
		return errors.New("use of closed connection")
	case c.outgoing <- wsFrame{messageType: messageType, data: copied}:
		return nil
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sendEnvelope(t *testing.T, msgType string, seq int, params any) {
	t.Helper()
	env, err := internal_audiohook.NewEnvelope(msgType, seq, 0, "session-1", params)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	c.incoming <- wsFrame{messageType: websocket.TextMessage, data: data}
}

func (c *fakeConn) sendAudio(data []byte) {
	c.incoming <- wsFrame{messageType: websocket.BinaryMessage, data: data}
}

// nextText returns the next JSON envelope the session wrote, skipping binary
// frames.
func (c *fakeConn) nextText(t *testing.T) internal_audiohook.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-c.outgoing:
			if frame.messageType != websocket.TextMessage {
				continue
			}
			var env internal_audiohook.Envelope
			require.NoError(t, json.Unmarshal(frame.data, &env))
			return env
		case <-deadline:
			t.Fatal("timed out waiting for a carrier message")
		}
	}
}

// nextBinary returns the next binary frame the session wrote, skipping JSON.
func (c *fakeConn) nextBinary(t *testing.T) []byte {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-c.outgoing:
			if frame.messageType != websocket.BinaryMessage {
				continue
			}
			return frame.data
		case <-deadline:
			t.Fatal("timed out waiting for a binary frame")
		}
	}
}

func (c *fakeConn) expectNoText(t *testing.T, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case frame := <-c.outgoing:
			if frame.messageType == websocket.TextMessage {
				t.Fatalf("unexpected carrier message: %s", frame.data)
			}
		case <-deadline:
			return
		}
	}
}

func (c *fakeConn) expectNoBinary(t *testing.T, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case frame := <-c.outgoing:
			if frame.messageType == websocket.BinaryMessage {
				t.Fatalf("unexpected binary frame of %d bytes", len(frame.data))
			}
		case <-deadline:
			return
		}
	}
}

type fakeRealtime struct {
	running atomic.Bool
	closed  atomic.Bool

	mu         sync.Mutex
	audio      [][]byte
	summary    map[string]any
	summaryErr error
	usage      internal_provider.TokenUsage
	connectErr error
}

func (f *fakeRealtime) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.running.Store(true)
	return nil
}

func (f *fakeRealtime) SendAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]byte, len(frame))
	copy(copied, frame)
	f.audio = append(f.audio, copied)
	return nil
}

func (f *fakeRealtime) Summary(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return f.summary, nil
}

func (f *fakeRealtime) Usage() internal_provider.TokenUsage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage
}

func (f *fakeRealtime) Running() bool { return f.running.Load() }

func (f *fakeRealtime) Close() error {
	f.running.Store(false)
	f.closed.Store(true)
	return nil
}

func (f *fakeRealtime) audioFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

type factoryCapture struct {
	mu        sync.Mutex
	calls     int
	session   internal_provider.SessionConfig
	callbacks internal_provider.Callbacks
	provider  *fakeRealtime
}

func (f *factoryCapture) factory(
	_ commons.Logger,
	_ string,
	session internal_provider.SessionConfig,
	callbacks internal_provider.Callbacks,
	_ internal_provider.ToolDispatcher,
) (internal_provider.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.session = session
	f.callbacks = callbacks
	return f.provider, nil
}

func (f *factoryCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *factoryCapture) sessionConfig() internal_provider.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *factoryCapture) sessionCallbacks() internal_provider.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks
}

// ============================================================
// Harness
// ============================================================

func testOptions(capture *factoryCapture) Options {
	return Options{
		Model:              "gpt-realtime",
		DefaultVoice:       "sage",
		DefaultTemperature: 0.8,
		DefaultAgentName:   "AI Assistant",
		DefaultCompanyName: "Our Company",
		AudioProfile:       ProfilePCMU,

		BufferFrames:  50,
		FrameInterval: time.Millisecond,
		FrameBytes:    4,

		MessageRate:  100,
		MessageBurst: 100,
		BinaryRate:   1000,
		BinaryBurst:  1000,
		MaxRetries:   3,
		Phases: []internal_ratelimit.Phase{
			{Window: time.Duration(math.MaxInt64), Delay: 300 * time.Millisecond},
		},

		ToolChoice:           internal_tools.ChoiceAuto,
		MaxToolCalls:         10,
		MaxToolArgumentBytes: 16 * 1024,

		Provider: capture.factory,
	}
}

func newTestSession(t *testing.T, mutate func(*Options)) (*Session, *fakeConn, *factoryCapture) {
	t.Helper()
	capture := &factoryCapture{provider: &fakeRealtime{
		summary: map[string]any{"main_topics": []any{"billing"}},
	}}
	opts := testOptions(capture)
	if mutate != nil {
		mutate(&opts)
	}

	conn := newFakeConn()
	session := New(commons.NewNopLogger(), conn, opts)
	go func() { _ = session.Run(context.Background()) }()
	t.Cleanup(func() { _ = conn.Close() })
	return session, conn, capture
}

func pcmuMedia() []internal_audiohook.Media {
	return []internal_audiohook.Media{
		{Type: "audio", Format: "L16", Channels: []string{"external"}, Rate: 44100},
		{Type: "audio", Format: "PCMU", Channels: []string{"external"}, Rate: 8000},
	}
}

func openParams(vars map[string]string) internal_audiohook.OpenParameters {
	return internal_audiohook.OpenParameters{
		OrganizationID: "org-1",
		ConversationID: "d7f52d34-13bd-4a43-a438-b14bd4cdb0a6",
		Participant:    internal_audiohook.Participant{ID: "b9a1f1a2-6a8e-4f8d-9c3a-0d6a7b1c2d3e"},
		Media:          pcmuMedia(),
		InputVariables: vars,
	}
}

// openSession drives the open handshake and waits for the provider to come
// up.
func openSession(t *testing.T, conn *fakeConn, capture *factoryCapture, vars map[string]string) internal_audiohook.Envelope {
	t.Helper()
	conn.sendEnvelope(t, internal_audiohook.TypeOpen, 1, openParams(vars))
	opened := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeOpened, opened.Type)
	require.Eventually(t, func() bool { return capture.provider.Running() }, 2*time.Second, 5*time.Millisecond)
	return opened
}

// ============================================================
// Open and negotiation
// ============================================================

func TestSession_ProbeOpensWithEmptyMedia(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeOpen, 1, internal_audiohook.OpenParameters{
		ConversationID: internal_audiohook.ZeroUUID,
		Participant:    internal_audiohook.Participant{ID: internal_audiohook.ZeroUUID},
		Media:          pcmuMedia(),
	})

	opened := conn.nextText(t)
	assert.Equal(t, internal_audiohook.TypeOpened, opened.Type)
	assert.Equal(t, "2", opened.Version)
	assert.Equal(t, 1, opened.Seq)
	assert.Equal(t, 1, opened.ClientSeq)
	assert.Equal(t, "session-1", opened.ID)

	var params internal_audiohook.OpenedParameters
	require.NoError(t, json.Unmarshal(opened.Parameters, &params))
	assert.False(t, params.StartPaused)
	assert.NotNil(t, params.Media)
	assert.Empty(t, params.Media, "probe answers with an empty media list")

	assert.Zero(t, capture.callCount(), "probes must not start a provider session")
}

func TestSession_OpenEchoesNegotiatedMedia(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	opened := openSession(t, conn, capture, nil)

	var params internal_audiohook.OpenedParameters
	require.NoError(t, json.Unmarshal(opened.Parameters, &params))
	require.Len(t, params.Media, 1)
	assert.Equal(t, "PCMU", params.Media[0].Format)
	assert.Equal(t, 8000, params.Media[0].Rate)
	assert.Equal(t, []string{"external"}, params.Media[0].Channels, "chosen media is echoed verbatim")

	require.Equal(t, 1, capture.callCount())
	cfg := capture.sessionConfig()
	assert.Equal(t, "gpt-realtime", cfg.Model)
	assert.Equal(t, "sage", cfg.Voice)
	assert.InDelta(t, 0.8, cfg.Temperature, 1e-9)
	assert.True(t, cfg.MaxOutputTokens.Inf)
	assert.Equal(t, "audio/pcmu", cfg.InputFormat.Type)
	assert.Equal(t, "audio/pcmu", cfg.OutputFormat.Type)
	assert.Contains(t, cfg.Instructions, "[TIER 1 - MASTER INSTRUCTIONS - HIGHEST PRIORITY]")

	names := make([]string, 0, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, internal_tools.ToolEndConversation)
	assert.Contains(t, names, internal_tools.ToolEscalate)
}

func TestSession_OpenWithoutSupportedMediaDisconnects(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)

	params := openParams(nil)
	params.Media = []internal_audiohook.Media{{Type: "audio", Format: "L16", Rate: 44100}}
	conn.sendEnvelope(t, internal_audiohook.TypeOpen, 1, params)

	msg := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeDisconnect, msg.Type)

	var disconnect internal_audiohook.DisconnectParameters
	require.NoError(t, json.Unmarshal(msg.Parameters, &disconnect))
	assert.Equal(t, internal_audiohook.ReasonError, disconnect.Reason)
	assert.Equal(t, "No supported format found", disconnect.Info)
	assert.Zero(t, capture.callCount())
}

func TestSession_InputVariablesOverrideDefaults(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, map[string]string{
		"OPENAI_VOICE":             "alloy",
		"OPENAI_MODEL":             "gpt-realtime-mini",
		"OPENAI_TEMPERATURE":       "0.9",
		"OPENAI_MAX_OUTPUT_TOKENS": "2048",
		"AGENT_NAME":               "Dana",
		" COMPANY_NAME ":           "Acme Utilities",
	})

	cfg := capture.sessionConfig()
	assert.Equal(t, "alloy", cfg.Voice)
	assert.Equal(t, "gpt-realtime-mini", cfg.Model)
	assert.InDelta(t, 0.9, cfg.Temperature, 1e-9)
	assert.Equal(t, "2048", cfg.MaxOutputTokens.String())
	assert.Contains(t, cfg.Instructions, "Dana")
	assert.Contains(t, cfg.Instructions, "Acme Utilities", "input variable keys are matched after trimming")
}

func TestSession_OutOfRangeTuningFallsBackToDefaults(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, map[string]string{
		"OPENAI_TEMPERATURE":       "2.0",
		"OPENAI_MAX_OUTPUT_TOKENS": "99999",
	})

	cfg := capture.sessionConfig()
	assert.InDelta(t, 0.8, cfg.Temperature, 1e-9)
	assert.True(t, cfg.MaxOutputTokens.Inf)
}

// ============================================================
// Keepalive and sequencing
// ============================================================

func TestSession_PingPong(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypePing, 2, nil)
	pong := conn.nextText(t)
	assert.Equal(t, internal_audiohook.TypePong, pong.Type)
	assert.Equal(t, 2, pong.Seq, "server seq keeps incrementing across message types")
	assert.Equal(t, 2, pong.ClientSeq)
	assert.Equal(t, "{}", string(pong.Parameters))
}

// ============================================================
// Audio bridging
// ============================================================

func TestSession_UplinkAudioForwardedToProvider(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	conn.sendAudio([]byte{0x7F, 0x7F, 0x7F, 0x7F})
	require.Eventually(t, func() bool {
		return len(capture.provider.audioFrames()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{0x7F, 0x7F, 0x7F, 0x7F}, capture.provider.audioFrames()[0])
}

func TestSession_UplinkAudioDroppedBeforeProviderReady(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)

	conn.sendAudio([]byte{0x7F, 0x7F})
	conn.sendEnvelope(t, internal_audiohook.TypeOpen, 2, openParams(nil))
	conn.nextText(t)
	require.Eventually(t, func() bool { return capture.provider.Running() }, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, capture.provider.audioFrames(), "frames before the provider is up are discarded")
}

func TestSession_DownlinkAudioPacedToCarrier(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	capture.sessionCallbacks().OnAudio([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	first := conn.nextBinary(t)
	second := conn.nextBinary(t)
	assert.Equal(t, []byte{1, 2, 3, 4}, first)
	assert.Equal(t, []byte{5, 6, 7, 8}, second)
}

func TestSession_BargeInInterruptsPlaybackAndNotifiesCarrier(t *testing.T) {
	session, conn, capture := newTestSession(t, func(opts *Options) {
		// A huge interval freezes the pacer so queued frames stay queued.
		opts.FrameInterval = time.Hour
	})
	openSession(t, conn, capture, nil)

	callbacks := capture.sessionCallbacks()
	callbacks.OnAudio([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.pacer != nil && session.pacer.Queued() > 0
	}, 2*time.Second, 5*time.Millisecond)

	callbacks.OnSpeechStarted()

	event := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeEvent, event.Type)
	var params internal_audiohook.EventParameters
	require.NoError(t, json.Unmarshal(event.Parameters, &params))
	require.Len(t, params.Entities, 1)
	assert.Equal(t, "barge_in", params.Entities[0].Type)

	session.mu.Lock()
	queued := session.pacer.Queued()
	session.mu.Unlock()
	assert.Zero(t, queued, "barge-in discards queued playback")
}

// ============================================================
// Disconnect and close
// ============================================================

func TestSession_ProviderDisconnectCarriesOutputVariables(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	capture.provider.usage = internal_provider.TokenUsage{
		InputTextTokens:   120,
		InputAudioTokens:  450,
		OutputAudioTokens: 300,
	}
	openSession(t, conn, capture, nil)

	capture.sessionCallbacks().OnDisconnect(internal_provider.DisconnectRequest{
		Reason: "completed",
		Info:   "Caller paid their bill",
	})

	msg := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeDisconnect, msg.Type)
	var disconnect internal_audiohook.DisconnectParameters
	require.NoError(t, json.Unmarshal(msg.Parameters, &disconnect))
	assert.Equal(t, "completed", disconnect.Reason)
	assert.Equal(t, "Caller paid their bill", disconnect.Info)

	vars := disconnect.OutputVariables
	assert.Contains(t, vars["CONVERSATION_SUMMARY"], "billing")
	assert.NotEmpty(t, vars["CONVERSATION_DURATION"])
	assert.Equal(t, "120", vars["TOTAL_INPUT_TEXT_TOKENS"])
	assert.Equal(t, "450", vars["TOTAL_INPUT_AUDIO_TOKENS"])
	assert.Equal(t, "300", vars["TOTAL_OUTPUT_AUDIO_TOKENS"])
	assert.Equal(t, "0", vars["TOTAL_OUTPUT_TEXT_TOKENS"], "zero counters are still reported")
}

func TestSession_DisconnectTrailsFarewellAudio(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	callbacks := capture.sessionCallbacks()
	callbacks.OnAudio([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	callbacks.OnDisconnect(internal_provider.DisconnectRequest{
		Reason: "completed",
		Info:   "caller done",
	})

	var kinds []int
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-conn.outgoing:
			kinds = append(kinds, frame.messageType)
			if frame.messageType != websocket.TextMessage {
				continue
			}
			var env internal_audiohook.Envelope
			require.NoError(t, json.Unmarshal(frame.data, &env))
			require.Equal(t, internal_audiohook.TypeDisconnect, env.Type)
			assert.Equal(t,
				[]int{websocket.BinaryMessage, websocket.BinaryMessage, websocket.TextMessage},
				kinds, "every queued farewell frame precedes the disconnect")
			return
		case <-deadline:
			t.Fatal("timed out waiting for the disconnect frame")
		}
	}
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	session, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	session.Disconnect(internal_audiohook.ReasonCompleted, "done")
	session.Disconnect(internal_audiohook.ReasonError, "again")

	msg := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeDisconnect, msg.Type)
	conn.expectNoText(t, 200*time.Millisecond)
}

func TestSession_CloseAnswersWithSummaryAndTearsDown(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeClose, 2, internal_audiohook.CloseParameters{Reason: "end"})

	closed := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeClosed, closed.Type)
	var params internal_audiohook.ClosedParameters
	require.NoError(t, json.Unmarshal(closed.Parameters, &params))
	assert.Equal(t, []any{"billing"}, params.Summary["main_topics"])

	require.Eventually(t, func() bool { return capture.provider.closed.Load() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return conn.closed() }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_SummaryFailureReportsError(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	capture.provider.summaryErr = errors.New("model went away")
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeClose, 2, nil)
	closed := conn.nextText(t)
	var params internal_audiohook.ClosedParameters
	require.NoError(t, json.Unmarshal(closed.Parameters, &params))
	assert.Equal(t, "Timeout generating summary", params.Summary["error"])
}

// ============================================================
// Carrier rate limiting
// ============================================================

func TestSession_BackoffSkipsNonErrorMessages(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeError, 2, internal_audiohook.ErrorParameters{Code: 429})
	conn.sendEnvelope(t, internal_audiohook.TypePing, 3, nil)
	conn.expectNoText(t, 150*time.Millisecond)

	// After the backoff window the session answers pings again.
	require.Eventually(t, func() bool {
		conn.sendEnvelope(t, internal_audiohook.TypePing, 4, nil)
		select {
		case frame := <-conn.outgoing:
			return frame.messageType == websocket.TextMessage
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 100*time.Millisecond)
}

func TestSession_BackoffSuspendsDownlinkAudio(t *testing.T) {
	session, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeError, 2, internal_audiohook.ErrorParameters{
		Code:       429,
		RetryAfter: "PT1S",
	})
	require.Eventually(t, func() bool { return session.backoff.InBackoff() }, 2*time.Second, 5*time.Millisecond)

	capture.sessionCallbacks().OnAudio([]byte{1, 2, 3, 4})
	conn.expectNoBinary(t, 300*time.Millisecond)

	// Once the retryAfter window passes, the queued frame goes out.
	frame := conn.nextBinary(t)
	assert.Equal(t, []byte{1, 2, 3, 4}, frame)
}

func TestSession_RateLimitExhaustionDisconnects(t *testing.T) {
	_, conn, capture := newTestSession(t, func(opts *Options) {
		opts.MaxRetries = 1
	})
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeError, 2, internal_audiohook.ErrorParameters{Code: 429})
	conn.sendEnvelope(t, internal_audiohook.TypeError, 3, internal_audiohook.ErrorParameters{Code: 429})

	msg := conn.nextText(t)
	require.Equal(t, internal_audiohook.TypeDisconnect, msg.Type)
	var disconnect internal_audiohook.DisconnectParameters
	require.NoError(t, json.Unmarshal(msg.Parameters, &disconnect))
	assert.Equal(t, internal_audiohook.ReasonError, disconnect.Reason)
	assert.Equal(t, "Rate limit max retries exceeded", disconnect.Info)
}

func TestSession_NonRateLimitErrorIsLoggedAndDropped(t *testing.T) {
	_, conn, capture := newTestSession(t, nil)
	openSession(t, conn, capture, nil)

	conn.sendEnvelope(t, internal_audiohook.TypeError, 2, internal_audiohook.ErrorParameters{
		Code:    500,
		Message: "something broke",
	})
	conn.expectNoText(t, 150*time.Millisecond)

	conn.sendEnvelope(t, internal_audiohook.TypePing, 3, nil)
	pong := conn.nextText(t)
	assert.Equal(t, internal_audiohook.TypePong, pong.Type, "session keeps serving after a non-429 error")
}
