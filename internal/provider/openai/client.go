// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_openai implements the realtime model session against the
// OpenAI Realtime API over a WebSocket. One Client serves one carrier call.
package internal_openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	internal_ratelimit "github.com/sonaralabs/audiobridge/internal/ratelimit"
	"github.com/sonaralabs/audiobridge/pkg/commons"
	"github.com/sonaralabs/audiobridge/pkg/utils"
)

const (
	handshakeTimeout = 10 * time.Second
	setupReadTimeout = 10 * time.Second
	maxMessageSize   = 8 * 1024 * 1024
)

// Options configures a realtime client for one session.
type Options struct {
	APIKey       string
	URL          string // base wss endpoint; the model id is appended as a query parameter
	Session      internal_provider.SessionConfig
	Callbacks    internal_provider.Callbacks
	Dispatcher   internal_provider.ToolDispatcher
	EndingPrompt string
	MaxRetries   int
	Phases       []internal_ratelimit.Phase
}

// Client is a realtime session against the provider. Sends are serialized
// through writeMu; the read loop is the only reader.
type Client struct {
	logger    commons.Logger
	sessionID string
	opts      Options
	backoff   *internal_ratelimit.Backoff
	started   time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
	running atomic.Bool
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	mu                sync.Mutex
	usage             internal_provider.TokenUsage
	summaryWaiter     chan map[string]any
	pendingDisconnect *internal_provider.DisconnectRequest
}

// NewClient creates a realtime client. Connect must be called before any
// other method.
func NewClient(logger commons.Logger, sessionID string, opts Options) *Client {
	return &Client{
		logger:    logger.With("component", "openai", "session_id", sessionID),
		sessionID: sessionID,
		opts:      opts,
		backoff:   internal_ratelimit.NewBackoff(opts.MaxRetries, opts.Phases),
		started:   time.Now(),
		done:      make(chan struct{}),
	}
}

// Connect dials the provider, completes the session handshake and starts
// the read loop. A 429 during the handshake backs off and retries within
// the configured budget.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.opts.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	for {
		start := time.Now()
		conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
				if retryErr := c.backoffSleep(ctx, resp.Header); retryErr != nil {
					return retryErr
				}
				continue
			}
			return fmt.Errorf("failed to connect to provider: %w", err)
		}
		conn.SetReadLimit(maxMessageSize)
		c.conn = conn
		c.running.Store(true)
		c.logger.Infof("Provider connection established in %s, model=%s", time.Since(start), c.opts.Session.Model)

		retry, err := c.setupSession(ctx)
		if err != nil {
			c.teardownConn()
			return err
		}
		if retry {
			c.teardownConn()
			continue
		}

		c.backoff.Reset()
		utils.Go(ctx, func() {
			c.readLoop(ctx)
		})
		return nil
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid provider URL: %w", err)
	}
	q := u.Query()
	q.Set("model", c.opts.Session.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// setupSession runs the in-band handshake: await session.created, push
// session.update, await session.updated. Returns retry=true when a 429 was
// absorbed and the dial should start over.
func (c *Client) setupSession(ctx context.Context) (retry bool, err error) {
	ev, err := c.readEvent(setupReadTimeout)
	if err != nil {
		return false, fmt.Errorf("reading session.created: %w", err)
	}
	if ev.Type == evtError {
		if ev.Code == http.StatusTooManyRequests {
			if retryErr := c.backoffSleep(ctx, nil); retryErr != nil {
				return false, retryErr
			}
			return true, nil
		}
		return false, fmt.Errorf("provider error during handshake: %s", ev.Message)
	}
	if ev.Type != evtSessionCreated {
		return false, fmt.Errorf("expected session.created, got %q", ev.Type)
	}

	if err := c.send(c.sessionUpdate()); err != nil {
		return false, fmt.Errorf("sending session.update: %w", err)
	}

	for {
		ev, err := c.readEvent(setupReadTimeout)
		if err != nil {
			return false, fmt.Errorf("awaiting session.updated: %w", err)
		}
		switch {
		case ev.Type == evtError && ev.Code == http.StatusTooManyRequests:
			if retryErr := c.backoffSleep(ctx, nil); retryErr != nil {
				return false, retryErr
			}
			return true, nil
		case ev.Type == evtError:
			return false, fmt.Errorf("provider rejected session update: %s", ev.Message)
		case ev.Type == evtSessionUpdated:
			c.logger.Infof("Provider session updated: voice=%s, tools=%d", c.opts.Session.Voice, len(c.opts.Session.Tools))
			return false, nil
		}
	}
}

func (c *Client) sessionUpdate() sessionUpdateEvent {
	tools := make([]toolPayload, 0, len(c.opts.Session.Tools))
	for _, t := range c.opts.Session.Tools {
		tools = append(tools, toolPayload{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return sessionUpdateEvent{
		Type: "session.update",
		Session: sessionPayload{
			Type:             "realtime",
			Model:            c.opts.Session.Model,
			Instructions:     c.opts.Session.Instructions,
			OutputModalities: []string{"audio"},
			Temperature:      c.opts.Session.Temperature,
			MaxOutputTokens:  c.opts.Session.MaxOutputTokens,
			Tools:            tools,
			ToolChoice:       "auto",
			Audio: audioPayload{
				Input: audioInputPayload{
					Format:        c.formatPayload(c.opts.Session.InputFormat),
					TurnDetection: turnDetection{Type: "semantic_vad"},
				},
				Output: audioOutputPayload{
					Format: c.formatPayload(c.opts.Session.OutputFormat),
					Voice:  c.opts.Session.Voice,
				},
			},
		},
	}
}

func (c *Client) formatPayload(f internal_provider.AudioFormat) formatPayload {
	if f.Type == "audio/pcm" {
		return formatPayload{Type: f.Type, Rate: f.Rate}
	}
	return formatPayload{Type: f.Type}
}

// backoffSleep consumes one retry and sleeps for the resolved delay. An
// exhausted budget returns an error.
func (c *Client) backoffSleep(ctx context.Context, headers http.Header) error {
	if !c.backoff.Begin() {
		return fmt.Errorf("rate limit max retries exceeded (%d)", c.opts.MaxRetries)
	}
	delay := c.backoff.ResolveDelay("", headers, time.Since(c.started))
	c.logger.Warnf("Provider rate limited, attempt %d/%d, backing off for %s", c.backoff.Retries(), c.opts.MaxRetries, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.backoff.End()
		return ctx.Err()
	case <-timer.C:
	}
	c.backoff.End()
	return nil
}

func (c *Client) readEvent(timeout time.Duration) (*serverEvent, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.conn.SetReadDeadline(time.Time{})

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("malformed provider event: %w", err)
	}
	return &ev, nil
}

// readLoop interprets provider events until the socket closes or the
// session is torn down.
func (c *Client) readLoop(ctx context.Context) {
	var loopErr error
	defer func() {
		c.running.Store(false)
		if cb := c.opts.Callbacks.OnClosed; cb != nil {
			cb(loopErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("Provider socket closed normally")
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Errorf("Provider read error: %v", err)
			loopErr = err
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.logger.Errorf("Failed to unmarshal provider event: %v", err)
			continue
		}
		c.handleEvent(ctx, &ev)
	}
}

func (c *Client) handleEvent(ctx context.Context, ev *serverEvent) {
	switch ev.Type {
	case evtAudioDelta, evtOutputDelta:
		if ev.Delta == "" {
			return
		}
		frame, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.logger.Errorf("Failed to decode audio delta: %v", err)
			return
		}
		if cb := c.opts.Callbacks.OnAudio; cb != nil {
			cb(frame)
		}

	case evtSpeechStarted:
		if cb := c.opts.Callbacks.OnSpeechStarted; cb != nil {
			cb()
		}

	case evtSpeechStopped:
		// End of user turn: finalize the input buffer and ask for a
		// response.
		if err := c.send(bareEvent{Type: "input_audio_buffer.commit"}); err != nil {
			c.logger.Errorf("Failed to commit input buffer: %v", err)
			return
		}
		if err := c.send(responseCreateEvent{Type: "response.create"}); err != nil {
			c.logger.Errorf("Failed to request response: %v", err)
		}

	case evtResponseDone:
		c.handleResponseDone(ctx, ev.Response)

	case evtError:
		c.logger.Errorf("Provider error event: code=%d, message=%s", ev.Code, ev.Message)
	}
}

func (c *Client) handleResponseDone(ctx context.Context, resp *responsePayload) {
	if resp == nil {
		return
	}

	if resp.Usage != nil {
		c.mu.Lock()
		c.usage = resp.Usage.toUsage()
		c.mu.Unlock()
	}

	if resp.metadataType() == "ending_analysis" {
		c.resolveSummary(resp)
		return
	}

	// Take any disconnect scheduled by an earlier tool call before this
	// response's own calls are dispatched: the farewell must finish before
	// the carrier is torn down.
	c.mu.Lock()
	pending := c.pendingDisconnect
	c.pendingDisconnect = nil
	c.mu.Unlock()

	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		c.dispatchToolCall(ctx, item)
	}

	if pending != nil {
		// The callback drains audio and requests the ending analysis, which
		// only this read loop can answer. It must not run inline here.
		if cb := c.opts.Callbacks.OnDisconnect; cb != nil {
			req := *pending
			utils.Go(ctx, func() { cb(req) })
		}
		if err := c.send(bareEvent{Type: "input_audio_buffer.clear"}); err != nil {
			c.logger.Errorf("Failed to clear input buffer: %v", err)
		}
	}
}

func (c *Client) dispatchToolCall(ctx context.Context, item outputItem) {
	if c.opts.Dispatcher == nil {
		return
	}

	args := map[string]any{}
	if item.Arguments != "" {
		if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			c.logger.Warnf("Malformed tool arguments for %s: %v", item.Name, err)
			args = map[string]any{}
		}
	}
	callID := item.CallID
	if callID == "" {
		callID = item.ID
	}
	c.logger.Infof("Dispatching tool call: name=%s, call_id=%s", item.Name, callID)

	outcome := c.opts.Dispatcher.Dispatch(ctx, internal_provider.ToolCall{
		Name:      item.Name,
		CallID:    callID,
		Arguments: args,
	})

	output, err := json.Marshal(outcome.Output)
	if err != nil {
		c.logger.Errorf("Failed to marshal tool output for %s: %v", item.Name, err)
		output = []byte(`{"status":"error","error_type":"serialization","message":"unserializable tool output"}`)
	}

	// Tool result first, then the farewell request. The disconnect is
	// consumed on the next completed response.
	if err := c.send(itemCreateEvent{
		Type: "conversation.item.create",
		Item: itemPayload{Type: "function_call_output", CallID: callID, Output: string(output)},
	}); err != nil {
		c.logger.Errorf("Failed to send tool output for %s: %v", item.Name, err)
		return
	}

	if outcome.Disconnect != nil {
		c.mu.Lock()
		c.pendingDisconnect = outcome.Disconnect
		c.mu.Unlock()

		if err := c.send(responseCreateEvent{
			Type: "response.create",
			Response: &responseSpec{
				Conversation:     "none",
				OutputModalities: []string{"audio"},
				Metadata:         map[string]string{"type": "final_farewell"},
				Instructions:     outcome.Farewell,
			},
		}); err != nil {
			c.logger.Errorf("Failed to request farewell response: %v", err)
		}
	}
}

func (c *Client) resolveSummary(resp *responsePayload) {
	c.mu.Lock()
	waiter := c.summaryWaiter
	c.summaryWaiter = nil
	c.mu.Unlock()
	if waiter == nil {
		return
	}

	var text string
	for _, item := range resp.Output {
		if item.Text != "" {
			text = item.Text
			break
		}
	}

	summary := map[string]any{}
	if text == "" {
		summary["error"] = "empty summary response"
	} else if err := json.Unmarshal([]byte(text), &summary); err != nil {
		c.logger.Errorf("Failed to parse summary JSON: %v", err)
		summary = map[string]any{"error": "failed to parse summary"}
	}

	select {
	case waiter <- summary:
	default:
	}
}

// SendAudio streams one uplink frame, base64-encoded, to the provider's
// input buffer.
func (c *Client) SendAudio(frame []byte) error {
	if !c.running.Load() {
		return nil
	}
	return c.send(audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// Summary requests the ending analysis out of band and waits for the
// provider to complete it.
func (c *Client) Summary(ctx context.Context) (map[string]any, error) {
	if !c.running.Load() {
		return nil, fmt.Errorf("provider session is not running")
	}

	waiter := make(chan map[string]any, 1)
	c.mu.Lock()
	c.summaryWaiter = waiter
	c.mu.Unlock()

	err := c.send(responseCreateEvent{
		Type: "response.create",
		Response: &responseSpec{
			Conversation:     "none",
			OutputModalities: []string{"text"},
			Metadata:         map[string]string{"type": "ending_analysis"},
			Instructions:     c.opts.EndingPrompt,
		},
	})
	if err != nil {
		c.mu.Lock()
		c.summaryWaiter = nil
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		c.summaryWaiter = nil
		c.mu.Unlock()
		return nil, ctx.Err()
	case summary := <-waiter:
		return summary, nil
	}
}

// Usage returns the token counters of the most recent completed response.
func (c *Client) Usage() internal_provider.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Running reports whether the session is live and accepting sends.
func (c *Client) Running() bool {
	return c.running.Load()
}

// send serializes one event onto the socket. Sends after teardown are
// dropped with a warning.
func (c *Client) send(event any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil || !c.running.Load() {
		c.logger.Warnf("Dropping provider send, session not running")
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal provider event: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the session down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.closeMu.Unlock()

	c.running.Store(false)
	c.logger.Infof("Closing provider connection after %s", time.Since(c.started))

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		return c.conn.Close()
	}
	return nil
}

func (c *Client) teardownConn() {
	c.running.Store(false)
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
