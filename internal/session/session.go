// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_session runs one carrier call end to end: it owns the
// AudioHook side of the socket, negotiates media, bridges audio to and from
// the model provider and drives the disconnect and close handshakes.
package internal_session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_audio "github.com/sonaralabs/audiobridge/internal/audio"
	internal_audiohook "github.com/sonaralabs/audiobridge/internal/audiohook"
	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	internal_prompt "github.com/sonaralabs/audiobridge/internal/prompt"
	internal_ratelimit "github.com/sonaralabs/audiobridge/internal/ratelimit"
	internal_tools "github.com/sonaralabs/audiobridge/internal/tools"
	internal_dataactions "github.com/sonaralabs/audiobridge/internal/tools/dataactions"
	internal_mcptools "github.com/sonaralabs/audiobridge/internal/tools/mcptools"
	"github.com/sonaralabs/audiobridge/pkg/commons"
	"github.com/sonaralabs/audiobridge/pkg/utils"
)

// Per-message send deadlines mandated by the carrier protocol.
const (
	pongSendTimeout       = 1 * time.Second
	closedSendTimeout     = 4 * time.Second
	disconnectSendTimeout = 5 * time.Second
	defaultSendTimeout    = 10 * time.Second
	summaryTimeout        = 10 * time.Second

	// Upper bound on waiting for queued farewell audio before the
	// disconnect frame goes out: a full buffer at the default interval.
	disconnectDrainTimeout = 8 * time.Second
)

// Provider-side audio profiles.
const (
	ProfilePCMU  = "pcmu"
	ProfilePCM16 = "pcm16"
)

// Input variables recognized on the carrier open message.
const (
	varVoice        = "OPENAI_VOICE"
	varSystemPrompt = "OPENAI_SYSTEM_PROMPT"
	varTemperature  = "OPENAI_TEMPERATURE"
	varModel        = "OPENAI_MODEL"
	varMaxTokens    = "OPENAI_MAX_OUTPUT_TOKENS"
	varLanguage     = "LANGUAGE"
	varCustomerData = "CUSTOMER_DATA"
	varAgentName    = "AGENT_NAME"
	varCompanyName  = "COMPANY_NAME"
)

const defaultAdminPrompt = "You are a helpful assistant."

// carrierConn is the subset of *websocket.Conn the session uses. Tests
// substitute an in-memory fake.
type carrierConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ProviderFactory builds the realtime client for a session once media is
// negotiated and the prompt and tools are assembled.
type ProviderFactory func(
	logger commons.Logger,
	sessionID string,
	session internal_provider.SessionConfig,
	callbacks internal_provider.Callbacks,
	dispatcher internal_provider.ToolDispatcher,
) (internal_provider.Client, error)

// Options carries the per-deployment settings a session needs. The server
// fills it once from the application config and reuses it for every call.
type Options struct {
	Model              string
	DefaultVoice       string
	DefaultTemperature float64
	DefaultMaxTokens   internal_provider.MaxTokens
	DefaultAgentName   string
	DefaultCompanyName string
	AudioProfile       string // ProfilePCMU or ProfilePCM16

	BufferFrames  int
	FrameInterval time.Duration
	FrameBytes    int

	MessageRate  float64
	MessageBurst float64
	BinaryRate   float64
	BinaryBurst  float64
	MaxRetries   int
	Phases       []internal_ratelimit.Phase

	ToolChoice           string
	MaxToolCalls         int
	MaxToolArgumentBytes int
	SuccessFarewell      string
	EscalationFarewell   string

	DataActions internal_dataactions.Config

	// Handshake holds the upgrade request headers, consulted for Retry-After
	// when the carrier signals 429.
	Handshake http.Header

	Provider ProviderFactory
}

// Session is one carrier call. All protocol writes flow through sendJSON and
// sendBinary; the carrier read loop in Run is the only reader.
type Session struct {
	logger commons.Logger
	conn   carrierConn
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu             sync.Mutex
	id             string
	serverSeq      int
	clientSeq      int
	negotiated     *internal_audiohook.Media
	probe          bool
	startTime      time.Time
	framesReceived int
	summaryCache   map[string]any
	summaryDone    bool

	msgLimiter *internal_ratelimit.Limiter
	binLimiter *internal_ratelimit.Limiter
	backoff    *internal_ratelimit.Backoff
	resampler  internal_audio.Resampler

	carrierAudio internal_audio.Config
	providerIn   internal_audio.Config
	providerOut  internal_audio.Config

	provider internal_provider.Client
	pacer    *Pacer

	closing      atomic.Bool
	disconnected atomic.Bool
	teardownOnce sync.Once
	cleanups     []func()
}

// New creates a session on an upgraded carrier connection.
func New(logger commons.Logger, conn carrierConn, opts Options) *Session {
	if len(opts.Phases) == 0 {
		opts.Phases = internal_ratelimit.DefaultPhases()
	}
	if !opts.DefaultMaxTokens.Inf && opts.DefaultMaxTokens.N == 0 {
		opts.DefaultMaxTokens = internal_provider.MaxTokensInf()
	}

	// Provisional id until the open message supplies the carrier's own.
	s := &Session{
		logger:       logger,
		conn:         conn,
		id:           uuid.NewString(),
		opts:         opts,
		msgLimiter:   internal_ratelimit.NewLimiter(opts.MessageRate, opts.MessageBurst),
		binLimiter:   internal_ratelimit.NewLimiter(opts.BinaryRate, opts.BinaryBurst),
		backoff:      internal_ratelimit.NewBackoff(opts.MaxRetries, opts.Phases),
		resampler:    internal_audio.NewResampler(logger),
		carrierAudio: internal_audio.NewMulaw8khzMonoConfig(),
		startTime:    time.Now(),
	}
	if opts.AudioProfile == ProfilePCM16 {
		s.providerIn = internal_audio.NewLinear16khzMonoConfig()
		s.providerOut = internal_audio.NewLinear24khzMonoConfig()
	} else {
		s.providerIn = s.carrierAudio
		s.providerOut = s.carrierAudio
	}
	return s
}

// Run reads carrier messages until the socket closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.teardown()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closing.Load() {
				s.logger.Infof("Carrier connection closed")
				return nil
			}
			return fmt.Errorf("carrier read failed: %w", err)
		}

		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleAudioFrame(data)
		case websocket.TextMessage:
			s.handleMessage(data)
		}
	}
}

func (s *Session) handleMessage(data []byte) {
	var env internal_audiohook.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warnf("Dropping malformed carrier message: %v", err)
		return
	}

	s.mu.Lock()
	s.clientSeq = env.Seq
	s.mu.Unlock()

	if s.backoff.InBackoff() && env.Type != internal_audiohook.TypeError {
		s.logger.Debugf("Skipping %s message during rate limit backoff", env.Type)
		return
	}

	switch env.Type {
	case internal_audiohook.TypeError:
		s.handleError(env)
	case internal_audiohook.TypeOpen:
		s.handleOpen(env)
	case internal_audiohook.TypePing:
		s.handlePing()
	case internal_audiohook.TypeClose:
		s.handleClose(env)
	case internal_audiohook.TypeUpdate, internal_audiohook.TypeResume, internal_audiohook.TypePause:
		s.logger.Debugf("Ignoring message of type %s", env.Type)
	default:
		s.logger.Debugf("Ignoring unknown message type: %s", env.Type)
	}
}

func (s *Session) handleOpen(env internal_audiohook.Envelope) {
	var params internal_audiohook.OpenParameters
	if err := json.Unmarshal(env.Parameters, &params); err != nil {
		s.logger.Errorf("Failed to parse open parameters: %v", err)
		return
	}

	s.mu.Lock()
	s.id = env.ID
	s.startTime = time.Now()
	s.mu.Unlock()
	s.logger = s.logger.With("session_id", env.ID)

	if internal_audiohook.IsProbe(params) {
		s.logger.Infof("Detected probe connection")
		s.mu.Lock()
		s.probe = true
		s.mu.Unlock()
		s.sendJSON(internal_audiohook.TypeOpened, internal_audiohook.OpenedParameters{
			StartPaused: false,
			Media:       []internal_audiohook.Media{},
		}, defaultSendTimeout)
		return
	}

	chosen, ok := internal_audiohook.SelectMedia(params.Media)
	if !ok {
		s.logger.Errorf("No supported media format among %d offered", len(params.Media))
		s.sendJSON(internal_audiohook.TypeDisconnect, internal_audiohook.DisconnectParameters{
			Reason: internal_audiohook.ReasonError,
			Info:   "No supported format found",
		}, disconnectSendTimeout)
		return
	}

	s.mu.Lock()
	s.negotiated = &chosen
	s.mu.Unlock()
	s.sendJSON(internal_audiohook.TypeOpened, internal_audiohook.OpenedParameters{
		StartPaused: false,
		Media:       []internal_audiohook.Media{chosen},
	}, defaultSendTimeout)
	s.logger.Infof("Session opened. Negotiated media: %s/%d", chosen.Format, chosen.Rate)

	s.startProvider(env.ID, params.InputVariables)
}

// startProvider assembles tools and the prompt from the open input variables
// and connects the realtime client in the background.
func (s *Session) startProvider(sessionID string, inputVars map[string]string) {
	vars := normalizeVars(inputVars)

	registry := internal_tools.NewRegistry(s.logger,
		internal_tools.WithToolChoice(s.opts.ToolChoice),
		internal_tools.WithCaps(s.opts.MaxToolCalls, s.opts.MaxToolArgumentBytes),
		internal_tools.WithFarewells(s.opts.SuccessFarewell, s.opts.EscalationFarewell),
	)

	if s.opts.DataActions.Enabled() || vars[internal_dataactions.VarActionIDs] != "" || vars[internal_dataactions.VarActionIDsLegacy] != "" {
		client := internal_dataactions.NewClient(s.logger, s.opts.DataActions)
		if n, err := internal_dataactions.RegisterTools(s.ctx, s.logger, client, s.opts.DataActions, registry, vars); err != nil {
			s.logger.Errorf("Data action setup failed: %v", err)
		} else if n > 0 {
			s.logger.Infof("Registered %d data action tools", n)
		}
	}

	if n, cleanup, err := internal_mcptools.RegisterTools(s.ctx, s.logger, registry, vars[internal_mcptools.VarMCPTools]); err != nil {
		s.logger.Errorf("Remote tool-server setup failed: %v", err)
	} else {
		s.mu.Lock()
		s.cleanups = append(s.cleanups, cleanup)
		s.mu.Unlock()
		if n > 0 {
			s.logger.Infof("Registered %d remote tools", n)
		}
	}

	adminPrompt := vars[varSystemPrompt]
	if adminPrompt == "" {
		adminPrompt = defaultAdminPrompt
	}
	agentName := vars[varAgentName]
	if agentName == "" {
		agentName = s.opts.DefaultAgentName
	}
	companyName := vars[varCompanyName]
	if companyName == "" {
		companyName = s.opts.DefaultCompanyName
	}
	instructions := internal_prompt.Compose(internal_prompt.Inputs{
		AdminPrompt:      adminPrompt,
		AgentName:        agentName,
		CompanyName:      companyName,
		CustomerData:     vars[varCustomerData],
		Language:         vars[varLanguage],
		ToolInstructions: registry.Instructions(),
	})

	voice := vars[varVoice]
	if voice == "" {
		voice = s.opts.DefaultVoice
	}
	model := vars[varModel]
	if model == "" {
		model = s.opts.Model
	}

	sessionCfg := internal_provider.SessionConfig{
		Model:           model,
		Voice:           voice,
		Instructions:    instructions,
		Temperature:     s.parseTemperature(vars[varTemperature]),
		MaxOutputTokens: s.parseMaxTokens(vars[varMaxTokens]),
		InputFormat:     providerFormat(s.providerIn),
		OutputFormat:    providerFormat(s.providerOut),
		Tools:           registry.Definitions(),
	}
	s.logger.Infof("Provider session: model=%s voice=%s temperature=%.2f max_tokens=%s tools=%d",
		model, voice, sessionCfg.Temperature, sessionCfg.MaxOutputTokens, len(sessionCfg.Tools))

	pacer := NewPacer(s.logger, s.sendBinary, s.binLimiter, s.backoff.InBackoff, s.opts.FrameInterval, s.opts.FrameBytes, s.opts.BufferFrames)
	callbacks := internal_provider.Callbacks{
		OnAudio:         s.handleProviderAudio,
		OnSpeechStarted: s.handleBargeIn,
		OnDisconnect: func(req internal_provider.DisconnectRequest) {
			s.Disconnect(req.Reason, req.Info)
		},
		OnClosed: func(err error) {
			if err != nil && !s.closing.Load() {
				s.Disconnect(internal_audiohook.ReasonError, fmt.Sprintf("provider connection lost: %v", err))
			}
		},
	}

	client, err := s.opts.Provider(s.logger, sessionID, sessionCfg, callbacks, registry)
	if err != nil {
		s.logger.Errorf("Provider setup failed: %v", err)
		s.Disconnect(internal_audiohook.ReasonError, err.Error())
		return
	}

	s.mu.Lock()
	s.provider = client
	s.pacer = pacer
	s.mu.Unlock()

	utils.Go(s.ctx, func() { pacer.Run(s.ctx) })
	utils.Go(s.ctx, func() {
		if err := client.Connect(s.ctx); err != nil {
			s.logger.Errorf("Provider connection failed: %v", err)
			s.Disconnect(internal_audiohook.ReasonError, err.Error())
		}
	})
}

// handleAudioFrame forwards one uplink frame to the provider, transcoding
// when the provider consumes linear PCM.
func (s *Session) handleAudioFrame(frame []byte) {
	s.mu.Lock()
	provider := s.provider
	s.framesReceived++
	count := s.framesReceived
	s.mu.Unlock()

	if provider == nil || !provider.Running() {
		return
	}
	s.logger.Debugf("Received audio frame: %d bytes (frame #%d)", len(frame), count)

	if s.providerIn != s.carrierAudio {
		converted, err := s.resampler.Resample(frame, s.carrierAudio, s.providerIn)
		if err != nil {
			s.logger.Errorf("Uplink resample failed: %v", err)
			return
		}
		frame = converted
	}
	if err := provider.SendAudio(frame); err != nil {
		s.logger.Warnf("Failed to forward audio to provider: %v", err)
	}
}

// handleProviderAudio queues one downlink chunk for paced delivery,
// transcoding back to µ-law when the provider produces linear PCM.
func (s *Session) handleProviderAudio(chunk []byte) {
	s.mu.Lock()
	pacer := s.pacer
	s.mu.Unlock()
	if pacer == nil || s.closing.Load() {
		return
	}

	if s.providerOut != s.carrierAudio {
		converted, err := s.resampler.Resample(chunk, s.providerOut, s.carrierAudio)
		if err != nil {
			s.logger.Errorf("Downlink resample failed: %v", err)
			return
		}
		chunk = converted
	}
	pacer.Push(chunk)
}

// handleBargeIn drops queued playback and tells the carrier the caller
// started speaking.
func (s *Session) handleBargeIn() {
	s.mu.Lock()
	pacer := s.pacer
	s.mu.Unlock()
	if pacer != nil {
		pacer.Interrupt()
	}
	if s.backoff.InBackoff() {
		s.logger.Debugf("Suppressing barge-in event during rate limit backoff")
		return
	}
	s.sendJSON(internal_audiohook.TypeEvent, internal_audiohook.BargeInEvent(), defaultSendTimeout)
}

func (s *Session) handlePing() {
	if err := s.sendJSON(internal_audiohook.TypePong, nil, pongSendTimeout); err != nil {
		s.logger.Errorf("Failed to send pong response within timeout: %v", err)
	}
}

func (s *Session) handleClose(env internal_audiohook.Envelope) {
	var params internal_audiohook.CloseParameters
	_ = json.Unmarshal(env.Parameters, &params)
	s.logger.Infof("Received close from carrier. Reason: %s", params.Reason)
	s.closing.Store(true)

	summary := s.summary()
	if err := s.sendJSON(internal_audiohook.TypeClosed, internal_audiohook.ClosedParameters{Summary: summary}, closedSendTimeout); err != nil {
		s.logger.Errorf("Failed to send closed response within timeout: %v", err)
	}

	s.mu.Lock()
	duration := time.Since(s.startTime)
	received := s.framesReceived
	pacer := s.pacer
	s.mu.Unlock()
	sent := 0
	if pacer != nil {
		sent = pacer.Sent()
	}
	s.logger.Infof("Session stats - Duration: %.2fs, Frames sent: %d, Frames received: %d",
		duration.Seconds(), sent, received)

	s.teardown()
}

// handleError processes a carrier error message. Only 429 gets dedicated
// handling; anything else is logged and dropped.
func (s *Session) handleError(env internal_audiohook.Envelope) {
	var params internal_audiohook.ErrorParameters
	if err := json.Unmarshal(env.Parameters, &params); err != nil {
		s.logger.Warnf("Failed to parse error parameters: %v", err)
		return
	}
	if params.Code != http.StatusTooManyRequests {
		s.logger.Warnf("Carrier error %d: %s", params.Code, params.Message)
		return
	}

	s.mu.Lock()
	sessionAge := time.Since(s.startTime)
	s.mu.Unlock()
	delay := s.backoff.ResolveDelay(params.RetryAfter, s.opts.Handshake, sessionAge)

	if !s.backoff.Begin() {
		s.logger.Errorf("Rate limit max retries (%d) exceeded after %.2fs", s.opts.MaxRetries, sessionAge.Seconds())
		s.Disconnect(internal_audiohook.ReasonError, "Rate limit max retries exceeded")
		return
	}
	s.logger.Warnf("Rate limited by carrier, attempt %d/%d, backing off for %s",
		s.backoff.Retries(), s.opts.MaxRetries, delay)

	utils.Go(s.ctx, func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
		case <-timer.C:
		}
		s.backoff.End()
		s.logger.Infof("Backoff complete, resuming operations")
	})
}

// Disconnect asks the carrier to end the call. It runs at most once; the
// carrier answers with close and the session tears down from there.
func (s *Session) Disconnect(reason, info string) {
	if !s.disconnected.CompareAndSwap(false, true) {
		return
	}
	s.logger.Infof("Initiating disconnect. reason=%s info=%s", reason, info)

	s.mu.Lock()
	pacer := s.pacer
	s.mu.Unlock()
	if pacer != nil {
		pacer.Flush()
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		// The disconnect frame must trail the farewell audio.
		if !pacer.Drain(ctx, disconnectDrainTimeout) {
			s.logger.Warnf("Disconnecting with %d downlink frames undelivered", pacer.Queued())
		}
	}

	outputVars := s.outputVariables()
	if err := s.sendJSON(internal_audiohook.TypeDisconnect, internal_audiohook.DisconnectParameters{
		Reason:          reason,
		Info:            info,
		OutputVariables: outputVars,
	}, disconnectSendTimeout); err != nil {
		s.logger.Errorf("Failed to send disconnect: %v", err)
	}
}

// outputVariables renders the post-call data handed to the carrier's flow
// engine: the ending analysis, the call duration and the token counters.
func (s *Session) outputVariables() map[string]string {
	summaryText := ""
	if summary := s.summary(); summary != nil {
		if data, err := json.Marshal(summary); err == nil {
			summaryText = string(data)
		}
	}

	s.mu.Lock()
	duration := time.Since(s.startTime)
	provider := s.provider
	s.mu.Unlock()

	vars := map[string]string{
		"CONVERSATION_SUMMARY":  summaryText,
		"CONVERSATION_DURATION": strconv.FormatFloat(duration.Seconds(), 'f', 2, 64),
	}
	var usage internal_provider.TokenUsage
	if provider != nil {
		usage = provider.Usage()
	}
	for key, value := range usage.Variables() {
		vars[key] = value
	}
	return vars
}

// summary asks the provider for the ending analysis once per session and
// caches the result for both the disconnect and the closed message.
func (s *Session) summary() map[string]any {
	s.mu.Lock()
	if s.summaryDone {
		cached := s.summaryCache
		s.mu.Unlock()
		return cached
	}
	provider := s.provider
	s.mu.Unlock()

	if provider == nil || !provider.Running() {
		return nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, summaryTimeout)
	defer cancel()
	summary, err := provider.Summary(ctx)
	if err != nil {
		s.logger.Errorf("Failed to generate session summary: %v", err)
		summary = map[string]any{"error": "Timeout generating summary"}
	} else {
		s.logger.Infof("Session summary: %v", summary)
	}

	s.mu.Lock()
	s.summaryCache = summary
	s.summaryDone = true
	s.mu.Unlock()
	return summary
}

func (s *Session) sendJSON(msgType string, params any, timeout time.Duration) error {
	if !s.msgLimiter.Allow() {
		s.logger.Warnf("Message rate limit exceeded (%.2f tokens left). Message type: %s. Dropping to maintain compliance.",
			s.msgLimiter.Tokens(), msgType)
		return nil
	}

	s.mu.Lock()
	s.serverSeq++
	env, err := internal_audiohook.NewEnvelope(msgType, s.serverSeq, s.clientSeq, s.id, params)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.logger.Debugf("Sending %s to carrier: %s", msgType, utils.Truncate(string(data), 512))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendBinary(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(defaultSendTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.closing.Store(true)
		if s.cancel != nil {
			s.cancel()
		}

		s.mu.Lock()
		provider := s.provider
		cleanups := s.cleanups
		s.mu.Unlock()

		if provider != nil {
			_ = provider.Close()
		}
		for _, cleanup := range cleanups {
			cleanup()
		}
		_ = s.conn.Close()
		s.logger.Infof("Session torn down")
	})
}

// parseTemperature accepts values in the provider's supported range and
// falls back to the deployment default otherwise.
func (s *Session) parseTemperature(raw string) float64 {
	if raw == "" {
		return s.opts.DefaultTemperature
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value < 0.6 || value > 1.2 {
		s.logger.Warnf("Temperature %q out of range [0.6, 1.2]. Using default: %.2f", raw, s.opts.DefaultTemperature)
		return s.opts.DefaultTemperature
	}
	return value
}

// parseMaxTokens accepts "inf" or an integer in [1, 4096] and falls back to
// the deployment default otherwise.
func (s *Session) parseMaxTokens(raw string) internal_provider.MaxTokens {
	if raw == "" {
		return s.opts.DefaultMaxTokens
	}
	if strings.EqualFold(strings.TrimSpace(raw), "inf") {
		return internal_provider.MaxTokensInf()
	}
	tokens, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || tokens < 1 || tokens > 4096 {
		s.logger.Warnf("max_output_tokens %q out of range [1, 4096]. Using default: %s", raw, s.opts.DefaultMaxTokens)
		return s.opts.DefaultMaxTokens
	}
	return internal_provider.MaxTokensN(tokens)
}

// normalizeVars trims input-variable keys; flow authors occasionally leave
// stray whitespace around them.
func normalizeVars(inputVars map[string]string) map[string]string {
	vars := make(map[string]string, len(inputVars))
	for key, value := range inputVars {
		vars[strings.TrimSpace(key)] = value
	}
	return vars
}

func providerFormat(cfg internal_audio.Config) internal_provider.AudioFormat {
	if cfg.Format == internal_audio.FormatMuLaw {
		return internal_provider.MulawFormat()
	}
	return internal_provider.PCMFormat(cfg.SampleRate)
}
