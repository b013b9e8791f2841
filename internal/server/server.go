// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_server is the HTTP edge of the bridge: a health endpoint,
// the carrier upgrade handshake, and one session goroutine per accepted
// call.
package internal_server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sonaralabs/audiobridge/config"
	internal_audiohook "github.com/sonaralabs/audiobridge/internal/audiohook"
	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	internal_openai "github.com/sonaralabs/audiobridge/internal/provider/openai"
	internal_ratelimit "github.com/sonaralabs/audiobridge/internal/ratelimit"
	internal_session "github.com/sonaralabs/audiobridge/internal/session"
	internal_dataactions "github.com/sonaralabs/audiobridge/internal/tools/dataactions"
	"github.com/sonaralabs/audiobridge/pkg/commons"
)

// Server accepts carrier connections and runs one session per call.
type Server struct {
	logger   commons.Logger
	cfg      *config.AppConfig
	opts     internal_session.Options
	upgrader websocket.Upgrader
	sessions sync.WaitGroup

	baseCtx context.Context
}

// New builds the server and its per-session options template.
func New(logger commons.Logger, cfg *config.AppConfig) *Server {
	return &Server{
		logger: logger,
		cfg:    cfg,
		opts:   sessionOptions(logger, cfg),
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{internal_audiohook.Subprotocol},
			ReadBufferSize:  8 * 1024,
			WriteBufferSize: 8 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes registers the bridge endpoints on a gin engine.
func (s *Server) Routes(engine *gin.Engine) {
	engine.GET("/", s.health)
	engine.GET(s.cfg.CarrierPath, s.audiohook)
}

// Engine builds a gin engine with the bridge routes mounted.
func (s *Server) Engine() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.Routes(engine)
	return engine
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "OK\n")
}

// audiohook validates the carrier handshake, upgrades the connection and
// runs the session to completion.
func (s *Server) audiohook(c *gin.Context) {
	if herr := internal_audiohook.ValidateHandshake(c.Request, s.cfg.CarrierAPIKey); herr != nil {
		s.logger.Warnf("Rejecting connection from %s: %d %s", c.ClientIP(), herr.Status, herr.Message)
		c.String(herr.Status, herr.Message)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	s.logger.Infof("Carrier connection accepted from %s (org=%s)",
		c.ClientIP(), c.GetHeader("Audiohook-Organization-Id"))

	opts := s.opts
	opts.Handshake = c.Request.Header.Clone()

	session := internal_session.New(s.logger, conn, opts)
	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := session.Run(ctx); err != nil {
		s.logger.Errorf("Session ended with error: %v", err)
	}
}

// Run serves until ctx is cancelled, then drains in-flight sessions within
// the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infof("Listening on %s (carrier path %s)", httpServer.Addr, s.cfg.CarrierPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		grace := time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second
		s.logger.Infof("Shutting down, draining sessions for up to %s", grace)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		done := make(chan struct{})
		go func() {
			s.sessions.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.logger.Infof("All sessions drained")
		case <-shutdownCtx.Done():
			s.logger.Warnf("Shutdown grace elapsed with sessions still active")
		}
		return err
	})
	return g.Wait()
}

// sessionOptions maps the application config onto the per-session settings,
// including the realtime provider factory.
func sessionOptions(logger commons.Logger, cfg *config.AppConfig) internal_session.Options {
	return internal_session.Options{
		Model:              cfg.OpenAIModel,
		DefaultVoice:       cfg.DefaultVoice,
		DefaultTemperature: cfg.DefaultTemperature,
		DefaultMaxTokens:   parseMaxTokens(logger, cfg.DefaultMaxOutputTokens),
		DefaultAgentName:   cfg.DefaultAgentName,
		DefaultCompanyName: cfg.DefaultCompanyName,
		AudioProfile:       cfg.ProviderAudioProfile,

		BufferFrames:  cfg.AudioBufferFrames,
		FrameInterval: cfg.FrameInterval(),
		FrameBytes:    cfg.AudioFrameBytes,

		MessageRate:  cfg.MessageRateLimit,
		MessageBurst: cfg.MessageBurstLimit,
		BinaryRate:   cfg.BinaryRateLimit,
		BinaryBurst:  cfg.BinaryBurstLimit,
		MaxRetries:   cfg.RateLimitMaxRetries,
		Phases:       internal_ratelimit.DefaultPhases(),

		ToolChoice:           cfg.ToolChoice,
		MaxToolCalls:         cfg.MaxToolCalls,
		MaxToolArgumentBytes: cfg.MaxToolArgumentBytes,
		SuccessFarewell:      cfg.SuccessFarewell,
		EscalationFarewell:   cfg.EscalationFarewell,

		DataActions: internal_dataactions.Config{
			BaseURL:          cfg.GenesysBaseURL,
			LoginURL:         cfg.GenesysLoginURL,
			Region:           cfg.GenesysRegion,
			ClientID:         cfg.GenesysClientID,
			ClientSecret:     cfg.GenesysClientSecret,
			Timeout:          cfg.GenesysHTTPTimeout(),
			RetryMax:         cfg.GenesysHTTPRetryMax,
			RetryBackoff:     cfg.GenesysHTTPRetryBackoff(),
			TokenCacheTTL:    time.Duration(cfg.GenesysTokenCacheTTLSeconds) * time.Second,
			AllowedActionIDs: cfg.AllowedActionIDList(),
			MaxTools:         cfg.GenesysMaxToolsPerSession,
			MaxCalls:         cfg.MaxToolCalls,
			MaxArgumentBytes: cfg.MaxToolArgumentBytes,
			RedactionFields:  cfg.RedactionFieldList(),
			StrictMode:       cfg.GenesysToolsStrictMode,
		},

		Provider: providerFactory(cfg),
	}
}

func providerFactory(cfg *config.AppConfig) internal_session.ProviderFactory {
	return func(
		logger commons.Logger,
		sessionID string,
		session internal_provider.SessionConfig,
		callbacks internal_provider.Callbacks,
		dispatcher internal_provider.ToolDispatcher,
	) (internal_provider.Client, error) {
		return internal_openai.NewClient(logger, sessionID, internal_openai.Options{
			APIKey:       cfg.OpenAIAPIKey,
			URL:          cfg.OpenAIRealtimeURL,
			Session:      session,
			Callbacks:    callbacks,
			Dispatcher:   dispatcher,
			EndingPrompt: cfg.EndingPrompt,
			MaxRetries:   cfg.RateLimitMaxRetries,
			Phases:       internal_ratelimit.DefaultPhases(),
		}), nil
	}
}

func parseMaxTokens(logger commons.Logger, raw string) internal_provider.MaxTokens {
	if raw == "" || raw == "inf" {
		return internal_provider.MaxTokensInf()
	}
	tokens, err := strconv.Atoi(raw)
	if err != nil || tokens < 1 || tokens > 4096 {
		logger.Warnf("Invalid DEFAULT_MAX_OUTPUT_TOKENS %q, using inf", raw)
		return internal_provider.MaxTokensInf()
	}
	return internal_provider.MaxTokensN(tokens)
}
