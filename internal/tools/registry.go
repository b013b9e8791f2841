// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_tools routes model-issued function calls: the two
// built-in call-control tools end the call, externally registered handlers
// cover data actions and remote tool servers. Handler failures never
// escape dispatch; they come back to the model as structured error
// payloads.
package internal_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	"github.com/sonaralabs/audiobridge/pkg/commons"
	"github.com/sonaralabs/audiobridge/pkg/utils"
)

// Built-in call-control tool names.
const (
	ToolEndConversation = "end_conversation_successfully"
	ToolEscalate        = "escalate_to_human"
)

// Tool-choice policies enforced locally on every dispatch.
const (
	ChoiceAuto = "auto"
	ChoiceNone = "none"
)

const (
	defaultSuccessFarewell    = "Confirm completion and thank the caller with a brief, courteous goodbye in one short sentence."
	defaultEscalationFarewell = "Tell the caller you are transferring them to a human agent now, in one short sentence."
)

// Handler executes an external tool with parsed arguments and returns the
// payload sent back to the model.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry implements the provider's ToolDispatcher. One registry serves
// one session; the invocation counter is not shared across calls.
type Registry struct {
	logger commons.Logger

	mu           sync.Mutex
	defs         []internal_provider.ToolDefinition
	handlers     map[string]Handler
	instructions []string
	choice       string
	maxCalls     int
	maxArgBytes  int
	calls        int

	successFarewell    string
	escalationFarewell string
}

// Option configures a Registry.
type Option func(*Registry)

// WithToolChoice sets the local invocation policy: ChoiceAuto admits every
// registered tool, ChoiceNone rejects all calls, any other value admits
// only the named function.
func WithToolChoice(choice string) Option {
	return func(r *Registry) { r.choice = choice }
}

// WithCaps bounds external tool usage per session.
func WithCaps(maxCalls, maxArgBytes int) Option {
	return func(r *Registry) {
		r.maxCalls = maxCalls
		r.maxArgBytes = maxArgBytes
	}
}

// WithFarewells overrides the closing instructions issued after each
// call-control tool.
func WithFarewells(success, escalation string) Option {
	return func(r *Registry) {
		if success != "" {
			r.successFarewell = success
		}
		if escalation != "" {
			r.escalationFarewell = escalation
		}
	}
}

// NewRegistry creates a registry pre-loaded with the two call-control
// tools.
func NewRegistry(logger commons.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:             logger,
		handlers:           map[string]Handler{},
		choice:             ChoiceAuto,
		maxCalls:           10,
		maxArgBytes:        16 * 1024,
		successFarewell:    defaultSuccessFarewell,
		escalationFarewell: defaultEscalationFarewell,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.defs = callControlDefinitions()
	return r
}

func callControlDefinitions() []internal_provider.ToolDefinition {
	return []internal_provider.ToolDefinition{
		{
			Name:        ToolEndConversation,
			Description: "End the phone call when the caller's request is complete or they say they are done.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{
						"type":        "string",
						"description": "Concise summary of what was accomplished on the call",
					},
				},
				"required": []string{"summary"},
			},
		},
		{
			Name:        ToolEscalate,
			Description: "Escalate the call to a human agent when the caller asks for one or the task is blocked.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the caller needs a human agent",
					},
				},
				"required": []string{"reason"},
			},
		},
	}
}

// Register adds one external tool. Registering a name twice or shadowing a
// built-in is an error.
func (r *Registry) Register(def internal_provider.ToolDefinition, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Name == ToolEndConversation || def.Name == ToolEscalate {
		return fmt.Errorf("tool name %q shadows a built-in", def.Name)
	}
	if _, exists := r.handlers[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	r.handlers[def.Name] = handler
	r.defs = append(r.defs, def)
	return nil
}

// AddInstructions appends a tool-usage instruction block for the system
// prompt.
func (r *Registry) AddInstructions(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions = append(r.instructions, text)
}

// Definitions returns every declared tool, built-ins first.
func (r *Registry) Definitions() []internal_provider.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]internal_provider.ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Instructions returns the accumulated tool-usage instruction blocks.
func (r *Registry) Instructions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.instructions))
	copy(out, r.instructions)
	return out
}

// Dispatch resolves one tool call. Built-ins produce a disconnect outcome;
// external handlers are bounded by the invocation policy and per-session
// caps.
func (r *Registry) Dispatch(ctx context.Context, call internal_provider.ToolCall) internal_provider.ToolOutcome {
	if r.choice == ChoiceNone {
		r.logger.Warnf("Rejecting tool call %s: tool calls are disabled", call.Name)
		return errorOutcome("policy", "tool calls are disabled for this session")
	}
	if r.choice != ChoiceAuto && r.choice != call.Name {
		r.logger.Warnf("Rejecting tool call %s: only %s is admitted", call.Name, r.choice)
		return errorOutcome("policy", fmt.Sprintf("only %s may be called in this session", r.choice))
	}

	switch call.Name {
	case ToolEndConversation:
		return r.endConversation(call.Arguments)
	case ToolEscalate:
		return r.escalate(call.Arguments)
	}

	r.mu.Lock()
	handler, ok := r.handlers[call.Name]
	r.mu.Unlock()
	if !ok {
		r.logger.Warnf("Ignoring unknown tool call: %s", call.Name)
		return internal_provider.ToolOutcome{
			Output: map[string]any{"result": "ignored", "reason": "unknown_function"},
		}
	}
	return r.invokeExternal(ctx, call, handler)
}

func (r *Registry) endConversation(args map[string]any) internal_provider.ToolOutcome {
	summary := stringArg(args, "summary")
	if summary == "" {
		summary = "Caller indicated the conversation is complete"
	}
	r.logger.Infof("Call-control tool fired: %s", ToolEndConversation)
	return internal_provider.ToolOutcome{
		Output: map[string]any{
			"result":  "ok",
			"action":  ToolEndConversation,
			"summary": summary,
		},
		Disconnect: &internal_provider.DisconnectRequest{Reason: "completed", Info: summary},
		Farewell:   r.successFarewell,
	}
}

func (r *Registry) escalate(args map[string]any) internal_provider.ToolOutcome {
	reason := stringArg(args, "reason")
	if reason == "" {
		reason = "Caller requested a human agent"
	}
	r.logger.Infof("Call-control tool fired: %s", ToolEscalate)
	return internal_provider.ToolOutcome{
		Output: map[string]any{
			"result": "ok",
			"action": ToolEscalate,
			"reason": reason,
		},
		Disconnect: &internal_provider.DisconnectRequest{Reason: "transfer", Info: reason},
		Farewell:   r.escalationFarewell,
	}
}

func (r *Registry) invokeExternal(ctx context.Context, call internal_provider.ToolCall, handler Handler) internal_provider.ToolOutcome {
	r.mu.Lock()
	if r.calls >= r.maxCalls {
		r.mu.Unlock()
		r.logger.Warnf("Rejecting tool call %s: per-session invocation cap (%d) reached", call.Name, r.maxCalls)
		return errorOutcome("limit", "maximum tool invocations exceeded for this session")
	}
	r.calls++
	count := r.calls
	r.mu.Unlock()

	argBytes, err := json.Marshal(call.Arguments)
	if err != nil {
		return errorOutcome("arguments", "tool arguments are not serializable")
	}
	if len(argBytes) > r.maxArgBytes {
		r.logger.Warnf("Rejecting tool call %s: argument payload %d bytes exceeds cap %d", call.Name, len(argBytes), r.maxArgBytes)
		return errorOutcome("arguments", "tool arguments payload is too large")
	}

	r.logger.Infof("Executing tool %s (call #%d), args=%s", call.Name, count, utils.Truncate(string(argBytes), 512))
	result, err := handler(ctx, call.Arguments)
	if err != nil {
		r.logger.Errorf("Tool %s failed: %v", call.Name, err)
		return errorOutcome("handler_error", err.Error())
	}
	return internal_provider.ToolOutcome{Output: result}
}

func errorOutcome(errorType, message string) internal_provider.ToolOutcome {
	return internal_provider.ToolOutcome{
		Output: map[string]any{
			"status":     "error",
			"error_type": errorType,
			"message":    message,
		},
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
