// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_dataactions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	internal_tools "github.com/sonaralabs/audiobridge/internal/tools"
	"github.com/sonaralabs/audiobridge/pkg/commons"
)

// Input variable keys recognized on the carrier open message.
const (
	VarActionIDs       = "DATA_ACTION_IDS"
	VarActionIDsLegacy = "GENESYS_DATA_ACTION_IDS"
	VarDescriptions    = "DATA_ACTION_DESCRIPTIONS"
)

type preparedTool struct {
	def      internal_provider.ToolDefinition
	actionID string
	params   []string
	handler  internal_tools.Handler
}

// RegisterTools resolves the session's requested data actions and registers
// one tool per action in the registry, returning the number registered.
// Sessions without data-action input variables register nothing.
func RegisterTools(
	ctx context.Context,
	logger commons.Logger,
	client *Client,
	cfg Config,
	registry *internal_tools.Registry,
	inputVars map[string]string,
) (int, error) {
	raw := inputVars[VarActionIDs]
	if raw == "" {
		raw = inputVars[VarActionIDsLegacy]
	}
	actionIDs := ParseActionIDs(raw)
	if len(actionIDs) == 0 {
		return 0, nil
	}
	if !cfg.Enabled() {
		return 0, fmt.Errorf("data actions requested but client credentials are missing")
	}

	if len(cfg.AllowedActionIDs) > 0 {
		allowed := make(map[string]bool, len(cfg.AllowedActionIDs))
		for _, id := range cfg.AllowedActionIDs {
			allowed[id] = true
		}
		kept := actionIDs[:0]
		for _, id := range actionIDs {
			if allowed[id] {
				kept = append(kept, id)
			}
		}
		if dropped := len(actionIDs) - len(kept); dropped > 0 {
			logger.Warnf("Filtered %d data action ids not on the allowlist", dropped)
		}
		actionIDs = kept
		if len(actionIDs) == 0 {
			logger.Warnf("No requested data actions are allowed for this session")
			return 0, nil
		}
	}

	if cfg.MaxTools > 0 && len(actionIDs) > cfg.MaxTools {
		actionIDs = actionIDs[:cfg.MaxTools]
	}
	descriptions := ParseDescriptions(inputVars[VarDescriptions], actionIDs)
	logger.Infof("Preparing %d data action tools", len(actionIDs))

	var mu sync.Mutex
	prepared := make(map[string]preparedTool, len(actionIDs))
	g, gCtx := errgroup.WithContext(ctx)
	for _, actionID := range actionIDs {
		g.Go(func() error {
			inputSchema, err := client.InputSchema(gCtx, actionID)
			if err != nil {
				logger.Errorf("Failed to fetch input schema for %s: %v", actionID, err)
				return nil
			}
			if _, err := client.SuccessSchema(gCtx, actionID); err != nil {
				logger.Warnf("Failed to fetch success schema for %s: %v", actionID, err)
			}

			tool := buildTool(client, cfg, actionID, inputSchema, descriptions[actionID])
			mu.Lock()
			prepared[actionID] = tool
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Preserve the requested order and dedupe names deterministically.
	seen := map[string]bool{}
	var summaries []string
	registered := 0
	for _, actionID := range actionIDs {
		tool, ok := prepared[actionID]
		if !ok {
			continue
		}
		name := tool.def.Name
		for suffix := 2; seen[name]; suffix++ {
			name = fmt.Sprintf("%s_%d", tool.def.Name, suffix)
		}
		seen[name] = true
		tool.def.Name = name

		if err := registry.Register(tool.def, tool.handler); err != nil {
			logger.Errorf("Failed to register tool %s: %v", name, err)
			continue
		}
		registered++
		params := "no parameters"
		if len(tool.params) > 0 {
			params = strings.Join(tool.params, ", ")
		}
		summaries = append(summaries, fmt.Sprintf("- %s (action %s) parameters: %s", name, tool.actionID, params))
	}
	if registered == 0 {
		logger.Warnf("No valid data action tools could be prepared")
		return 0, nil
	}

	registry.AddInstructions(instructionText(summaries))
	return registered, nil
}

func buildTool(client *Client, cfg Config, actionID string, inputSchema map[string]any, customDesc string) preparedTool {
	parameters := NormalizeParametersSchema(inputSchema, cfg.StrictMode)
	var params []string
	if props, ok := parameters["properties"].(map[string]any); ok {
		for key := range props {
			params = append(params, key)
		}
	}
	sort.Strings(params)

	handler := func(ctx context.Context, args map[string]any) (map[string]any, error) {
		result, err := client.Execute(ctx, actionID, args)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":    "ok",
			"action_id": actionID,
			"result":    RedactPayload(result, cfg.RedactionFields),
		}, nil
	}

	return preparedTool{
		def: internal_provider.ToolDefinition{
			Name:        "genesys_data_action_" + SanitizeFunctionName(actionID),
			Description: BuildToolDescription(actionID, inputSchema, customDesc),
			Parameters:  parameters,
		},
		actionID: actionID,
		params:   params,
		handler:  handler,
	}
}

func instructionText(summaries []string) string {
	lines := []string{
		"[TOOL USAGE - DATA ACTIONS]",
		"Genesys Cloud data action tools are available in this call.",
		"Always invoke the relevant tool to retrieve or update data instead of guessing values.",
		"After you receive the tool result, interpret the JSON payload and explain it to the caller in plain language.",
		"Available tools:",
	}
	lines = append(lines, summaries...)
	return strings.Join(lines, "\n")
}
