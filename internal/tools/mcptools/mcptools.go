// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_mcptools connects remote Model Context Protocol servers
// declared in the carrier's MCP_TOOLS_JSON input variable and registers
// their tools for the session.
package internal_mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	internal_provider "github.com/sonaralabs/audiobridge/internal/provider"
	internal_tools "github.com/sonaralabs/audiobridge/internal/tools"
	"github.com/sonaralabs/audiobridge/pkg/commons"
	"github.com/sonaralabs/audiobridge/pkg/utils"
)

// VarMCPTools is the input variable carrying the JSON array of tool-server
// entries.
const VarMCPTools = "MCP_TOOLS_JSON"

// Entry is one element of the MCP_TOOLS_JSON array. Connection info may
// appear under server_url, url, or a nested server object.
type Entry struct {
	Type        string            `json:"type"`
	ServerLabel string            `json:"server_label,omitempty"`
	ServerName  string            `json:"server_name,omitempty"`
	Name        string            `json:"name,omitempty"`
	ServerURL   string            `json:"server_url,omitempty"`
	URL         string            `json:"url,omitempty"`
	Server      *ServerBlock      `json:"server,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ServerBlock is the nested connection form.
type ServerBlock struct {
	URL string `json:"url,omitempty"`
}

// Label returns the best display name for the entry.
func (e Entry) Label() string {
	for _, candidate := range []string{e.ServerLabel, e.ServerName, e.Name} {
		if candidate != "" {
			return candidate
		}
	}
	return "mcp_server"
}

// Endpoint returns the entry's connection URL, or "" when none was given.
func (e Entry) Endpoint() string {
	if e.ServerURL != "" {
		return e.ServerURL
	}
	if e.URL != "" {
		return e.URL
	}
	if e.Server != nil {
		return e.Server.URL
	}
	return ""
}

// ParseEntries decodes MCP_TOOLS_JSON. Entries that are not objects of
// type "mcp" with a reachable endpoint are skipped with a warning; a
// malformed blob yields an error.
func ParseEntries(logger commons.Logger, raw string) ([]Entry, error) {
	blob := strings.TrimSpace(raw)
	if blob == "" {
		return nil, nil
	}

	var parsed []Entry
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tool-server configuration: %w (preview=%s)", err, utils.Truncate(blob, 200))
	}

	var entries []Entry
	for idx, entry := range parsed {
		if entry.Type == "" {
			logger.Warnf("Ignoring tool-server entry %d: no type", idx)
			continue
		}
		if entry.Type != "mcp" {
			logger.Warnf("Ignoring tool-server entry %d: unsupported type %q", idx, entry.Type)
			continue
		}
		if entry.Endpoint() == "" {
			logger.Warnf("Skipping tool-server entry %d (%s): no server url", idx, entry.Label())
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RegisterTools connects each configured server, lists its tools and
// registers one handler per tool. The returned cleanup closes every
// connection and must be called at session teardown.
func RegisterTools(
	ctx context.Context,
	logger commons.Logger,
	registry *internal_tools.Registry,
	raw string,
) (int, func(), error) {
	entries, err := ParseEntries(logger, raw)
	if err != nil {
		return 0, func() {}, err
	}
	if len(entries) == 0 {
		return 0, func() {}, nil
	}

	var clients []*client.Client
	cleanup := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	registered := 0
	var summaries []string
	for _, entry := range entries {
		c, count, err := registerServer(ctx, logger, registry, entry)
		if err != nil {
			logger.Errorf("Failed to connect tool server %s: %v", entry.Label(), err)
			continue
		}
		clients = append(clients, c)
		registered += count
		summaries = append(summaries, fmt.Sprintf("- %s (remote tool server at %s, %d tools)", entry.Label(), entry.Endpoint(), count))
	}
	if registered == 0 {
		cleanup()
		return 0, func() {}, nil
	}

	registry.AddInstructions(instructionText(summaries))
	return registered, cleanup, nil
}

func registerServer(
	ctx context.Context,
	logger commons.Logger,
	registry *internal_tools.Registry,
	entry Entry,
) (*client.Client, int, error) {
	var opts []transport.StreamableHTTPCOption
	if len(entry.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(entry.Headers))
	}
	c, err := client.NewStreamableHttpClient(entry.Endpoint(), opts...)
	if err != nil {
		return nil, 0, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, 0, err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "audiobridge", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, 0, err
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, 0, err
	}

	count := 0
	for _, tool := range listed.Tools {
		def := internal_provider.ToolDefinition{
			Name:        ToolName(entry.Label(), tool.Name),
			Description: tool.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": tool.InputSchema.Properties,
				"required":   tool.InputSchema.Required,
			},
		}
		if err := registry.Register(def, callHandler(c, tool.Name)); err != nil {
			logger.Warnf("Skipping tool %s from %s: %v", tool.Name, entry.Label(), err)
			continue
		}
		count++
	}
	logger.Infof("Registered %d tools from server %s", count, entry.Label())
	return c, count, nil
}

func callHandler(c *client.Client, toolName string) internal_tools.Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		req := mcp.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = args

		result, err := c.CallTool(ctx, req)
		if err != nil {
			return nil, err
		}

		var texts []string
		for _, content := range result.Content {
			if text, ok := content.(mcp.TextContent); ok {
				texts = append(texts, text.Text)
			}
		}
		payload := map[string]any{
			"status": "ok",
			"result": strings.Join(texts, "\n"),
		}
		if result.IsError {
			payload["status"] = "error"
		}
		return payload, nil
	}
}

// ToolName builds a stable, sanitized function name for a remote tool.
func ToolName(label, tool string) string {
	return "mcp_" + sanitize(label) + "_" + sanitize(tool)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, ch := range s {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			b.WriteRune(unicode.ToLower(ch))
		} else {
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if out == "" {
		out = "tool"
	}
	return out
}

func instructionText(summaries []string) string {
	lines := []string{
		"[TOOL USAGE - REMOTE TOOL SERVERS]",
		"Remote tool-server integrations are enabled for this conversation.",
		"When you need information or actions from these external systems, call the appropriate tool instead of guessing.",
		"Registered endpoints:",
	}
	lines = append(lines, summaries...)
	return strings.Join(lines, "\n")
}
