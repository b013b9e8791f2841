// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_mcptools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonaralabs/audiobridge/pkg/commons"
)

func TestParseEntries_ValidAndInvalidMixed(t *testing.T) {
	raw := `[
		{"type": "mcp", "server_label": "crm", "server_url": "https://mcp.example.com/crm"},
		{"type": "mcp", "server_label": "no-endpoint"},
		{"type": "web_search"},
		{"server_url": "https://typeless.example.com"},
		{"type": "mcp", "name": "nested", "server": {"url": "https://mcp.example.com/nested"}}
	]`

	entries, err := ParseEntries(commons.NewNopLogger(), raw)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "crm", entries[0].Label())
	assert.Equal(t, "https://mcp.example.com/crm", entries[0].Endpoint())
	assert.Equal(t, "nested", entries[1].Label())
	assert.Equal(t, "https://mcp.example.com/nested", entries[1].Endpoint())
}

func TestParseEntries_Empty(t *testing.T) {
	entries, err := ParseEntries(commons.NewNopLogger(), "")
	require.NoError(t, err)
	assert.Nil(t, entries)

	entries, err = ParseEntries(commons.NewNopLogger(), "   ")
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestParseEntries_MalformedJSON(t *testing.T) {
	_, err := ParseEntries(commons.NewNopLogger(), "{not json")
	assert.Error(t, err)

	// An object instead of an array is malformed too.
	_, err = ParseEntries(commons.NewNopLogger(), `{"type":"mcp"}`)
	assert.Error(t, err)
}

func TestEntry_LabelFallbacks(t *testing.T) {
	assert.Equal(t, "a", Entry{ServerLabel: "a", ServerName: "b", Name: "c"}.Label())
	assert.Equal(t, "b", Entry{ServerName: "b", Name: "c"}.Label())
	assert.Equal(t, "c", Entry{Name: "c"}.Label())
	assert.Equal(t, "mcp_server", Entry{}.Label())
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "mcp_crm_tools_lookup_order", ToolName("CRM Tools", "lookup-order"))
	assert.Equal(t, "mcp_tool_tool", ToolName("--", "!!"))
}
