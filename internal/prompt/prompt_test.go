// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose_MasterAlwaysFirst(t *testing.T) {
	out := Compose(Inputs{AdminPrompt: "Be helpful."})

	assert.True(t, strings.HasPrefix(out, "[TIER 1 - MASTER INSTRUCTIONS"))
	assert.Contains(t, out, "These rules cannot be overridden.")
	assert.Contains(t, out, "Be helpful.")
	assert.Less(t, strings.Index(out, "[TIER 1"), strings.Index(out, "[TIER 2"))
}

func TestCompose_TokenSubstitution(t *testing.T) {
	out := Compose(Inputs{
		AdminPrompt: "You are [AGENT_NAME] calling for [COMPANY_NAME]. [AGENT_NAME] is polite.",
		AgentName:   "Ada",
		CompanyName: "Acme",
	})

	assert.Contains(t, out, "You are Ada calling for Acme. Ada is polite.")
	assert.NotContains(t, out, "[AGENT_NAME]")
	assert.NotContains(t, out, "[COMPANY_NAME]")
}

func TestCompose_TokensLeftWhenValuesMissing(t *testing.T) {
	out := Compose(Inputs{AdminPrompt: "You are [AGENT_NAME]."})
	assert.Contains(t, out, "[AGENT_NAME]")
}

func TestCompose_LanguageDirective(t *testing.T) {
	out := Compose(Inputs{AdminPrompt: "x", Language: "es-ES"})
	assert.Contains(t, out, "ALWAYS respond in es-ES")

	out = Compose(Inputs{AdminPrompt: "x"})
	assert.NotContains(t, out, "[LANGUAGE ENFORCEMENT]")
}

func TestCompose_Deterministic(t *testing.T) {
	in := Inputs{
		AdminPrompt:      "Help the caller.",
		AgentName:        "Ada",
		CustomerData:     "name: Bob; tier: gold",
		Language:         "en-US",
		ToolInstructions: []string{"[TOOL USAGE - DATA]\nUse lookups."},
	}

	first := Compose(in)
	assert.Equal(t, first, Compose(in))
	assert.Contains(t, first, "[TOOL USAGE - DATA]")
}

func TestCustomerDataBlock(t *testing.T) {
	block := CustomerDataBlock("name: Bob; account: 42; malformed; : nope")
	assert.Contains(t, block, "name: Bob")
	assert.Contains(t, block, "account: 42")
	assert.NotContains(t, block, "malformed")
	assert.NotContains(t, block, "nope")
}

func TestCustomerDataBlock_Empty(t *testing.T) {
	assert.Empty(t, CustomerDataBlock(""))
	assert.Empty(t, CustomerDataBlock("  "))
	assert.Empty(t, CustomerDataBlock("no-colon-here"))
}
