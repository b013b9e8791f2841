// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_dataactions

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const maxFunctionNameLen = 60

// SanitizeFunctionName turns a data-action id into a legal function name:
// lowercase alphanumerics with underscores, leading letter, bounded length.
func SanitizeFunctionName(actionID string) string {
	var b strings.Builder
	for _, ch := range actionID {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			b.WriteRune(unicode.ToLower(ch))
		} else {
			b.WriteRune('_')
		}
	}
	sanitized := b.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "action"
	}
	if !unicode.IsLetter(rune(sanitized[0])) {
		sanitized = "a_" + sanitized
	}
	if len(sanitized) > maxFunctionNameLen {
		sanitized = sanitized[:maxFunctionNameLen]
	}
	return sanitized
}

// NormalizeParametersSchema reshapes a carrier action input schema into the
// object form the provider's structured-output mode expects. With strict
// mode, object properties are recursively marked required and closed.
func NormalizeParametersSchema(schema map[string]any, strict bool) map[string]any {
	base := map[string]any{}
	for k, v := range schema {
		base[k] = v
	}
	base["type"] = "object"
	if _, ok := base["properties"].(map[string]any); !ok {
		base["properties"] = map[string]any{}
	}
	delete(base, "title")
	delete(base, "$schema")
	base["additionalProperties"] = false
	base["strict"] = true

	if !strict {
		return base
	}
	return enforceStrict(base).(map[string]any)
}

func enforceStrict(node any) any {
	obj, ok := node.(map[string]any)
	if !ok {
		return node
	}
	out := map[string]any{}
	for k, v := range obj {
		out[k] = v
	}
	if out["type"] == "object" {
		props, _ := out["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		newProps := map[string]any{}
		keys := make([]string, 0, len(props))
		for key, value := range props {
			keys = append(keys, key)
			newProps[key] = enforceStrict(value)
		}
		sort.Strings(keys)
		out["properties"] = newProps
		out["additionalProperties"] = false
		if len(keys) > 0 {
			out["required"] = keys
		}
	}
	if out["type"] == "array" {
		if items, ok := out["items"]; ok {
			out["items"] = enforceStrict(items)
		}
	}
	return out
}

// BuildToolDescription prefers the admin-supplied description, falling back
// to a summary generated from the input schema's properties.
func BuildToolDescription(actionID string, schema map[string]any, custom string) string {
	if custom != "" {
		return custom
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return fmt.Sprintf("Executes the Genesys Cloud Data Action %s.", actionID)
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if prop, ok := props[key].(map[string]any); ok {
			if desc, _ := prop["description"].(string); desc != "" {
				parts = append(parts, key+": "+desc)
				continue
			}
		}
		parts = append(parts, key)
	}
	return fmt.Sprintf("Executes the Genesys Cloud Data Action %s. Input fields: %s", actionID, strings.Join(parts, "; "))
}

// RedactPayload blanks the configured dot-separated field paths in a tool
// result before it is surfaced to the model.
func RedactPayload(payload map[string]any, fields []string) map[string]any {
	if len(fields) == 0 || payload == nil {
		return payload
	}

	clone := deepCopyMap(payload)
	for _, path := range fields {
		segments := strings.Split(path, ".")
		cursor := clone
		for _, segment := range segments[:len(segments)-1] {
			next, ok := cursor[segment].(map[string]any)
			if !ok {
				cursor = nil
				break
			}
			cursor = next
		}
		if cursor == nil {
			continue
		}
		leaf := segments[len(segments)-1]
		if _, ok := cursor[leaf]; ok {
			cursor[leaf] = "[REDACTED]"
		}
	}
	return clone
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if m, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(m)
		} else {
			out[k] = v
		}
	}
	return out
}

// ParseActionIDs splits the carrier's data-action id input variable, which
// may be delimited by commas, pipes, semicolons or newlines.
func ParseActionIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	normalized := strings.NewReplacer("|", ",", "\n", ",", ";", ",").Replace(raw)
	var ids []string
	for _, token := range strings.Split(normalized, ",") {
		if token = strings.TrimSpace(token); token != "" {
			ids = append(ids, token)
		}
	}
	return ids
}

// ParseDescriptions splits the pipe-delimited description list and pairs it
// with the action ids positionally. A count mismatch discards the list.
func ParseDescriptions(raw string, actionIDs []string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var segments []string
	for _, seg := range strings.Split(raw, "|") {
		if seg = strings.TrimSpace(seg); seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) != len(actionIDs) {
		return nil
	}
	out := make(map[string]string, len(segments))
	for i, id := range actionIDs {
		out[id] = segments[i]
	}
	return out
}
