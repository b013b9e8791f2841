// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// iso8601Duration matches the subset of ISO-8601 durations carriers emit in
// retryAfter parameters and Retry-After headers: days plus a time component
// of hours, minutes and (possibly fractional) seconds.
var iso8601Duration = regexp.MustCompile(
	`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`,
)

// ParseISO8601Duration converts an ISO-8601 duration such as "PT2S",
// "PT1M30S" or "P1DT1H" to seconds. A bare number ("2.5") is accepted as a
// plain seconds value, matching the lenient Retry-After header format.
func ParseISO8601Duration(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if strings.HasPrefix(trimmed, "P") {
		match := iso8601Duration.FindStringSubmatch(trimmed)
		if match == nil || trimmed == "P" || trimmed == "PT" {
			return 0, fmt.Errorf("invalid ISO 8601 duration: %q", value)
		}
		var total float64
		if match[1] != "" {
			days, _ := strconv.ParseFloat(match[1], 64)
			total += days * 86400
		}
		if match[2] != "" {
			hours, _ := strconv.ParseFloat(match[2], 64)
			total += hours * 3600
		}
		if match[3] != "" {
			minutes, _ := strconv.ParseFloat(match[3], 64)
			total += minutes * 60
		}
		if match[4] != "" {
			seconds, _ := strconv.ParseFloat(match[4], 64)
			total += seconds
		}
		return total, nil
	}

	// Numeric fallback: Retry-After headers often carry plain seconds.
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", value)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("negative duration: %q", value)
	}
	return seconds, nil
}
