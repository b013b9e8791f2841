// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package utils

import (
	"context"
)

// Truncate returns s shortened to at most n bytes. Used when logging tool
// arguments and payloads.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Go runs fn in a goroutine that stops being waited on when ctx is done.
// It exists so call sites read uniformly; fn is responsible for honoring ctx.
func Go(ctx context.Context, fn func()) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn()
	}()
}
