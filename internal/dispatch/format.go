// Package dispatch posts finished-task results back to their source and
// raises chat notifications, with circuit-breaker and retry protection
// on every outbound call.
package dispatch

import "strings"

// Per-destination size limits.
const (
	MaxVCSComment     = 8000
	MaxTrackerComment = 32767
	MaxChatMessage    = 4000
	MaxChatBlockText  = 3000
)

const truncationSuffix = "\n\n... (truncated)"

// Truncate cuts text to maxLen, preferring a sentence or line boundary
// in the last fifth of the budget, and appends a truncation marker.
// Text already within the limit is returned unchanged.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	available := maxLen - len(truncationSuffix)
	if available <= 0 {
		return truncationSuffix
	}
	cut := text[:available]

	minKeep := available * 8 / 10
	boundary := strings.LastIndex(cut, ". ")
	if boundary < 0 {
		boundary = strings.LastIndex(cut, ".")
	}
	if nl := strings.LastIndex(cut, "\n"); nl > boundary {
		boundary = nl
	}
	if boundary > minKeep {
		if cut[boundary] == '.' {
			cut = cut[:boundary+1]
		} else {
			cut = cut[:boundary]
		}
	}
	return cut + truncationSuffix
}
