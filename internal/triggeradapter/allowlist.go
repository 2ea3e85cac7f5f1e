package triggeradapter

import "strings"

// Allowlist gates inbound senders by ID or "id|username" compound form,
// carried over from the teacher's BaseChannel.IsAllowed: an empty list
// allows everyone, entries may match either side of the compound form,
// and a leading "@" on a configured entry is stripped for username
// matching.
type Allowlist struct {
	entries []string
}

// NewAllowlist builds an Allowlist from raw config entries.
func NewAllowlist(entries []string) Allowlist {
	return Allowlist{entries: entries}
}

// HasEntries reports whether any allowlist entries were configured.
func (a Allowlist) HasEntries() bool { return len(a.entries) > 0 }

// Allowed reports whether senderID is permitted. senderID may be a bare
// platform ID or a compound "id|username" form; an empty allowlist
// allows every sender.
func (a Allowlist) Allowed(senderID string) bool {
	if len(a.entries) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range a.entries {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// Truncate shortens s to maxLen, appending "..." when truncated — used
// by adapters when logging or previewing inbound message content.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
