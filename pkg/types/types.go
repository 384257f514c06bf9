// Package types defines the shared types used across cluekeeper packages.
//
// Cross-cutting data structures live here to avoid circular imports between
// the provider ports and the conversation layers that replay messages to them.
package types

// Role tags the author of a [Message].
type Role = string

const (
	// RoleSystem carries the persona and rules. It is always the first message
	// of a conversation when present.
	RoleSystem Role = "system"

	// RoleUser carries player input.
	RoleUser Role = "user"

	// RoleAssistant carries model output that was kept in the transcript.
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of a conversation. Ordering of a
// message slice is significant: it is replayed verbatim to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// ValidRole reports whether r is one of the three supported roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}
