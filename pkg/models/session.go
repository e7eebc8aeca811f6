package models

import "time"

// Session is a user-facing handle, one-to-one with a conversation. Created
// on demand; the conversation id is independent of the session id so a
// session can be resumed against a stable conversation history.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// MaxTitleLength bounds the auto-derived session title.
const MaxTitleLength = 50

// DeriveTitle produces a session title from the first user message,
// truncated to MaxTitleLength runes.
func DeriveTitle(firstUserMessage string) string {
	runes := []rune(firstUserMessage)
	if len(runes) <= MaxTitleLength {
		return string(runes)
	}
	return string(runes[:MaxTitleLength])
}
