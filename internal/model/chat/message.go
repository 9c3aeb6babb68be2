package chat

import "time"

// Message roles. Only user and assistant turns exist in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn. A message has no stable identifier:
// its identity is its position within the session at read time, so deleting
// or rolling back earlier messages renumbers everything after them.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// View is a message as returned to clients, with its current position as id.
type View struct {
	ID        int       `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is the role/content pair forwarded to the completion endpoint.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
