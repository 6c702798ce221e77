package domain

// ChatMessage is the provider-agnostic chat message shape used by prompt
// assembly and the text-generation integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
