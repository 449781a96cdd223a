package domain

// ChatMessage is one entry of the conversation history a client sends
// alongside a new message. Role is "user" or "assistant".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
