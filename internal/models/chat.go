package models

// SystemSender is the reserved sender of status and informational
// messages. It never carries chat content.
const SystemSender = "system"

// ChatMessage is the canonical chat unit shared by both transports. The
// wire name of Sender is "user".
type ChatMessage struct {
	Sender string `json:"user"`
	Text   string `json:"text"`
}

// IsSystem reports whether the message is informational rather than chat.
func (m ChatMessage) IsSystem() bool {
	return m.Sender == SystemSender
}

// SystemMessage builds an informational message.
func SystemMessage(text string) ChatMessage {
	return ChatMessage{Sender: SystemSender, Text: text}
}
