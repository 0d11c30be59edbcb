// Package normalizer converts between the transport wire forms and the
// canonical ChatMessage.
//
// Relay payloads arrive as free-form text and are classified by a fixed
// precedence: the registration prompt, then a JSON object, then a
// "user: text" line, and finally a bare system line. Exactly one class
// applies to any payload.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mossy-p/dcom/internal/models"
)

// RegistrationPrompt is sent by the relay server when it expects the
// client's identity.
const RegistrationPrompt = "Enter your username:"

// Separator splits the sender from the text in plain relay lines.
const Separator = ":"

// Kind tags the class of an inbound relay payload.
type Kind int

const (
	KindRegistration Kind = iota + 1
	KindStructured
	KindDelimited
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindStructured:
		return "structured"
	case KindDelimited:
		return "delimited"
	case KindSystem:
		return "system"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Inbound is a classified relay payload. Message is zero for
// KindRegistration.
type Inbound struct {
	Kind    Kind
	Message models.ChatMessage
}

// ClassifyRelay applies the relay precedence rules to payload.
func ClassifyRelay(payload []byte) Inbound {
	text := string(payload)
	if text == RegistrationPrompt {
		return Inbound{Kind: KindRegistration}
	}

	if msg, ok := decodeObject(payload); ok {
		return Inbound{Kind: KindStructured, Message: msg}
	}

	if user, rest, found := strings.Cut(text, Separator); found {
		user = strings.TrimSpace(user)
		if user != "" {
			return Inbound{
				Kind:    KindDelimited,
				Message: models.ChatMessage{Sender: user, Text: strings.TrimSpace(rest)},
			}
		}
	}

	return Inbound{Kind: KindSystem, Message: models.SystemMessage(text)}
}

// decodeObject accepts any well-formed JSON object. A missing or
// non-string "user" is attributed to the system sender; a non-string
// "text" is kept as its JSON source.
func decodeObject(payload []byte) (models.ChatMessage, bool) {
	fields, ok := objectFields(payload)
	if !ok {
		return models.ChatMessage{}, false
	}
	user, ok := stringField(fields, "user")
	if !ok || user == "" {
		user = models.SystemSender
	}
	text, ok := stringField(fields, "text")
	if !ok {
		text = string(fields["text"])
	}
	return models.ChatMessage{Sender: user, Text: text}, true
}

func objectFields(payload []byte) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// stringField reads key as a string. Absent and null read as "". It
// reports false when the value is some other JSON type.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", true
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if s == nil {
		return "", true
	}
	return *s, true
}

// DecodeDirect parses a data channel payload. Only the remote participant
// writes to the channel, so the payload must be a JSON object naming a
// real sender; anything else is reported as ErrMalformedMessage.
func DecodeDirect(payload []byte) (models.ChatMessage, error) {
	fields, ok := objectFields(payload)
	if !ok {
		return models.ChatMessage{}, fmt.Errorf("%w: data channel payload is not a chat object", models.ErrMalformedMessage)
	}
	user, ok := stringField(fields, "user")
	if !ok || strings.TrimSpace(user) == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: data channel payload has no sender", models.ErrMalformedMessage)
	}
	if strings.EqualFold(strings.TrimSpace(user), models.SystemSender) {
		return models.ChatMessage{}, fmt.Errorf("%w: peer claimed the %q sender", models.ErrMalformedMessage, models.SystemSender)
	}
	text, ok := stringField(fields, "text")
	if !ok {
		return models.ChatMessage{}, fmt.Errorf("%w: data channel text is not a string", models.ErrMalformedMessage)
	}
	return models.ChatMessage{Sender: user, Text: text}, nil
}

// EncodeDirect produces the data channel form {"user": sender, "text": text}.
func EncodeDirect(msg models.ChatMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding chat message: %w", err)
	}
	return data, nil
}

// EncodeRelay produces the relay form: the raw text. The server attaches
// the sender identity registered for the connection.
func EncodeRelay(msg models.ChatMessage) []byte {
	return []byte(msg.Text)
}

// Encode picks the wire form for mode.
func Encode(mode models.Mode, msg models.ChatMessage) ([]byte, error) {
	switch mode {
	case models.ModeDirect:
		return EncodeDirect(msg)
	case models.ModeRelay:
		return EncodeRelay(msg), nil
	default:
		return nil, fmt.Errorf("encoding for %s: unsupported mode", mode)
	}
}
