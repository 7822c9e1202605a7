package bus

import (
	"strings"
	"time"
)

// InboundKind distinguishes chat messages from button postbacks.
type InboundKind string

const (
	KindMessage  InboundKind = "message"
	KindPostback InboundKind = "postback"
)

// InboundMessage represents an event received from a chat channel.
type InboundMessage struct {
	Channel   string                 `json:"channel"`
	Kind      InboundKind            `json:"kind"`
	SenderID  string                 `json:"sender_id"`
	ChatID    string                 `json:"chat_id"`
	MessageID string                 `json:"message_id,omitempty"`
	Content   string                 `json:"content"`
	Payload   string                 `json:"payload,omitempty"` // quick reply or postback payload
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// SessionKey returns a unique key for survey identification.
func (m *InboundMessage) SessionKey() string {
	return SessionKey(m.Channel, m.ChatID)
}

// DisplayName returns the sender's name when the channel provided one.
func (m *InboundMessage) DisplayName() string {
	for _, key := range []string{"first_name", "sender_name", "username"} {
		if v, ok := m.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// SessionKey builds the survey key for a chat on a channel.
func SessionKey(channel, chatID string) string {
	return strings.TrimSpace(channel) + ":" + strings.TrimSpace(chatID)
}

// QuickReply is a button offered with a question.
type QuickReply struct {
	Title   string `json:"title" yaml:"title"`
	Payload string `json:"payload" yaml:"payload"`
}

// OutboundMessage represents a message to send to a chat channel.
type OutboundMessage struct {
	Channel      string                 `json:"channel"`
	ChatID       string                 `json:"chat_id"`
	Content      string                 `json:"content"`
	Markdown     bool                   `json:"markdown,omitempty"`
	QuickReplies []QuickReply           `json:"quick_replies,omitempty"`
	Stage        string                 `json:"stage,omitempty"` // survey question alias, empty for acknowledgements
	Track        bool                   `json:"track"`           // record on the survey once delivered
	Metadata     map[string]interface{} `json:"metadata"`
}

// SessionKey returns the survey key of the recipient.
func (m *OutboundMessage) SessionKey() string {
	return SessionKey(m.Channel, m.ChatID)
}
