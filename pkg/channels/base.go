package channels

import (
	"fmt"
	"strings"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
)

// Channel is the interface for chat channels.
type Channel interface {
	Start() error
	Stop() error
	Send(msg bus.OutboundMessage) error
	Name() string
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Config    interface{}
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender is allowed to answer surveys.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}

	for _, allowed := range c.AllowFrom {
		if allowed == senderID {
			return true
		}
		// Handle composite IDs like "id|username"
		if strings.Contains(senderID, "|") {
			for _, part := range strings.Split(senderID, "|") {
				if part == allowed {
					return true
				}
			}
		}
	}
	return false
}

// HandleMessage publishes an event received from the chat platform.
// It reports false when the sender is not allowed.
func (c *BaseChannel) HandleMessage(channelName string, msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.SenderID) {
		return false
	}

	msg.Channel = channelName
	if msg.Kind == "" {
		msg.Kind = bus.KindMessage
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]interface{}{}
	}

	c.Bus.PublishInbound(msg)
	return true
}

// WithOptions appends the quick replies as a numbered list, for platforms
// where the bot cannot attach buttons.
func WithOptions(content string, replies []bus.QuickReply) string {
	if len(replies) == 0 {
		return content
	}

	var sb strings.Builder
	sb.WriteString(content)
	sb.WriteString("\n")
	for i, qr := range replies {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, qr.Title)
	}
	return sb.String()
}
