package channels

import (
	"log"
	"net/http"

	"github.com/HKUDS/surveybot-go/pkg/bus"
)

// WebhookChannel is a channel that receives events over HTTP.
type WebhookChannel interface {
	Channel
	http.Handler
	WebhookPath() string
}

// Manager starts channels and routes outbound messages to them.
type Manager struct {
	Bus *bus.MessageBus
	// OnDelivered is called after a channel accepted a message.
	OnDelivered func(msg bus.OutboundMessage)
	// OnFailed is called when a channel could not send a message.
	OnFailed func(msg bus.OutboundMessage, err error)

	channels []Channel
	started  []Channel
}

// NewManager creates a new Manager.
func NewManager(messageBus *bus.MessageBus) *Manager {
	return &Manager{Bus: messageBus}
}

// Register adds a channel. Registered channels are started by StartAll.
func (m *Manager) Register(ch Channel) {
	m.channels = append(m.channels, ch)
}

// StartAll starts every channel and subscribes the ones that started to
// outbound messages. A channel that fails to start is logged and skipped.
func (m *Manager) StartAll() []string {
	var names []string
	for _, ch := range m.channels {
		if err := ch.Start(); err != nil {
			log.Printf("Error starting %s channel: %v", ch.Name(), err)
			continue
		}
		m.subscribe(ch)
		m.started = append(m.started, ch)
		names = append(names, ch.Name())
	}
	return names
}

func (m *Manager) subscribe(ch Channel) {
	m.Bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("Error sending to %s: %v", ch.Name(), err)
			if m.OnFailed != nil {
				m.OnFailed(msg, err)
			}
			return
		}
		if m.OnDelivered != nil {
			m.OnDelivered(msg)
		}
	})
}

// StopAll stops the started channels.
func (m *Manager) StopAll() {
	for _, ch := range m.started {
		if err := ch.Stop(); err != nil {
			log.Printf("Error stopping %s channel: %v", ch.Name(), err)
		}
	}
	m.started = nil
}

// Webhooks returns the started channels that serve HTTP webhooks.
func (m *Manager) Webhooks() []WebhookChannel {
	var hooks []WebhookChannel
	for _, ch := range m.started {
		if wh, ok := ch.(WebhookChannel); ok {
			hooks = append(hooks, wh)
		}
	}
	return hooks
}

// Has reports whether a channel with this name was started.
func (m *Manager) Has(name string) bool {
	for _, ch := range m.started {
		if ch.Name() == name {
			return true
		}
	}
	return false
}
