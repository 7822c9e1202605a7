package bus

import (
	"log"
	"sync"
)

// MessageBus decouples chat channels from the survey dialogue.
type MessageBus struct {
	inbound             chan InboundMessage
	outbound            chan OutboundMessage
	outboundSubscribers map[string][]func(OutboundMessage)
	subscribersMu       sync.RWMutex
	stopChan            chan struct{}
	stopOnce            sync.Once
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:             make(chan InboundMessage, 100),
		outbound:            make(chan OutboundMessage, 100),
		outboundSubscribers: make(map[string][]func(OutboundMessage)),
		stopChan:            make(chan struct{}),
	}
}

// PublishInbound publishes an event from a channel to the dialogue.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	case <-b.stopChan:
	}
}

// ConsumeInbound returns a channel to consume inbound messages.
func (b *MessageBus) ConsumeInbound() <-chan InboundMessage {
	return b.inbound
}

// PublishOutbound publishes a message from the dialogue to channels.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	case <-b.stopChan:
	}
}

// SubscribeOutbound subscribes to outbound messages for a specific channel.
func (b *MessageBus) SubscribeOutbound(channel string, callback func(OutboundMessage)) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], callback)
}

// DispatchOutbound delivers outbound messages to subscribers until Stop is called.
// Messages are delivered one at a time so a chat sees them in publish order.
// This should be run in a goroutine.
func (b *MessageBus) DispatchOutbound() {
	for {
		select {
		case msg := <-b.outbound:
			b.subscribersMu.RLock()
			subscribers, ok := b.outboundSubscribers[msg.Channel]
			b.subscribersMu.RUnlock()

			if !ok {
				log.Printf("No subscriber for outbound channel %q, dropping message to %s", msg.Channel, msg.ChatID)
				continue
			}
			for _, cb := range subscribers {
				deliver(cb, msg)
			}
		case <-b.stopChan:
			return
		}
	}
}

func deliver(callback func(OutboundMessage), msg OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Error in outbound subscriber callback: %v", r)
		}
	}()
	callback(msg)
}

// Stop stops the dispatcher loop and unblocks pending publishers.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}
