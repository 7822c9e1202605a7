package dialogue

import (
	"context"
	"log"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/cron"
	"github.com/HKUDS/surveybot-go/pkg/script"
)

// Loop feeds inbound events to the controller one at a time.
type Loop struct {
	Bus        *bus.MessageBus
	Controller *Controller
}

// NewLoop creates a new Loop.
func NewLoop(b *bus.MessageBus, c *Controller) *Loop {
	return &Loop{Bus: b, Controller: c}
}

// Run processes inbound events in delivery order until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	log.Println("Survey loop started")

	inbound := l.Bus.ConsumeInbound()
	for {
		select {
		case msg := <-inbound:
			l.process(msg)
		case <-ctx.Done():
			log.Println("Survey loop stopping")
			return
		}
	}
}

func (l *Loop) process(msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic processing message from %s: %v", msg.SessionKey(), r)
		}
	}()

	log.Printf("Processing %s from %s:%s", msg.Kind, msg.Channel, msg.SenderID)
	if err := l.Controller.Handle(msg); err != nil {
		log.Printf("Error processing message from %s: %v", msg.SessionKey(), err)
	}
}

// RestartJobHandler turns due restart jobs into RESTART_SURVEY postbacks so
// they are processed by the loop like any other event.
func RestartJobHandler(b *bus.MessageBus) func(cron.Job) error {
	return func(job cron.Job) error {
		if job.Payload.Kind != cron.PayloadRestartSurvey {
			return nil
		}
		b.PublishInbound(bus.InboundMessage{
			Channel:   job.Payload.Channel,
			Kind:      bus.KindPostback,
			SenderID:  "cron",
			ChatID:    job.Payload.ChatID,
			Payload:   script.PayloadRestart,
			Timestamp: time.Now(),
		})
		return nil
	}
}
