package dialogue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/cron"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/HKUDS/surveybot-go/pkg/survey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncPublisher struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (p *syncPublisher) PublishOutbound(msg bus.OutboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
}

func (p *syncPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestLoop_ProcessesInboundInOrder(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Stop()

	pub := &syncPublisher{}
	c := NewController(survey.NewTracker(survey.NewMemoryStore()), script.Default(), pub)
	loop := NewLoop(b, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	b.PublishInbound(postback(script.PayloadRestart))
	b.PublishInbound(reply("Yes", script.PayloadStart))

	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	assert.Contains(t, pub.sent[0].Content, "your opinion matters")
	assert.Equal(t, "happiness", pub.sent[1].Stage)
	pub.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRestartJobHandler(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Stop()
	handler := RestartJobHandler(b)

	require.NoError(t, handler(cron.Job{Payload: cron.Payload{Kind: "other"}}))
	require.NoError(t, handler(cron.Job{Payload: cron.Payload{
		Kind:    cron.PayloadRestartSurvey,
		Channel: "discord",
		ChatID:  "c1",
	}}))

	select {
	case msg := <-b.ConsumeInbound():
		assert.Equal(t, bus.KindPostback, msg.Kind)
		assert.Equal(t, script.PayloadRestart, msg.Payload)
		assert.Equal(t, "discord:c1", msg.SessionKey())
	case <-time.After(time.Second):
		t.Fatal("no postback published")
	}

	select {
	case msg := <-b.ConsumeInbound():
		t.Fatalf("unexpected message %+v", msg)
	default:
	}
}
