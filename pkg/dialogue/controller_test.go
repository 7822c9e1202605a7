package dialogue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/cron"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/HKUDS/surveybot-go/pkg/survey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deliveringPublisher records outbound messages and reports them delivered at once.
type deliveringPublisher struct {
	c    *Controller
	sent []bus.OutboundMessage
}

func (p *deliveringPublisher) PublishOutbound(msg bus.OutboundMessage) {
	p.sent = append(p.sent, msg)
	if p.c != nil {
		p.c.Delivered(msg)
	}
}

func (p *deliveringPublisher) reset() []bus.OutboundMessage {
	sent := p.sent
	p.sent = nil
	return sent
}

type fakeScheduler struct {
	scheduled []time.Duration
	removed   int
	err       error
}

func (f *fakeScheduler) ScheduleRestart(channel, chatID string, delay time.Duration) (cron.Job, error) {
	if f.err != nil {
		return cron.Job{}, f.err
	}
	f.scheduled = append(f.scheduled, delay)
	return cron.Job{ID: "job1", Payload: cron.Payload{Kind: cron.PayloadRestartSurvey, Channel: channel, ChatID: chatID}}, nil
}

func (f *fakeScheduler) RemoveJobsFor(channel, chatID string) int {
	f.removed++
	return 0
}

func steppingClock() func() time.Time {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestController(t *testing.T) (*Controller, *deliveringPublisher, *fakeScheduler) {
	t.Helper()
	n := 0
	tracker := survey.NewTracker(survey.NewMemoryStore(),
		survey.WithClock(steppingClock()),
		survey.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id%d", n)
		}),
	)
	pub := &deliveringPublisher{}
	c := NewController(tracker, script.Default(), pub)
	pub.c = c
	sched := &fakeScheduler{}
	c.Scheduler = sched
	return c, pub, sched
}

func postback(payload string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "telegram",
		Kind:     bus.KindPostback,
		SenderID: "42",
		ChatID:   "42",
		Payload:  payload,
		Metadata: map[string]interface{}{"first_name": "Ana"},
	}
}

func reply(content, payload string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "telegram",
		Kind:     bus.KindMessage,
		SenderID: "42",
		ChatID:   "42",
		Content:  content,
		Payload:  payload,
	}
}

func TestController_GetStartedGreets(t *testing.T) {
	c, pub, sched := newTestController(t)

	require.NoError(t, c.Handle(postback(script.PayloadGetStarted)))

	sent := pub.reset()
	require.Len(t, sent, 2)
	assert.Equal(t, "Thanks for choosing to get started!", sent[0].Content)
	assert.False(t, sent[0].Track)
	assert.Contains(t, sent[1].Content, "Hi Ana,")
	assert.True(t, sent[1].Track)
	assert.Len(t, sent[1].QuickReplies, 2)
	assert.Equal(t, 1, sched.removed)

	s, ok := c.Tracker.Active("telegram:42")
	require.True(t, ok)
	msgs := s.Messages()
	require.Len(t, msgs, 1, "only the tracked greeting is recorded")
	assert.Equal(t, survey.Outgoing, msgs[0].Direction())
	assert.False(t, msgs[0].Stage().Valid)
}

func TestController_FullSurvey(t *testing.T) {
	c, pub, _ := newTestController(t)
	c.Report = Target{Channel: "workplace", ChatID: "group:1"}

	require.NoError(t, c.Handle(postback(script.PayloadGetStarted)))
	pub.reset()

	require.NoError(t, c.Handle(reply("Yes", script.PayloadStart)))
	sent := pub.reset()
	require.Len(t, sent, 1)
	assert.Equal(t, "happiness", sent[0].Stage)
	assert.Len(t, sent[0].QuickReplies, 6)

	require.NoError(t, c.Handle(reply("4", "HAPPY:4")))
	sent = pub.reset()
	require.Len(t, sent, 1)
	assert.Equal(t, "longevity", sent[0].Stage)

	require.NoError(t, c.Handle(reply("1-2 years", "STAY:2")))
	sent = pub.reset()
	require.Len(t, sent, 1)
	assert.Equal(t, "thankyou", sent[0].Stage)

	s, ok := c.Tracker.Active("telegram:42")
	require.True(t, ok)

	require.NoError(t, c.Handle(reply("Great place", "")))
	sent = pub.reset()
	require.Len(t, sent, 2)
	assert.Equal(t, "Thanks! Just so you know I was paying attention - you said you were 4 happy and wish to stay at the company for 1-2 years", sent[0].Content)
	assert.Equal(t, "workplace", sent[1].Channel)
	assert.Equal(t, "group:1", sent[1].ChatID)
	assert.True(t, sent[1].Markdown)
	assert.Contains(t, sent[1].Content, "### Survey completed by Ana")
	assert.Contains(t, sent[1].Content, "> Great place")

	_, ok = c.Tracker.Active("telegram:42")
	assert.False(t, ok, "completed survey is no longer active")
	assert.True(t, s.IsFinished())
	assert.Equal(t, []string{"4"}, s.Answers("happiness"))
	assert.Equal(t, []string{"1-2 years"}, s.Answers("longevity"))
	assert.Equal(t, []string{"Great place"}, s.Answers("thankyou"))
}

func TestController_TypedAnswersMatchQuickReplies(t *testing.T) {
	c, pub, _ := newTestController(t)

	require.NoError(t, c.Handle(postback(script.PayloadRestart)))
	pub.reset()

	require.NoError(t, c.Handle(reply("yes", "")))
	sent := pub.reset()
	require.Len(t, sent, 1)
	assert.Equal(t, "happiness", sent[0].Stage)

	require.NoError(t, c.Handle(reply("5 😃", "")))
	sent = pub.reset()
	require.Len(t, sent, 1)
	assert.Equal(t, "longevity", sent[0].Stage)

	require.NoError(t, c.Handle(reply("no idea", "")))
	assert.Empty(t, pub.reset(), "unmatched text waits for a valid answer")
}

func TestController_DelaySchedulesRestart(t *testing.T) {
	c, pub, sched := newTestController(t)

	require.NoError(t, c.Handle(postback(script.PayloadRestart)))
	pub.reset()

	require.NoError(t, c.Handle(reply("Not now", script.PayloadDelay)))
	sent := pub.reset()
	require.Len(t, sent, 1)
	assert.Equal(t, "No problem, we'll try again tomorrow", sent[0].Content)
	assert.True(t, sent[0].Track)
	assert.Equal(t, []time.Duration{24 * time.Hour}, sched.scheduled)

	_, ok := c.Tracker.Active("telegram:42")
	assert.True(t, ok, "survey stays open until the retry")
}

func TestController_DelaySchedulerFailure(t *testing.T) {
	c, pub, sched := newTestController(t)
	sched.err = errors.New("disk full")

	err := c.Handle(reply("Not now", script.PayloadDelay))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, pub.reset(), 1, "the user still gets the reply")
}

func TestController_RestartWrapsUpAnsweredSurvey(t *testing.T) {
	c, pub, _ := newTestController(t)

	require.NoError(t, c.Handle(postback(script.PayloadRestart)))
	require.NoError(t, c.Handle(reply("Yes", script.PayloadStart)))
	require.NoError(t, c.Handle(reply("3", "HAPPY:3")))
	first, ok := c.Tracker.Active("telegram:42")
	require.True(t, ok)
	pub.reset()

	require.NoError(t, c.Handle(postback(script.PayloadRestart)))
	sent := pub.reset()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Content, "you said you were 3 happy")
	assert.Contains(t, sent[1].Content, "your opinion matters")
	assert.True(t, first.IsFinished())

	second, ok := c.Tracker.Active("telegram:42")
	require.True(t, ok)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestController_RestartDropsUnansweredSurvey(t *testing.T) {
	c, pub, _ := newTestController(t)

	require.NoError(t, c.Handle(postback(script.PayloadRestart)))
	pub.reset()
	require.NoError(t, c.Handle(postback(script.PayloadRestart)))

	sent := pub.reset()
	require.Len(t, sent, 1, "no summary for a survey without answers")
	assert.Contains(t, sent[0].Content, "your opinion matters")
}

func TestController_IgnoresEmptyMessages(t *testing.T) {
	c, pub, _ := newTestController(t)

	require.NoError(t, c.Handle(reply("  ", "")))
	assert.Empty(t, pub.reset())
	assert.Empty(t, c.Tracker.List())
}

func TestController_DeliveredSkipsUntracked(t *testing.T) {
	c, _, _ := newTestController(t)

	c.Delivered(bus.OutboundMessage{Channel: "telegram", ChatID: "9", Content: "ack"})
	assert.Empty(t, c.Tracker.List())

	c.Delivered(bus.OutboundMessage{Channel: "telegram", ChatID: "9", Content: "Q", Stage: "happiness", Track: true})
	s, ok := c.Tracker.Active("telegram:9")
	require.True(t, ok)
	last, ok := s.MostRecent(survey.Outgoing)
	require.True(t, ok)
	assert.True(t, last.Stage().Is("happiness"))
}
