package dialogue

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/cron"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/HKUDS/surveybot-go/pkg/survey"
)

// Publisher sends outbound messages to channels.
type Publisher interface {
	PublishOutbound(msg bus.OutboundMessage)
}

// Scheduler defers survey restarts.
type Scheduler interface {
	ScheduleRestart(channel, chatID string, delay time.Duration) (cron.Job, error)
	RemoveJobsFor(channel, chatID string) int
}

// Target is a channel and chat to post to.
type Target struct {
	Channel string
	ChatID  string
}

// Controller turns inbound events into survey questions and records the
// conversation on the tracker.
type Controller struct {
	Tracker   *survey.Tracker
	Script    *script.Script
	Out       Publisher
	Scheduler Scheduler // optional
	Report    Target    // optional, receives the markdown of completed surveys

	names   map[string]string
	namesMu sync.RWMutex
}

// NewController creates a controller.
func NewController(tracker *survey.Tracker, s *script.Script, out Publisher) *Controller {
	return &Controller{
		Tracker: tracker,
		Script:  s,
		Out:     out,
		names:   make(map[string]string),
	}
}

// Handle processes one inbound event. Tracking errors are logged and the
// dialogue carries on; the returned error reports what went wrong.
func (c *Controller) Handle(msg bus.InboundMessage) error {
	if name := msg.DisplayName(); name != "" {
		c.rememberName(msg.SessionKey(), name)
	}

	if msg.Kind == bus.KindPostback {
		return c.handlePostback(msg)
	}
	return c.handleMessage(msg)
}

func (c *Controller) handlePostback(msg bus.InboundMessage) error {
	log.Printf("Postback %q from %s", msg.Payload, msg.SessionKey())

	switch script.PayloadAction(msg.Payload) {
	case script.PayloadGetStarted:
		if c.Script.GetStarted != "" {
			c.send(msg.Channel, msg.ChatID, c.Script.GetStarted, false)
		}
		return c.Restart(msg.Channel, msg.ChatID)
	case script.PayloadRestart:
		return c.Restart(msg.Channel, msg.ChatID)
	default:
		return c.route(msg.Channel, msg.ChatID, msg.Payload)
	}
}

func (c *Controller) handleMessage(msg bus.InboundMessage) error {
	key := msg.SessionKey()
	var errs []error

	if strings.TrimSpace(msg.Content) == "" {
		log.Printf("Ignoring empty message from %s", key)
		return nil
	}

	if _, err := c.Tracker.RecordIncoming(key, msg.MessageID, msg.Timestamp, msg.Content); err != nil {
		log.Printf("Error tracking message from %s: %v", key, err)
		errs = append(errs, err)
	}

	s, done, err := c.Tracker.CompleteIfReached(key, c.Script.Terminal)
	if err != nil {
		log.Printf("Error completing survey for %s: %v", key, err)
		errs = append(errs, err)
	}
	if done {
		c.wrapUp(msg.Channel, msg.ChatID, s)
		return errors.Join(errs...)
	}

	payload := msg.Payload
	if payload == "" {
		payload, _ = c.Script.MatchReply(c.currentStage(key), msg.Content)
	}
	if payload == "" {
		log.Printf("No quick reply in message from %s, waiting for the next answer", key)
		return errors.Join(errs...)
	}

	if err := c.route(msg.Channel, msg.ChatID, payload); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// currentStage is the alias of the last question sent to the user, or "".
func (c *Controller) currentStage(key string) string {
	s, ok := c.Tracker.Active(key)
	if !ok {
		return ""
	}
	last, ok := s.MostRecent(survey.Outgoing)
	if !ok {
		return ""
	}
	return last.Stage().String()
}

func (c *Controller) route(channel, chatID, payload string) error {
	action, stage := c.Script.Route(payload)
	switch action {
	case script.ActionAsk:
		c.Ask(channel, chatID, stage)
	case script.ActionDelay:
		return c.delay(channel, chatID)
	default:
		log.Printf("Quick reply %q from %s:%s has no follow-up", payload, channel, chatID)
	}
	return nil
}

// Ask sends a survey question.
func (c *Controller) Ask(channel, chatID string, stage *script.Stage) {
	c.Out.PublishOutbound(bus.OutboundMessage{
		Channel:      channel,
		ChatID:       chatID,
		Content:      script.Render(stage.Text, c.vars(bus.SessionKey(channel, chatID))),
		QuickReplies: stage.QuickReplies,
		Stage:        stage.Alias,
		Track:        true,
	})
}

func (c *Controller) delay(channel, chatID string) error {
	c.send(channel, chatID, c.Script.Delay.Text, true)

	if c.Scheduler == nil || c.Script.Delay.RetryAfter <= 0 {
		return nil
	}
	job, err := c.Scheduler.ScheduleRestart(channel, chatID, c.Script.Delay.RetryAfter)
	if err != nil {
		return fmt.Errorf("schedule survey retry for %s:%s: %w", channel, chatID, err)
	}
	log.Printf("Survey for %s:%s will be retried by job %s", channel, chatID, job.ID)
	return nil
}

// Restart finishes any open survey for the chat and starts a new one with the greeting.
func (c *Controller) Restart(channel, chatID string) error {
	key := bus.SessionKey(channel, chatID)

	if c.Scheduler != nil {
		c.Scheduler.RemoveJobsFor(channel, chatID)
	}

	previous, _, err := c.Tracker.Restart(key)
	if previous != nil {
		c.wrapUp(channel, chatID, previous)
	}
	if err != nil {
		log.Printf("Error restarting survey for %s: %v", key, err)
	}

	c.Out.PublishOutbound(bus.OutboundMessage{
		Channel:      channel,
		ChatID:       chatID,
		Content:      script.Render(c.Script.Greeting.Text, c.vars(key)),
		QuickReplies: c.Script.Greeting.QuickReplies,
		Track:        true,
	})
	return err
}

// wrapUp tells the user what was recorded and posts the transcript to the report target.
// Surveys closed without any answer are dropped silently.
func (c *Controller) wrapUp(channel, chatID string, s *survey.Survey) {
	if !hasAnswers(s, c.Script) {
		log.Printf("Survey %s closed without answers", s.ID())
		return
	}

	if c.Script.Summary != "" {
		c.send(channel, chatID, c.Script.RenderSummary(s.Answers), false)
	}

	if c.Report.Channel == "" || c.Report.ChatID == "" {
		return
	}
	c.Out.PublishOutbound(bus.OutboundMessage{
		Channel:  c.Report.Channel,
		ChatID:   c.Report.ChatID,
		Content:  s.Markdown(c.name(s.UserID())),
		Markdown: true,
	})
}

func hasAnswers(s *survey.Survey, sc *script.Script) bool {
	for _, st := range sc.Stages {
		if len(s.Answers(st.Alias)) > 0 {
			return true
		}
	}
	return false
}

// Delivered records a tracked message once a channel has sent it.
func (c *Controller) Delivered(msg bus.OutboundMessage) {
	if !msg.Track {
		return
	}
	if _, err := c.Tracker.RecordOutgoing(msg.SessionKey(), msg.Content, survey.StageOf(msg.Stage)); err != nil {
		log.Printf("Error tracking sent message to %s: %v", msg.SessionKey(), err)
	}
}

func (c *Controller) send(channel, chatID, text string, track bool) {
	if text == "" {
		return
	}
	c.Out.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: text,
		Track:   track,
	})
}

func (c *Controller) rememberName(key, name string) {
	c.namesMu.Lock()
	defer c.namesMu.Unlock()
	c.names[key] = name
}

func (c *Controller) name(key string) string {
	c.namesMu.RLock()
	defer c.namesMu.RUnlock()
	return c.names[key]
}

func (c *Controller) vars(key string) map[string]string {
	name := c.name(key)
	if name == "" {
		name = "there"
	}
	return map[string]string{"name": name}
}
