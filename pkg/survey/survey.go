package survey

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Survey is one user's survey session and its message log.
type Survey struct {
	id        string
	userID    string
	startTime time.Time
	endTime   *time.Time
	messages  []*Message

	now   func() time.Time
	newID func() string
	mu    sync.RWMutex
}

// NewSurvey creates an active survey started at startTime.
func NewSurvey(id, userID string, startTime time.Time) *Survey {
	return &Survey{
		id:        id,
		userID:    userID,
		startTime: startTime,
		messages:  make([]*Message, 0),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

func (s *Survey) ID() string           { return s.id }
func (s *Survey) UserID() string       { return s.userID }
func (s *Survey) StartTime() time.Time { return s.startTime }

// EndTime returns the finish time, if the survey has been finished.
func (s *Survey) EndTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.endTime == nil {
		return time.Time{}, false
	}
	return *s.endTime, true
}

// IsFinished reports whether Finish has been called.
func (s *Survey) IsFinished() bool {
	_, ok := s.EndTime()
	return ok
}

// Finish marks the survey as finished. Finishing twice returns ErrSurveyFinished
// and keeps the first end time.
func (s *Survey) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endTime != nil {
		return ErrSurveyFinished
	}
	end := s.now()
	s.endTime = &end
	return nil
}

// TrackSent appends an outgoing message stamped with the current time.
func (s *Survey) TrackSent(text string, stage Stage) (*Message, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endTime != nil {
		return nil, ErrSurveyFinished
	}
	msg := NewMessage(s.newID(), text, Outgoing, s.now(), stage)
	s.messages = append(s.messages, msg)
	return msg, nil
}

// TrackReceived appends an incoming message. Its stage is taken from the most
// recent outgoing message, so an answer is attributed to the question that prompted it.
func (s *Survey) TrackReceived(id string, timestamp time.Time, text string) (*Message, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endTime != nil {
		return nil, ErrSurveyFinished
	}
	if id == "" {
		id = s.newID()
	}
	if timestamp.IsZero() {
		timestamp = s.now()
	}

	var stage Stage
	if last := mostRecent(s.messages, Outgoing); last != nil {
		stage = last.stage
	}

	msg := NewMessage(id, text, Incoming, timestamp, stage)
	s.messages = append(s.messages, msg)
	return msg, nil
}

// MostRecent returns the latest message in the given direction.
// Equal timestamps are broken by arrival order: the later arrival wins.
func (s *Survey) MostRecent(direction Direction) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := mostRecent(s.messages, direction)
	return msg, msg != nil
}

func mostRecent(messages []*Message, direction Direction) *Message {
	var latest *Message
	for _, m := range messages {
		if m.direction != direction {
			continue
		}
		if latest == nil || !m.timestamp.Before(latest.timestamp) {
			latest = m
		}
	}
	return latest
}

// MessagesByStageAndDirection returns the messages of one stage and direction in
// timestamp order, keeping arrival order for equal timestamps.
func (s *Survey) MessagesByStageAndDirection(alias string, direction Direction) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for _, m := range s.messages {
		if m.direction == direction && m.stage.Is(alias) {
			out = append(out, m)
		}
	}
	sortByTime(out)
	return out
}

// Answers returns the text of every answer given for a stage.
func (s *Survey) Answers(alias string) []string {
	msgs := s.MessagesByStageAndDirection(alias, Incoming)
	answers := make([]string, 0, len(msgs))
	for _, m := range msgs {
		answers = append(answers, m.text)
	}
	return answers
}

// Messages returns a copy of the log in arrival order.
func (s *Survey) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Transcript returns the log ordered by timestamp.
func (s *Survey) Transcript() []*Message {
	out := s.Messages()
	sortByTime(out)
	return out
}

func sortByTime(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].timestamp.Before(msgs[j].timestamp)
	})
}

// Describe renders the transcript for logs.
func (s *Survey) Describe() string {
	transcript := s.Transcript()

	var sb strings.Builder
	sb.WriteString("***\n")
	fmt.Fprintf(&sb, "User: %s\n", s.userID)
	fmt.Fprintf(&sb, "Survey started: %s\n", s.startTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "%d messages\n", len(transcript))
	for _, m := range transcript {
		label := "Answer"
		if m.direction == Outgoing {
			label = "Question"
		}
		if m.stage.Valid {
			fmt.Fprintf(&sb, "* %s (%s): %s\n", label, m.stage.Alias, m.text)
		} else {
			fmt.Fprintf(&sb, "* %s: %s\n", label, m.text)
		}
	}
	if end, ok := s.EndTime(); ok {
		fmt.Fprintf(&sb, "Survey finished: %s\n", end.Format(time.RFC3339))
	} else {
		sb.WriteString("Survey has not been marked as finished\n")
	}
	sb.WriteString("***")
	return sb.String()
}

// Markdown renders the survey for posting to a team feed.
func (s *Survey) Markdown(displayName string) string {
	if displayName == "" {
		displayName = s.userID
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Survey completed by %s\n\n", displayName)
	fmt.Fprintf(&sb, "- **Started:** %s\n", s.startTime.Format(time.RFC1123))
	if end, ok := s.EndTime(); ok {
		fmt.Fprintf(&sb, "- **Finished:** %s\n", end.Format(time.RFC1123))
	}
	sb.WriteString("\n")

	for _, m := range s.Transcript() {
		if m.direction == Outgoing {
			if m.stage.Valid {
				fmt.Fprintf(&sb, "**%s** _(%s)_\n", m.text, m.stage.Alias)
			} else {
				fmt.Fprintf(&sb, "**%s**\n", m.text)
			}
			continue
		}
		fmt.Fprintf(&sb, "> %s\n\n", m.text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
