package survey

import (
	"fmt"
	"time"
)

// Direction tells whether a message was received from or sent to the user.
type Direction int

const (
	Incoming Direction = iota + 1
	Outgoing
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Stage labels the survey question a message belongs to.
// Valid is false when the message is not attached to any question.
type Stage struct {
	Alias string
	Valid bool
}

// StageOf returns a valid stage for alias. An empty alias yields no stage.
func StageOf(alias string) Stage {
	if alias == "" {
		return Stage{}
	}
	return Stage{Alias: alias, Valid: true}
}

// Is reports whether the stage is set and equal to alias.
func (s Stage) Is(alias string) bool {
	return s.Valid && s.Alias == alias
}

func (s Stage) String() string {
	if !s.Valid {
		return ""
	}
	return s.Alias
}

// Message is one tracked chat message. It is immutable after creation.
type Message struct {
	id        string
	text      string
	direction Direction
	timestamp time.Time
	stage     Stage
}

// NewMessage builds a message. Tracker and Survey create messages themselves;
// this is exported for stores and tests that need to rebuild a log.
func NewMessage(id, text string, direction Direction, timestamp time.Time, stage Stage) *Message {
	return &Message{
		id:        id,
		text:      text,
		direction: direction,
		timestamp: timestamp,
		stage:     stage,
	}
}

func (m *Message) ID() string           { return m.id }
func (m *Message) Text() string         { return m.text }
func (m *Message) Direction() Direction { return m.direction }
func (m *Message) Timestamp() time.Time { return m.timestamp }
func (m *Message) Stage() Stage         { return m.stage }
