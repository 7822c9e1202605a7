package survey

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Observer is notified of survey lifecycle events.
type Observer interface {
	SurveyStarted(s *Survey)
	SurveyFinished(s *Survey)
	SurveyStopped(s *Survey)
	MessageTracked(s *Survey, m *Message)
}

// Tracker knows which survey, if any, each user is currently in.
type Tracker struct {
	store    Store
	now      func() time.Time
	newID    func() string
	observer Observer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used for start, end and outgoing timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator overrides the generator for survey and outgoing message ids.
func WithIDGenerator(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// NewTracker creates a tracker backed by store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NormalizeUserID trims the id and rejects empty results.
func NormalizeUserID(userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", ErrInvalidUserID
	}
	return id, nil
}

// StartTracking starts a new survey for the user. It returns ErrSurveyActive when
// the user is already in a survey; use Restart to replace it.
func (t *Tracker) StartTracking(userID string) (*Survey, error) {
	id, err := NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	s := NewSurvey(t.newID(), id, t.now())
	s.now = t.now
	s.newID = t.newID

	if err := t.store.Add(s); err != nil {
		return nil, err
	}
	log.Printf("Started tracking survey %s for user %s", s.ID(), id)
	if t.observer != nil {
		t.observer.SurveyStarted(s)
	}
	return s, nil
}

// Active returns the user's active survey.
func (t *Tracker) Active(userID string) (*Survey, bool) {
	id, err := NormalizeUserID(userID)
	if err != nil {
		return nil, false
	}
	return t.store.Get(id)
}

// GetOrStart returns the user's active survey, starting one if there is none.
func (t *Tracker) GetOrStart(userID string) (*Survey, error) {
	if s, ok := t.Active(userID); ok {
		return s, nil
	}

	if _, err := t.StartTracking(userID); err != nil && !errors.Is(err, ErrSurveyActive) {
		return nil, err
	}

	s, ok := t.Active(userID)
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrInconsistentRegistry)
	}
	return s, nil
}

// StopTracking removes the survey from the active set. It is safe to call more than once.
func (t *Tracker) StopTracking(s *Survey) {
	if s == nil {
		return
	}
	if !t.store.Remove(s.ID()) {
		return
	}
	log.Printf("Stopped tracking survey.\n%s", s.Describe())
	if t.observer != nil {
		t.observer.SurveyStopped(s)
	}
}

// Complete finishes the survey and stops tracking it.
func (t *Tracker) Complete(s *Survey) error {
	if err := s.Finish(); err != nil {
		// Still evict it: a finished survey must not stay active.
		t.StopTracking(s)
		return fmt.Errorf("complete survey %s: %w", s.ID(), err)
	}
	if t.observer != nil {
		t.observer.SurveyFinished(s)
	}
	t.StopTracking(s)
	return nil
}

// CompleteIfReached completes the user's active survey when its most recent
// answer belongs to the terminal stage.
func (t *Tracker) CompleteIfReached(userID, terminal string) (*Survey, bool, error) {
	s, ok := t.Active(userID)
	if !ok {
		return nil, false, nil
	}
	last, ok := s.MostRecent(Incoming)
	if !ok || !last.Stage().Is(terminal) {
		return s, false, nil
	}
	if err := t.Complete(s); err != nil {
		return s, false, err
	}
	return s, true, nil
}

// Restart completes the user's current survey, if any, and starts a fresh one.
// The completed survey is returned as previous.
func (t *Tracker) Restart(userID string) (previous, current *Survey, err error) {
	if s, ok := t.Active(userID); ok {
		if err := t.Complete(s); err != nil && !errors.Is(err, ErrSurveyFinished) {
			return nil, nil, err
		}
		previous = s
	}

	current, err = t.StartTracking(userID)
	if err != nil {
		return previous, nil, err
	}
	return previous, current, nil
}

// RecordOutgoing tracks a message sent to the user. stage is set for questions only.
func (t *Tracker) RecordOutgoing(userID, text string, stage Stage) (*Message, error) {
	s, err := t.GetOrStart(userID)
	if err != nil {
		return nil, err
	}
	msg, err := s.TrackSent(text, stage)
	if err != nil {
		return nil, fmt.Errorf("track sent message for %s: %w", s.UserID(), err)
	}
	if t.observer != nil {
		t.observer.MessageTracked(s, msg)
	}
	return msg, nil
}

// RecordIncoming tracks a message received from the user.
func (t *Tracker) RecordIncoming(userID, messageID string, timestamp time.Time, text string) (*Message, error) {
	s, err := t.GetOrStart(userID)
	if err != nil {
		return nil, err
	}
	msg, err := s.TrackReceived(messageID, timestamp, text)
	if err != nil {
		return nil, fmt.Errorf("track received message for %s: %w", s.UserID(), err)
	}
	if t.observer != nil {
		t.observer.MessageTracked(s, msg)
	}
	return msg, nil
}

// List returns the active surveys.
func (t *Tracker) List() []*Survey {
	return t.store.List()
}
