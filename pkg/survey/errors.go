package survey

import "errors"

var (
	// ErrInvalidUserID is returned for user ids that are empty after trimming.
	ErrInvalidUserID = errors.New("survey: invalid user id")

	// ErrSurveyFinished is returned when a finished survey is finished again
	// or asked to track another message.
	ErrSurveyFinished = errors.New("survey: already finished")

	// ErrSurveyActive is returned by StartTracking when the user already has an active survey.
	ErrSurveyActive = errors.New("survey: user already has an active survey")

	// ErrInconsistentRegistry means a survey vanished right after it was registered.
	// It points to a bug in the store, never to bad input.
	ErrInconsistentRegistry = errors.New("survey: registry lost a freshly started survey")

	// ErrEmptyText is returned when tracking a message without text.
	ErrEmptyText = errors.New("survey: message text is empty")
)
