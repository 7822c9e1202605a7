package script

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"gopkg.in/yaml.v3"
)

// Payloads with a fixed meaning in every script.
const (
	PayloadStart      = "START_SURVEY"
	PayloadDelay      = "DELAY_SURVEY"
	PayloadRestart    = "RESTART_SURVEY"
	PayloadGetStarted = "GET_STARTED"
)

// Prompt is a message with optional quick reply buttons.
type Prompt struct {
	Text         string           `yaml:"text"`
	QuickReplies []bus.QuickReply `yaml:"quickReplies,omitempty"`
}

// Stage is one survey question.
type Stage struct {
	Alias  string `yaml:"alias"`
	Prompt `yaml:",inline"`
}

// Delay is the reply to "not now" and how long to wait before asking again.
type Delay struct {
	Text       string        `yaml:"text"`
	RetryAfter time.Duration `yaml:"retryAfter"`
}

// Script describes the whole survey dialogue.
type Script struct {
	Greeting   Prompt  `yaml:"greeting"`
	GetStarted string  `yaml:"getStarted"`
	Delay      Delay   `yaml:"delay"`
	Stages     []Stage `yaml:"stages"`
	Terminal   string  `yaml:"terminal"`
	Summary    string  `yaml:"summary"`
}

// Action is what the dialogue should do after a quick reply.
type Action int

const (
	ActionNone Action = iota
	ActionAsk
	ActionDelay
)

// Load reads and validates a YAML script.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault loads path, falling back to Default when path is empty or missing.
func LoadOrDefault(path string) (*Script, error) {
	if path == "" {
		return Default(), nil
	}
	s, err := Load(path)
	if err != nil && os.IsNotExist(err) {
		return Default(), nil
	}
	return s, err
}

// Parse decodes and validates a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse survey script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes the script as YAML.
func (s *Script) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Validate checks the script is usable.
func (s *Script) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Greeting.Text) == "" {
		errs = append(errs, errors.New("greeting text is required"))
	}
	if len(s.Stages) == 0 {
		errs = append(errs, errors.New("at least one stage is required"))
	}

	seen := make(map[string]bool)
	for i, st := range s.Stages {
		switch {
		case st.Alias == "":
			errs = append(errs, fmt.Errorf("stage %d: alias is required", i))
		case seen[st.Alias]:
			errs = append(errs, fmt.Errorf("stage %d: duplicate alias %q", i, st.Alias))
		}
		seen[st.Alias] = true
		if strings.TrimSpace(st.Text) == "" {
			errs = append(errs, fmt.Errorf("stage %q: text is required", st.Alias))
		}
	}

	if s.Terminal == "" {
		errs = append(errs, errors.New("terminal stage is required"))
	} else if !seen[s.Terminal] {
		errs = append(errs, fmt.Errorf("terminal stage %q is not defined", s.Terminal))
	}
	if s.Delay.RetryAfter < 0 {
		errs = append(errs, errors.New("delay.retryAfter must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid survey script: %w", errors.Join(errs...))
	}
	return nil
}

// Stage returns the stage with the given alias.
func (s *Script) Stage(alias string) (*Stage, bool) {
	for i := range s.Stages {
		if s.Stages[i].Alias == alias {
			return &s.Stages[i], true
		}
	}
	return nil, false
}

// PayloadAction returns the part of a payload before the first colon,
// e.g. "HAPPY" for "HAPPY:4".
func PayloadAction(payload string) string {
	action, _, _ := strings.Cut(payload, ":")
	return action
}

// Route decides what follows a quick reply payload. For ActionAsk the
// returned stage is the question to send next.
func (s *Script) Route(payload string) (Action, *Stage) {
	action := PayloadAction(payload)
	switch action {
	case "":
		return ActionNone, nil
	case PayloadStart:
		return ActionAsk, &s.Stages[0]
	case PayloadDelay:
		return ActionDelay, nil
	}

	for i, st := range s.Stages {
		for _, qr := range st.QuickReplies {
			if PayloadAction(qr.Payload) != action {
				continue
			}
			if i+1 < len(s.Stages) {
				return ActionAsk, &s.Stages[i+1]
			}
			return ActionNone, nil
		}
	}
	return ActionNone, nil
}

// MatchReply maps typed text to a quick reply payload of the given stage, for
// platforms without buttons. Text matches a reply title, the value after the
// payload colon, or the reply's 1-based position. An empty alias matches the
// greeting replies.
func (s *Script) MatchReply(alias, text string) (string, bool) {
	replies := s.Greeting.QuickReplies
	if alias != "" {
		st, ok := s.Stage(alias)
		if !ok {
			return "", false
		}
		replies = st.QuickReplies
	}

	want := normalize(text)
	if want == "" {
		return "", false
	}
	for _, qr := range replies {
		if normalize(qr.Title) == want {
			return qr.Payload, true
		}
		if _, value, ok := strings.Cut(qr.Payload, ":"); ok && normalize(value) == want {
			return qr.Payload, true
		}
	}
	// Option numbers as listed by text-only channels.
	if n, err := strconv.Atoi(strings.TrimSuffix(want, ".")); err == nil && n >= 1 && n <= len(replies) {
		return replies[n-1].Payload, true
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Render substitutes {key} placeholders.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// RenderSummary fills the summary template with each stage's answers.
func (s *Script) RenderSummary(answers func(alias string) []string) string {
	vars := make(map[string]string, len(s.Stages))
	for _, st := range s.Stages {
		vars[st.Alias] = strings.Join(answers(st.Alias), ", ")
	}
	return Render(s.Summary, vars)
}

// Default returns the built-in employee survey.
func Default() *Script {
	return &Script{
		Greeting: Prompt{
			Text: "Hi {name}, your opinion matters to us. Do you have a few seconds to answer a quick survey?",
			QuickReplies: []bus.QuickReply{
				{Title: "Yes", Payload: PayloadStart},
				{Title: "Not now", Payload: PayloadDelay},
			},
		},
		GetStarted: "Thanks for choosing to get started!",
		Delay: Delay{
			Text:       "No problem, we'll try again tomorrow",
			RetryAfter: 24 * time.Hour,
		},
		Stages: []Stage{
			{
				Alias: "happiness",
				Prompt: Prompt{
					Text: "Between 1 and 5, where 5 is 'Very Happy', how happy are you working here? Please choose one of the following options:",
					QuickReplies: []bus.QuickReply{
						{Title: "☹️ 1", Payload: "HAPPY:1"},
						{Title: "2", Payload: "HAPPY:2"},
						{Title: "3", Payload: "HAPPY:3"},
						{Title: "4", Payload: "HAPPY:4"},
						{Title: "5 😃", Payload: "HAPPY:5"},
						{Title: "Other", Payload: "HAPPY:Other"},
					},
				},
			},
			{
				Alias: "longevity",
				Prompt: Prompt{
					Text: "How long do you plan to stay in the company? Please choose one of the following options:",
					QuickReplies: []bus.QuickReply{
						{Title: "0-1 years", Payload: "STAY:1"},
						{Title: "1-2 years", Payload: "STAY:2"},
						{Title: "2-4 years", Payload: "STAY:3"},
						{Title: "5+ years", Payload: "STAY:4"},
						{Title: "Other", Payload: "STAY:Other"},
					},
				},
			},
			{
				Alias: "thankyou",
				Prompt: Prompt{
					Text: "Thanks for your feedback! Please provide some closing comments to complete the survey.",
				},
			},
		},
		Terminal: "thankyou",
		Summary:  "Thanks! Just so you know I was paying attention - you said you were {happiness} happy and wish to stay at the company for {longevity}",
	}
}
