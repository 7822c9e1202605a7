package cron

// Schedule kinds.
const (
	KindAt    = "at"
	KindEvery = "every"
	KindCron  = "cron"
)

// Payload kinds.
const (
	// PayloadRestartSurvey restarts the survey for Channel/ChatID.
	PayloadRestartSurvey = "restart_survey"
)

// campaignPrefix names the jobs created by ScheduleCampaigns.
const campaignPrefix = "campaign "

// Campaign restarts the survey for a chat on a recurring schedule.
type Campaign struct {
	Channel  string
	ChatID   string
	Schedule Schedule
}

// Schedule definition.
type Schedule struct {
	Kind    string `json:"kind"` // at, every, cron
	AtMs    int64  `json:"atMs,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	Expr    string `json:"expr,omitempty"`
}

// Payload tells the job handler what to do.
type Payload struct {
	Kind    string `json:"kind"`
	Channel string `json:"channel"`
	ChatID  string `json:"chatId"`
}

// JobState runtime state.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // ok, error
	LastError   string `json:"lastError,omitempty"`
}

// Job definition.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

// Store persistent store.
type Store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}
