package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// maxSleep caps the loop delay so newly added jobs are picked up.
const maxSleep = 10 * time.Second

// Service runs scheduled jobs such as delayed survey restarts.
type Service struct {
	StorePath string
	OnJob     func(Job) error

	store    *Store
	now      func() time.Time
	parser   cron.Parser
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

// NewService creates a new cron service persisting its jobs to storePath.
func NewService(storePath string, onJob func(Job) error) *Service {
	return &Service{
		StorePath: storePath,
		OnJob:     onJob,
		now:       time.Now,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		stopChan:  make(chan struct{}),
	}
}

func (s *Service) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *Service) computeNextRun(schedule Schedule, nowMs int64) int64 {
	switch schedule.Kind {
	case KindAt:
		return schedule.AtMs
	case KindEvery:
		if schedule.EveryMs <= 0 {
			return 0
		}
		return nowMs + schedule.EveryMs
	case KindCron:
		if schedule.Expr == "" {
			return 0
		}
		sched, err := s.parser.Parse(schedule.Expr)
		if err != nil {
			log.Printf("Error parsing cron expr '%s': %v", schedule.Expr, err)
			return 0
		}
		return sched.Next(time.UnixMilli(nowMs)).UnixMilli()
	}
	return 0
}

// ValidateSchedule reports whether the schedule can ever fire.
func (s *Service) ValidateSchedule(schedule Schedule) error {
	switch schedule.Kind {
	case KindAt:
		if schedule.AtMs <= 0 {
			return errors.New("at schedule needs atMs")
		}
	case KindEvery:
		if schedule.EveryMs <= 0 {
			return errors.New("every schedule needs a positive everyMs")
		}
	case KindCron:
		if _, err := s.parser.Parse(schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", schedule.Expr, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", schedule.Kind)
	}
	return nil
}

func (s *Service) loadStore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return
	}

	s.store = &Store{Version: 1, Jobs: []Job{}}

	data, err := os.ReadFile(s.StorePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Failed to load cron store: %v", err)
		}
		return
	}

	if err := json.Unmarshal(data, s.store); err != nil {
		log.Printf("Failed to parse cron store: %v", err)
	}
}

func (s *Service) saveStoreLocked() {
	if s.store == nil || s.StorePath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.StorePath), 0755); err != nil {
		log.Printf("Failed to create cron store dir: %v", err)
		return
	}

	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		log.Printf("Failed to marshal cron store: %v", err)
		return
	}

	if err := os.WriteFile(s.StorePath, data, 0644); err != nil {
		log.Printf("Failed to save cron store: %v", err)
	}
}

// Start loads the stored jobs and starts the scheduling loop.
func (s *Service) Start() {
	s.loadStore()
	s.recomputeNextRuns()

	s.mu.Lock()
	s.saveStoreLocked()
	s.running = true
	count := len(s.store.Jobs)
	s.mu.Unlock()

	go s.loop()
	log.Printf("Cron service started with %d jobs", count)
}

// Stop stops the cron service.
func (s *Service) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Service) recomputeNextRuns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMs()
	for i := range s.store.Jobs {
		job := &s.store.Jobs[i]
		if !job.Enabled {
			continue
		}
		// Keep pending one-shots that were missed while the process was down.
		if job.Schedule.Kind == KindAt && job.State.NextRunAtMs > 0 {
			continue
		}
		job.State.NextRunAtMs = s.computeNextRun(job.Schedule, now)
	}
}

func (s *Service) nextWakeMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.store == nil {
		return 0
	}

	var minNext int64
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMs > 0 {
			if minNext == 0 || job.State.NextRunAtMs < minNext {
				minNext = job.State.NextRunAtMs
			}
		}
	}
	return minNext
}

func (s *Service) loop() {
	for {
		delay := maxSleep
		if next := s.nextWakeMs(); next > 0 {
			delay = time.Duration(next-s.nowMs()) * time.Millisecond
			if delay < 0 {
				delay = 0
			}
			if delay > maxSleep {
				delay = maxSleep
			}
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
			s.RunDue()
		}
	}
}

// RunDue executes every job whose next run time has passed.
func (s *Service) RunDue() {
	s.mu.Lock()
	if s.store == nil {
		s.mu.Unlock()
		return
	}
	now := s.nowMs()
	var due []Job
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMs > 0 && now >= job.State.NextRunAtMs {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for i := range due {
		job := due[i]
		s.executeJob(&job)
		s.finishRun(job)
	}
}

func (s *Service) finishRun(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, j := range s.store.Jobs {
		if j.ID == job.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Removed while running.
		return
	}

	s.store.Jobs[idx] = job
	if job.Schedule.Kind == KindAt {
		if job.DeleteAfterRun {
			s.store.Jobs = append(s.store.Jobs[:idx], s.store.Jobs[idx+1:]...)
		} else {
			s.store.Jobs[idx].Enabled = false
			s.store.Jobs[idx].State.NextRunAtMs = 0
		}
	} else {
		s.store.Jobs[idx].State.NextRunAtMs = s.computeNextRun(job.Schedule, s.nowMs())
	}
	s.saveStoreLocked()
}

func (s *Service) executeJob(job *Job) {
	log.Printf("Cron: executing job '%s' (%s)", job.Name, job.ID)
	startMs := s.nowMs()

	job.State.LastStatus = "ok"
	job.State.LastError = ""

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Cron: panic executing job: %v", r)
			job.State.LastStatus = "error"
			job.State.LastError = fmt.Sprintf("panic: %v", r)
		}
		job.State.LastRunAtMs = startMs
		job.UpdatedAtMs = s.nowMs()
	}()

	if s.OnJob != nil {
		if err := s.OnJob(*job); err != nil {
			log.Printf("Cron: job '%s' failed: %v", job.Name, err)
			job.State.LastStatus = "error"
			job.State.LastError = err.Error()
		}
	}
}

// ListJobs returns a copy of the jobs sorted by next run, unscheduled last.
func (s *Service) ListJobs() []Job {
	s.loadStore()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}

	jobs := make([]Job, len(s.store.Jobs))
	copy(jobs, s.store.Jobs)

	sort.SliceStable(jobs, func(i, j int) bool {
		n1 := jobs[i].State.NextRunAtMs
		n2 := jobs[j].State.NextRunAtMs
		if n1 == 0 {
			return false
		}
		if n2 == 0 {
			return true
		}
		return n1 < n2
	})
	return jobs
}

// AddJob schedules a new job and persists the store.
func (s *Service) AddJob(name string, schedule Schedule, payload Payload, deleteAfterRun bool) (Job, error) {
	if err := s.ValidateSchedule(schedule); err != nil {
		return Job{}, err
	}

	s.loadStore()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMs()
	job := Job{
		ID:       uuid.New().String()[:8],
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
		State: JobState{
			NextRunAtMs: s.computeNextRun(schedule, now),
		},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}

	s.store.Jobs = append(s.store.Jobs, job)
	s.saveStoreLocked()
	return job, nil
}

// ScheduleRestart schedules a one-shot survey restart for a chat after delay.
// Any restart already pending for the same chat is replaced.
func (s *Service) ScheduleRestart(channel, chatID string, delay time.Duration) (Job, error) {
	name := fmt.Sprintf("restart survey %s:%s", channel, chatID)
	s.RemoveJobsFor(channel, chatID)
	return s.AddJob(name, Schedule{
		Kind: KindAt,
		AtMs: s.now().Add(delay).UnixMilli(),
	}, Payload{
		Kind:    PayloadRestartSurvey,
		Channel: channel,
		ChatID:  chatID,
	}, true)
}

// RemoveJob deletes a job by id.
func (s *Service) RemoveJob(jobID string) bool {
	return s.removeWhere(func(j Job) bool { return j.ID == jobID }) > 0
}

// RemoveJobsFor deletes the one-shot restarts pending for the chat and
// returns how many were removed. Campaign schedules are kept.
func (s *Service) RemoveJobsFor(channel, chatID string) int {
	return s.removeWhere(func(j Job) bool {
		return j.Schedule.Kind == KindAt && j.Payload.Channel == channel && j.Payload.ChatID == chatID
	})
}

// ScheduleCampaigns replaces every campaign job with the given campaigns.
// Nothing changes if any campaign has an invalid schedule.
func (s *Service) ScheduleCampaigns(campaigns []Campaign) ([]Job, error) {
	for _, c := range campaigns {
		if err := s.ValidateSchedule(c.Schedule); err != nil {
			return nil, fmt.Errorf("campaign %s:%s: %w", c.Channel, c.ChatID, err)
		}
	}

	s.removeWhere(func(j Job) bool { return strings.HasPrefix(j.Name, campaignPrefix) })

	jobs := make([]Job, 0, len(campaigns))
	for _, c := range campaigns {
		job, err := s.AddJob(campaignPrefix+c.Channel+":"+c.ChatID, c.Schedule, Payload{
			Kind:    PayloadRestartSurvey,
			Channel: c.Channel,
			ChatID:  c.ChatID,
		}, false)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Service) removeWhere(match func(Job) bool) int {
	s.loadStore()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return 0
	}

	kept := make([]Job, 0, len(s.store.Jobs))
	removed := 0
	for _, job := range s.store.Jobs {
		if match(job) {
			removed++
			continue
		}
		kept = append(kept, job)
	}

	if removed > 0 {
		s.store.Jobs = kept
		s.saveStoreLocked()
	}
	return removed
}
