// Package scheduler runs the daemon's background maintenance tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/logging"
)

// DefaultTimeout bounds a single task run
const DefaultTimeout = 5 * time.Minute

// ErrTaskNotFound is returned for unknown task ids
var ErrTaskNotFound = errors.New("task not found")

// Scheduler manages scheduled tasks
type Scheduler struct {
	tasks    map[string]*Task
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
	now      func() time.Time
	log      *logging.Logger
}

// Config configures the scheduler
type Config struct {
	Timezone string // Timezone for daily schedules (default: Local)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timezone: "Local",
	}
}

// NewScheduler creates a new scheduler. An unknown timezone falls back to Local.
func NewScheduler(cfg Config) *Scheduler {
	log := logging.For("scheduler")
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithError(err).Warn("Unknown timezone %q, using local time", cfg.Timezone)
		tz = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
		now:      time.Now,
		log:      log,
	}
}

// Task is a named unit of recurring work
type Task struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Schedule    Schedule      `json:"schedule"`
	Handler     TaskHandler   `json:"-"`
	Enabled     bool          `json:"enabled"`
	LastRun     *time.Time    `json:"lastRun,omitempty"`
	NextRun     *time.Time    `json:"nextRun,omitempty"`
	RunCount    int64         `json:"runCount"`
	ErrorCount  int64         `json:"errorCount"`
	LastError   string        `json:"lastError,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Timeout     time.Duration `json:"timeout"`
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"` // interval schedules
	At       string        `json:"at,omitempty"`       // "08:00" for daily, RFC3339 for once
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleOnce     ScheduleType = "once"
)

// Register adds a task and starts it if the scheduler is running.
func (s *Scheduler) Register(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id: %w", core.ErrMissingRequired)
	}
	if task.Handler == nil {
		return fmt.Errorf("task %s handler: %w", task.ID, core.ErrMissingRequired)
	}
	if task.Schedule.Type == ScheduleInterval && task.Schedule.Interval <= 0 {
		return fmt.Errorf("task %s interval must be positive: %w", task.ID, core.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Timeout == 0 {
		task.Timeout = DefaultTimeout
	}
	task.CreatedAt = s.now()
	task.Enabled = true

	nextRun := s.calculateNextRun(task.Schedule)
	task.NextRun = &nextRun

	if cancel, ok := s.running[task.ID]; ok {
		cancel()
		delete(s.running, task.ID)
	}
	s.tasks[task.ID] = task

	if s.started {
		s.startTask(task)
	}
	return nil
}

// Unregister removes a task, stopping it if it runs.
func (s *Scheduler) Unregister(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	s.stopTask(taskID)
	delete(s.tasks, taskID)
	return nil
}

// Enable enables a task
func (s *Scheduler) Enable(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	if task.Enabled {
		return nil
	}

	task.Enabled = true
	if s.started {
		s.startTask(task)
	}
	return nil
}

// Disable disables a task
func (s *Scheduler) Disable(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}

	task.Enabled = false
	s.stopTask(taskID)
	return nil
}

// Start starts every enabled task
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started: %w", core.ErrInvalidInput)
	}
	s.started = true

	for _, task := range s.tasks {
		if task.Enabled {
			s.startTask(task)
		}
	}
	s.log.WithField("tasks", len(s.tasks)).Info("Scheduler started")
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	s.log.Info("Scheduler stopped")
}

// startTask starts a task loop; the caller holds s.mu.
func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

// stopTask cancels a task loop; the caller holds s.mu.
func (s *Scheduler) stopTask(taskID string) {
	if cancel, ok := s.running[taskID]; ok {
		cancel()
		delete(s.running, taskID)
	}
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := task.NextRun.Sub(s.now())
		once := task.Schedule.Type == ScheduleOnce
		s.mu.RUnlock()

		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.executeTask(ctx, task)
		}

		if once {
			return
		}
	}
}

// executeTask runs the handler once with the task's timeout
func (s *Scheduler) executeTask(ctx context.Context, task *Task) error {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	start := s.now()
	s.mu.Lock()
	task.LastRun = &start
	task.RunCount++
	s.mu.Unlock()

	err := s.safeRun(execCtx, task)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	nextRun := s.calculateNextRun(task.Schedule)
	task.NextRun = &nextRun
	s.mu.Unlock()

	log := s.log.WithFields(map[string]interface{}{
		"task":     task.ID,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
	if err != nil {
		log.WithError(err).Warn("Task failed")
	} else {
		log.Debug("Task finished")
	}
	return err
}

func (s *Scheduler) safeRun(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Handler(ctx)
}

// calculateNextRun calculates the next run time for a schedule
func (s *Scheduler) calculateNextRun(schedule Schedule) time.Time {
	now := s.now().In(s.timezone)

	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)

	case ScheduleDaily:
		hour, minute := 8, 0
		fmt.Sscanf(schedule.At, "%d:%d", &hour, &minute)

		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.timezone)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, schedule.At)
		if err != nil {
			return now.Add(time.Minute)
		}
		return t

	default:
		return now.Add(time.Hour)
	}
}

// RunNow executes a task synchronously and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	return s.executeTask(ctx, task)
}

// GetTask returns a copy of a task by ID
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// ListTasks returns copies of all tasks sorted by id
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:      s.started,
		TotalTasks:   len(s.tasks),
		RunningTasks: len(s.running),
		Timezone:     s.timezone.String(),
	}

	for _, task := range s.tasks {
		if task.Enabled {
			stats.EnabledTasks++
		}
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
	}

	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool   `json:"started"`
	TotalTasks   int    `json:"totalTasks"`
	EnabledTasks int    `json:"enabledTasks"`
	RunningTasks int    `json:"runningTasks"`
	TotalRuns    int64  `json:"totalRuns"`
	TotalErrors  int64  `json:"totalErrors"`
	Timezone     string `json:"timezone"`
}

// IntervalTask creates a task that runs at a fixed interval
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}
