// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ErrUnknownJob is returned by RunNow for an unregistered name.
var ErrUnknownJob = errors.New("unknown job")

// Status is the outcome of a job's latest run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is one unit of maintenance. It reports how many items it affected.
type Task func(ctx context.Context) (int, error)

// JobStatus describes a registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Status    Status    `json:"status"`
	Runs      int       `json:"runs"`
	Affected  int       `json:"affected"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	name    string
	spec    string
	task    Task
	entryID cron.EntryID
	status  JobStatus
}

// Scheduler runs named tasks on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "jobs")
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: slog.Default().With("component", "jobs"),
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	adapter := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	return s
}

// ValidateSchedule reports whether spec is a usable schedule.
func ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Add registers a task. Names are unique.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if task == nil {
		return fmt.Errorf("job %s: task is required", name)
	}
	if err := ValidateSchedule(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: spec, task: task, status: JobStatus{Name: name, Schedule: spec, Status: StatusIdle}}
	id, err := s.cron.AddFunc(spec, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling, cancels running tasks and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a job synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobStatus, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.run(ctx, j)
	return s.snapshot(j), nil
}

// Jobs returns the status of every job sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		s.mu.Lock()
		j := s.jobs[name]
		s.mu.Unlock()
		out = append(out, s.snapshot(j))
	}
	return out
}

func (s *Scheduler) snapshot(j *job) JobStatus {
	next := s.cron.Entry(j.entryID).Next
	s.mu.Lock()
	defer s.mu.Unlock()
	st := j.status
	st.NextRun = next
	return st
}

func (s *Scheduler) execute(j *job) {
	s.run(s.ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	s.mu.Lock()
	j.status.Status = StatusRunning
	s.mu.Unlock()

	start := s.now()
	affected, err := j.task(ctx)

	s.mu.Lock()
	j.status.Runs++
	j.status.LastRun = start
	j.status.Affected = affected
	if err != nil {
		j.status.Status = StatusFailed
		j.status.LastError = err.Error()
	} else {
		j.status.Status = StatusSucceeded
		j.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", j.name, "error", err)
		return
	}
	s.logger.Debug("job finished", "job", j.name, "affected", affected, "duration", s.now().Sub(start))
}

// cronLogger adapts slog to the cron package's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
