// Package scheduler runs configured automations on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/caevv/runlog/internal/config"
	"github.com/caevv/runlog/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned by RunNow when the automation's previous run
// has not finished.
var ErrAlreadyRunning = errors.New("previous run still in progress")

// AutomationRunner executes one run of an automation. Run should return
// promptly once ctx is cancelled.
type AutomationRunner interface {
	Run(ctx context.Context, a *config.Automation) error
}

// RunnerFunc adapts a function to AutomationRunner.
type RunnerFunc func(ctx context.Context, a *config.Automation) error

// Run implements AutomationRunner.
func (f RunnerFunc) Run(ctx context.Context, a *config.Automation) error {
	return f(ctx, a)
}

// Scheduler wraps robfig/cron. Each automation has at most one run in
// flight; an activation that fires while the previous run is still going
// is skipped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu          sync.RWMutex
	automations map[string]*scheduled
}

type scheduled struct {
	automation *config.Automation
	runner     AutomationRunner
	entryID    cron.EntryID

	running   bool
	lastRun   time.Time
	lastError string
	runCount  int64
	failCount int64
}

// Stats describes the runs of one scheduled automation.
type Stats struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	LastRun      time.Time `json:"last_run"`
	NextRun      time.Time `json:"next_run"`
	RunCount     int64     `json:"run_count"`
	FailureCount int64     `json:"failure_count"`
	LastError    string    `json:"last_error,omitempty"`
	Running      bool      `json:"running"`
}

// New creates a Scheduler. Cancelling ctx cancels every in-flight run.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runlog.scheduler")

	schedCtx, cancel := context.WithCancel(ctx)
	cronLogger := &cronSlogAdapter{logger: logger}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	return &Scheduler{
		cron:        c,
		ctx:         schedCtx,
		cancel:      cancel,
		logger:      logger,
		automations: make(map[string]*scheduled),
	}
}

// AddAutomation schedules a according to a.Schedule. An automation without a
// schedule is registered for RunNow only.
func (s *Scheduler) AddAutomation(a *config.Automation, runner AutomationRunner) error {
	if a == nil {
		return errors.New("automation cannot be nil")
	}
	if runner == nil {
		return errors.New("runner cannot be nil")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("automation name cannot be empty")
	}

	var schedule cron.Schedule
	if strings.TrimSpace(a.Schedule) != "" {
		var err error
		if schedule, err = ParseSchedule(a.Schedule); err != nil {
			return errors.Wrapf(err, "automation %s", a.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.automations[a.Name]; exists {
		return errors.Newf("automation %q is already scheduled", a.Name)
	}

	sa := &scheduled{automation: a, runner: runner}
	s.automations[a.Name] = sa

	if schedule == nil {
		s.logger.Info("automation registered without a schedule; it runs on demand only",
			slog.String("automation", a.Name))
		return nil
	}
	sa.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { _ = s.execute(sa) }))

	s.logger.Info("automation scheduled",
		slog.String("automation", a.Name),
		slog.String("schedule", a.Schedule),
		slog.Time("next_run", schedule.Next(time.Now())),
	)
	return nil
}

// execute performs one run. Runs of the same automation never overlap. A
// panicking run is recorded as a failure and returned as an error.
func (s *Scheduler) execute(sa *scheduled) (err error) {
	a := sa.automation
	logger := s.logger.With(slog.String("automation", a.Name))

	s.mu.Lock()
	if sa.running {
		s.mu.Unlock()
		logger.Info("previous run still in progress; skipping")
		return ErrAlreadyRunning
	}
	sa.running = true
	sa.lastRun = time.Now()
	sa.runCount++
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("automation run panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = errors.Newf("automation %s panicked: %v", a.Name, r)
		}

		s.mu.Lock()
		sa.running = false
		if err != nil {
			sa.failCount++
			sa.lastError = err.Error()
		} else {
			sa.lastError = ""
		}
		s.mu.Unlock()

		elapsed := time.Since(start)
		if err != nil {
			logger.Error("automation run failed",
				slog.Duration("duration", elapsed),
				slog.Any("error", err),
			)
			return
		}
		logger.Info("automation run completed", slog.Duration("duration", elapsed))
	}()

	ctx := logging.WithContext(s.ctx, logger)
	if a.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutSec)*time.Second)
		defer cancel()
	}

	logger.Info("starting automation run", slog.String("command", a.Command))
	return sa.runner.Run(ctx, a)
}

// RunNow runs the named automation immediately on the calling goroutine,
// outside its schedule, and returns the run's error. It returns
// ErrAlreadyRunning when a previous run has not finished.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	sa, ok := s.automations[name]
	s.mu.RUnlock()
	if !ok {
		return errors.Newf("automation %q is not scheduled", name)
	}
	return s.execute(sa)
}

// Start begins firing schedules. It does not block.
func (s *Scheduler) Start() {
	s.mu.RLock()
	n := len(s.automations)
	s.mu.RUnlock()

	if n == 0 {
		s.logger.Warn("starting scheduler with no automations")
	}
	s.logger.Info("starting scheduler", slog.Int("automation_count", n))
	s.cron.Start()
}

// Stop cancels in-flight runs and waits for them to return, or for ctx to
// expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping scheduler")
	s.cancel()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("all automation runs stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with runs still in flight")
		return errors.Wrap(ctx.Err(), "stop scheduler")
	}
}

// Names returns the scheduled automation names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.automations))
	for name := range s.automations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns run statistics for the named automation.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sa, ok := s.automations[name]
	if !ok {
		return Stats{}, false
	}
	st := Stats{
		Name:         name,
		Schedule:     sa.automation.Schedule,
		LastRun:      sa.lastRun,
		RunCount:     sa.runCount,
		FailureCount: sa.failCount,
		LastError:    sa.lastError,
		Running:      sa.running,
	}
	if sa.entryID != 0 {
		st.NextRun = s.cron.Entry(sa.entryID).Next
	}
	return st, true
}

// cronSlogAdapter adapts slog.Logger to cron.Logger.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...any) {
	attrs := make([]any, 0, len(keysAndValues)+1)
	attrs = append(attrs, slog.Any("error", err))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}
