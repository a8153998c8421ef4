// Package scheduler runs the platform's background jobs on fixed
// cadences, staggering the ones that should also fire once at start so a
// process restart doesn't thunder-herd every job at t=0, per spec
// section 4.9.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
)

// startStaggerMax bounds the random delay applied to a runOnStart job's
// first invocation, so a fleet of processes restarting together doesn't
// all fire the same job in the same instant.
const startStaggerMax = 10 * time.Second

// Job describes one background task.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Fn         func(ctx context.Context) error
}

// Status is a point-in-time snapshot of one job's run history.
// LastDurationMs is tracked alongside Interval so an operator can spot a
// job whose runtime is creeping toward its own cadence before it starts
// stacking invocations instead of queueing them.
type Status struct {
	Name           string    `json:"name"`
	LastRun        time.Time `json:"lastRun"`
	LastDurationMs int64     `json:"lastDurationMs"`
	RunCount       int       `json:"runCount"`
	LastError      string    `json:"lastError,omitempty"`
}

// Scheduler registers jobs and runs each on its own steady interval via
// an underlying robfig/cron engine, configured with @every schedules
// rather than crontab expressions since every cadence here is a plain
// fixed interval.
type Scheduler struct {
	cron   *cron.Cron
	reg    *metrics.Registry
	logger *logging.Logger
	ctx    context.Context

	mu       sync.Mutex
	jobs     []Job
	statuses map[string]*Status
	timers   []*time.Timer
}

// New constructs a scheduler. ctx is used as the base context for every
// job invocation.
func New(ctx context.Context, reg *metrics.Registry, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		reg:      reg,
		logger:   logger,
		ctx:      ctx,
		statuses: make(map[string]*Status),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	s.statuses[j.Name] = &Status{Name: j.Name}
}

// Start schedules every registered job's steady interval, and for each
// runOnStart job also fires a one-off invocation after a random delay in
// [0, 10s).
func (s *Scheduler) Start() error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		j := j
		spec := fmt.Sprintf("@every %s", j.Interval)
		if _, err := s.cron.AddFunc(spec, func() { s.run(j) }); err != nil {
			return fmt.Errorf("scheduling job %s: %w", j.Name, err)
		}
		if j.RunOnStart {
			delay := time.Duration(rand.Int63n(int64(startStaggerMax)))
			timer := time.AfterFunc(delay, func() { s.run(j) })
			s.mu.Lock()
			s.timers = append(s.timers, timer)
			s.mu.Unlock()
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron engine and cancels any pending staggered start
// timers, waiting for any in-flight job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Status returns a snapshot of every registered job's run history.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.statuses))
	for _, j := range s.jobs {
		out = append(out, *s.statuses[j.Name])
	}
	return out
}

func (s *Scheduler) run(j Job) {
	start := time.Now()
	err := j.Fn(s.ctx)
	elapsed := time.Since(start)

	s.reg.Set(fmt.Sprintf("cron.%s.last_run_ms", j.Name), float64(elapsed.Milliseconds()))

	s.mu.Lock()
	st := s.statuses[j.Name]
	st.LastRun = start
	st.LastDurationMs = elapsed.Milliseconds()
	st.RunCount++
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.reg.Increment(fmt.Sprintf("cron.%s.error_total", j.Name))
		s.logger.Error(s.ctx, "scheduled job failed", err, map[string]interface{}{"job": j.Name})
		return
	}
	s.reg.Increment(fmt.Sprintf("cron.%s.success_total", j.Name))
}
