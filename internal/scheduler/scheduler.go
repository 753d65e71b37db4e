package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner executes a Lua script.
type Runner interface {
	Run(ctx context.Context, name, code string) error
}

// Entry describes one scheduled script.
type Entry struct {
	ID     cron.EntryID `json:"id"`
	Name   string       `json:"name"`
	Spec   string       `json:"spec"`
	Script string       `json:"script"`
	Next   time.Time    `json:"next"`
}

// Scheduler manages all cron-related tasks: the periodic system jobs and
// user scripts. A job still running when its next activation comes is
// skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	store map[cron.EntryID]Entry
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(runner Runner, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		store:  make(map[cron.EntryID]Entry),
	}
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Cron scheduler started")
}

// Stop halts the ticker, cancels running scripts and waits for running
// jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Cron scheduler stopped")
}

// Every runs fn at a fixed interval. Intervals below one second round up.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) cron.EntryID {
	id := s.cron.Schedule(cron.Every(d), cron.FuncJob(fn))
	s.logger.Debug().Str("job", name).Dur("every", d).Int("id", int(id)).Msg("Added periodic job")
	return id
}

// Add schedules a Lua script on a standard five-field cron spec or a
// descriptor such as "@hourly".
func (s *Scheduler) Add(name, spec, script string) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = spec
	}
	id, err := s.cron.AddFunc(spec, func() { s.execute(name, script) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.store[id] = Entry{ID: id, Name: name, Spec: spec, Script: script}
	s.logger.Info().Int("id", int(id)).Str("name", name).Str("spec", spec).Msg("Added schedule")
	return id, nil
}

// Remove deletes a scheduled script. Unknown ids are ignored.
func (s *Scheduler) Remove(id cron.EntryID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.store[id]; !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.store, id)
	s.logger.Info().Int("id", int(id)).Msg("Removed schedule")
	return true
}

// Entries returns the scheduled scripts ordered by id.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.store))
	for id, e := range s.store {
		e.Next = s.cron.Entry(id).Next
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) execute(name, script string) {
	s.logger.Info().Str("name", name).Msg("Executing scheduled script")
	if err := s.runner.Run(s.ctx, name, script); err != nil {
		s.logger.Warn().Err(err).Str("name", name).Msg("Scheduled script failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
