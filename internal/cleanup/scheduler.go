// Package cleanup is the Cleanup Scheduler: per-plugin timer-driven
// maintenance tasks (expiring magic links, pruning spent codes, reaping
// stale guest sessions) dispatched on jittered intervals with overlap-skip
// and crash isolation. Overlap-skip uses a single in-process atomic flag
// rather than a distributed lock, since one engine process owns the
// schedule.
package cleanup

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nocturneauth/authengine/internal/store"
)

// Result is a cleanup run's outcome: how many records it touched, any
// extra named counters the runner wants surfaced, and non-fatal errors
// encountered for individual records (a partial failure does not abort
// the run).
type Result struct {
	Cleaned  int
	Counters map[string]int64
	Errors   []error
}

// Runner is a plugin-supplied cleanup task body. It receives the engine's
// Data-Access Port and the plugin's resolved configuration so it can read
// tunables like retention windows.
type Runner func(ctx context.Context, db store.Port, pluginConfig map[string]any) (Result, error)

type task struct {
	plugin   string
	name     string
	interval time.Duration
	config   map[string]any
	runner   Runner
	running  int32 // atomic overlap-skip flag
	entryID  cron.EntryID

	mu        sync.Mutex
	lastRun   time.Time
	lastErr   error
	lastCount int
}

// Scheduler owns every registered cleanup task and the cron loop that
// drives them.
type Scheduler struct {
	cron  *cron.Cron
	db    store.Port
	log   zerolog.Logger
	mu    sync.Mutex
	tasks map[string]*task
}

func New(db store.Port, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(),
		db:    db,
		log:   log,
		tasks: make(map[string]*task),
	}
}

// jitterSchedule fires every interval +/- 10%, so a fleet of engines
// started at the same moment doesn't hammer the store in lockstep.
type jitterSchedule struct {
	interval time.Duration
}

func (j jitterSchedule) Next(t time.Time) time.Time {
	spread := float64(j.interval) * 0.10
	delta := time.Duration(spread * (rand.Float64()*2 - 1))
	next := j.interval + delta
	if next <= 0 {
		next = j.interval
	}
	return t.Add(next)
}

// RegisterTask adds a cleanup task under plugin/name, dispatched on a
// jittered interval. Registration happens once at engine construction
// time and is not safe to call concurrently with task execution.
func (s *Scheduler) RegisterTask(plugin, name string, interval time.Duration, pluginConfig map[string]any, runner Runner) error {
	key := taskKey(plugin, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[key]; exists {
		return fmt.Errorf("cleanup task %s already registered", key)
	}

	t := &task{plugin: plugin, name: name, interval: interval, config: pluginConfig, runner: runner}
	entryID := s.cron.Schedule(jitterSchedule{interval: interval}, cron.FuncJob(func() {
		s.run(context.Background(), t)
	}))
	t.entryID = entryID
	s.tasks[key] = t
	return nil
}

// Start begins the cron dispatch loop.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts dispatch without blocking; the returned context is done once
// any in-flight runs have finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Tasks enumerates every registered task's plugin/name pair, in
// registration order is not guaranteed since it reads a map.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		out = append(out, k)
	}
	return out
}

// RunOnce runs a single registered task immediately, outside its normal
// schedule, still honoring the overlap-skip flag. Used by admin tooling
// and tests.
func (s *Scheduler) RunOnce(ctx context.Context, plugin, name string) (Result, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskKey(plugin, name)]
	s.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("cleanup task %s/%s not registered", plugin, name)
	}
	return s.runSync(ctx, t)
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	if _, err := s.runSync(ctx, t); err != nil {
		s.log.Error().Err(err).Str("plugin", t.plugin).Str("task", t.name).Msg("cleanup task failed")
	}
}

func (s *Scheduler) runSync(ctx context.Context, t *task) (result Result, runErr error) {
	if !atomic.CompareAndSwapInt32(&t.running, 0, 1) {
		return Result{}, fmt.Errorf("cleanup task %s/%s already running, skipped", t.plugin, t.name)
	}
	defer atomic.StoreInt32(&t.running, 0)

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("cleanup task %s/%s panicked: %v", t.plugin, t.name, r)
		}
		t.mu.Lock()
		t.lastRun = time.Now()
		t.lastErr = runErr
		t.lastCount = result.Cleaned
		t.mu.Unlock()
	}()

	result, runErr = t.runner(ctx, s.db, t.config)
	return result, runErr
}

func taskKey(plugin, name string) string { return plugin + "/" + name }
