// Package scheduler runs cron and one-shot jobs with a single registered
// fire callback. Each enabled task owns its own cron runner
// goroutine computing nextRunAt in local time, simplified to the
// narrower create/list/get/delete/stopAll/setOnTaskFire surface.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/agentcore/engine/pkg/models"
)

// parser accepts the standard 5-field cron expression (minute hour dom
// month dow), no seconds field.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns a set of running cron/one-shot tasks and invokes a
// single registered callback on each fire.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*taskRunner
	onFire func(models.ScheduledTask)
}

type taskRunner struct {
	task   models.ScheduledTask
	sched  cron.Schedule
	cancel context.CancelFunc
}

// New creates an empty scheduler. Callers must call SetOnTaskFire before
// any task can meaningfully fire.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*taskRunner)}
}

// SetOnTaskFire registers the single fire callback invoked with a
// snapshot of the task whenever any task fires.
func (s *Scheduler) SetOnTaskFire(cb func(models.ScheduledTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = cb
}

// Create registers a task from a cron expression. If enabled, its runner
// starts immediately. oneShot tasks are removed after their first fire
// even though they're expressed with an ordinary cron expression.
func (s *Scheduler) Create(name, cronExpr, action string, enabled, oneShot bool) (*models.ScheduledTask, error) {
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}
	task := models.ScheduledTask{
		ID:      uuid.NewString(),
		Name:    name,
		Cron:    cronExpr,
		Action:  action,
		Enabled: enabled,
		OneShot: oneShot,
	}
	return s.register(task, sched)
}

// CreateOneShot registers a task that fires exactly once after delay,
// derived internally into the same cron.Schedule shape so nextRunAt
// computation stays uniform with recurring tasks.
func (s *Scheduler) CreateOneShot(name string, delay time.Duration, action string) (*models.ScheduledTask, error) {
	at := time.Now().Add(delay)
	task := models.ScheduledTask{
		ID:      uuid.NewString(),
		Name:    name,
		Cron:    at.Format(time.RFC3339),
		Action:  action,
		Enabled: true,
		OneShot: true,
	}
	return s.register(task, onceSchedule{at: at})
}

func (s *Scheduler) register(task models.ScheduledTask, sched cron.Schedule) (*models.ScheduledTask, error) {
	runner := &taskRunner{task: task, sched: sched}
	s.mu.Lock()
	s.tasks[task.ID] = runner
	s.mu.Unlock()

	if task.Enabled {
		s.startRunner(runner)
	}
	snapshot := task
	return &snapshot, nil
}

func (s *Scheduler) startRunner(r *taskRunner) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go s.runLoop(ctx, r)
}

func (s *Scheduler) runLoop(ctx context.Context, r *taskRunner) {
	for {
		next := r.sched.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			s.fire(r, now)
			s.mu.Lock()
			oneShot := r.task.OneShot
			s.mu.Unlock()
			if oneShot {
				return
			}
		}
	}
}

func (s *Scheduler) fire(r *taskRunner, now time.Time) {
	s.mu.Lock()
	r.task.LastRunAt = &now
	cb := s.onFire
	snapshot := r.task
	oneShot := r.task.OneShot
	s.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
	if oneShot {
		s.Delete(r.task.ID)
	}
}

// List returns every task, with nextRunAt refreshed from each live
// runner before returning.
func (s *Scheduler) List() []models.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ScheduledTask, 0, len(s.tasks))
	now := time.Now()
	for _, r := range s.tasks {
		snapshot := r.task
		if snapshot.Enabled {
			if next := r.sched.Next(now); !next.IsZero() {
				snapshot.NextRunAt = &next
			}
		}
		out = append(out, snapshot)
	}
	return out
}

// Get returns a single task by id.
func (s *Scheduler) Get(id string) (*models.ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	snapshot := r.task
	return &snapshot, true
}

// Delete stops a task's runner (if any) and removes it. After Delete
// returns, no further fire callbacks occur for this id.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	r, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if r.cancel != nil {
		r.cancel()
	}
	return true
}

// StopAll cancels every running task's runner without deleting the
// tasks themselves, for graceful shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.tasks {
		if r.cancel != nil {
			r.cancel()
		}
	}
}

// onceSchedule implements cron.Schedule for a single absolute fire time,
// letting one-shot tasks share the same runner loop as recurring ones.
// After the fire time has passed, Next reports no further runs.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.After(o.at) {
		return time.Time{}
	}
	return o.at
}
