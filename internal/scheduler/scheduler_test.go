package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/agentcore/engine/pkg/models"
)

func TestCreate_ListContainsFutureNextRun(t *testing.T) {
	s := New()
	before := time.Now()

	task, err := s.Create("daily digest", "0 9 * * *", "send_digest", true, false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer s.StopAll()

	tasks := s.List()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].ID != task.ID {
		t.Fatalf("expected task id %s, got %s", task.ID, tasks[0].ID)
	}
	if tasks[0].NextRunAt == nil || !tasks[0].NextRunAt.After(before) {
		t.Fatalf("expected nextRunAt in the future, got %v", tasks[0].NextRunAt)
	}
}

func TestDelete_RemovesTaskAndStopsFurtherFires(t *testing.T) {
	s := New()
	task, err := s.CreateOneShot("reminder", 20*time.Millisecond, "ping")
	if err != nil {
		t.Fatalf("CreateOneShot() error = %v", err)
	}

	if ok := s.Delete(task.ID); !ok {
		t.Fatal("expected Delete to report the task existed")
	}
	if _, ok := s.Get(task.ID); ok {
		t.Fatal("expected Get to report the task is gone after Delete")
	}
	if ok := s.Delete(task.ID); ok {
		t.Fatal("expected second Delete to report not found")
	}
}

func TestCreateOneShot_FiresOnceThenRemovesItself(t *testing.T) {
	s := New()

	var mu sync.Mutex
	var fires []models.ScheduledTask
	done := make(chan struct{})
	s.SetOnTaskFire(func(task models.ScheduledTask) {
		mu.Lock()
		fires = append(fires, task)
		mu.Unlock()
		close(done)
	})

	task, err := s.CreateOneShot("wake-up", 10*time.Millisecond, "ping")
	if err != nil {
		t.Fatalf("CreateOneShot() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for one-shot task to fire")
	}

	// Give the runner a moment to self-delete after invoking the callback.
	time.Sleep(20 * time.Millisecond)

	if _, ok := s.Get(task.ID); ok {
		t.Fatal("expected one-shot task to be removed after firing")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fires) != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", len(fires))
	}
	if fires[0].ID != task.ID {
		t.Fatalf("expected fired task id %s, got %s", task.ID, fires[0].ID)
	}
}

func TestInvalidCronExpressionRejected(t *testing.T) {
	s := New()
	if _, err := s.Create("bad", "not a cron expr", "noop", true, false); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestStopAll_CancelsRunnersWithoutDeleting(t *testing.T) {
	s := New()
	task, err := s.Create("hourly", "0 * * * *", "noop", true, false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.StopAll()

	if _, ok := s.Get(task.ID); !ok {
		t.Fatal("expected task to still exist after StopAll")
	}
}
