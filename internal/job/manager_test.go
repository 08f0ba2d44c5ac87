package job

import (
	"context"
	"testing"
	"time"

	"github.com/AnturK/tgstation-server/internal/domain"
)

func TestRegisterCompletesSuccessfully(t *testing.T) {
	m := New(NewMemStore(), nil)

	done := make(chan struct{})
	j, err := m.Register(context.Background(), domain.Job{Description: "test"}, func(ctx context.Context, r *Reporter) error {
		r.Report(50)
		r.Report(100)
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operation did not run")
	}

	waitForTerminal(t, m, j.ID)

	got, err := m.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("Status = %v, want %v", got.Status, domain.JobCompleted)
	}
	if got.Progress != 100 {
		t.Fatalf("Progress = %d, want 100", got.Progress)
	}
}

func TestCancelRequiresRightOrOwnership(t *testing.T) {
	m := New(NewMemStore(), nil)

	started := make(chan struct{})
	j, err := m.Register(context.Background(), domain.Job{
		Description: "long op",
		StartedBy:   "alice",
		CancelRight: domain.RightCancelJob,
	}, func(ctx context.Context, r *Reporter) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	<-started

	if err := m.Cancel(context.Background(), j.ID, "mallory", 0); err == nil {
		t.Fatal("expected Cancel() to reject an unauthorised caller")
	}

	if err := m.Cancel(context.Background(), j.ID, "alice", 0); err != nil {
		t.Fatalf("Cancel() by owner error = %v", err)
	}

	waitForTerminal(t, m, j.ID)
	got, err := m.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.JobCancelled {
		t.Fatalf("Status = %v, want %v", got.Status, domain.JobCancelled)
	}
}

func TestCancelOnFinishedJobIsANoOp(t *testing.T) {
	m := New(NewMemStore(), nil)

	j, err := m.Register(context.Background(), domain.Job{
		Description: "quick op",
		StartedBy:   "alice",
		CancelRight: domain.RightCancelJob,
	}, func(ctx context.Context, r *Reporter) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	waitForTerminal(t, m, j.ID)

	if err := m.Cancel(context.Background(), j.ID, "alice", 0); err != nil {
		t.Fatalf("Cancel() on a finished job should be a no-op, got error = %v", err)
	}

	got, err := m.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("Status = %v, want %v (cancel must not disturb a terminal job)", got.Status, domain.JobCompleted)
	}
}

func TestReporterProgressIsMonotonic(t *testing.T) {
	r := newReporter()
	r.Report(50)
	r.Report(10)
	if got := r.Value(); got != 50 {
		t.Fatalf("Value() = %d, want 50 (lower value should be dropped)", got)
	}
	r.Report(75)
	if got := r.Value(); got != 75 {
		t.Fatalf("Value() = %d, want 75", got)
	}
}

func waitForTerminal(t *testing.T, m *Manager, jobID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := m.Get(context.Background(), jobID)
		if err == nil && (got.Status == domain.JobCompleted || got.Status == domain.JobCancelled || got.Status == domain.JobErrored) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", jobID)
}
