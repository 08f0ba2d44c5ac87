// Package job implements the JobManager (spec §4.2): a cooperative
// scheduler for long-running operations with progress, cancellation,
// and per-right authorisation.
//
// Generalised from the teacher's automation.Scheduler (poll-a-store,
// dispatch-due-jobs loop) into register-and-run-to-completion: instead
// of ticking over a persisted schedule, each call to Register starts
// exactly one job's operation in its own goroutine and tracks it to a
// terminal state.
package job

import (
	"context"
	"strconv"
	"sync"
	"time"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/logging"
	core "github.com/AnturK/tgstation-server/internal/app/core/service"
	"github.com/AnturK/tgstation-server/internal/app/system"
	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/google/uuid"
)

var _ system.Service = (*Manager)(nil)

// Operation is the unit of work a job runs. It must poll Reporter's
// cancellation handle at reasonable checkpoints (spec §4.2).
type Operation func(ctx context.Context, reporter *Reporter) error

// Store persists jobs before they start and on every terminal transition.
type Store interface {
	Save(ctx context.Context, j domain.Job) error
	UpdateProgress(ctx context.Context, jobID string, progress int32) error
	UpdateTerminal(ctx context.Context, j domain.Job) error
	Get(ctx context.Context, jobID string) (domain.Job, bool, error)
	List(ctx context.Context, instanceID *int64) ([]domain.Job, error)
	// MarkOrphanedRunningAsCancelled runs once at startup: any job left
	// "running" in the store (the controller restarted mid-job and
	// cannot resume it) is marked errored with Cancelled (spec §4.2).
	MarkOrphanedRunningAsCancelled(ctx context.Context) error
}

// runningJob tracks an in-flight job's cancellation and progress handles.
type runningJob struct {
	cancel   context.CancelFunc
	reporter *Reporter
	done     chan struct{}
}

// Manager is the JobManager.
type Manager struct {
	store          Store
	log            *logging.Logger
	abandonTimeout time.Duration

	mu      sync.Mutex
	running map[string]*runningJob
}

// New creates a JobManager backed by store.
func New(store Store, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewFromEnv("job-manager")
	}
	return &Manager{
		store:          store,
		log:            log,
		abandonTimeout: 30 * time.Second,
		running:        make(map[string]*runningJob),
	}
}

// Name implements system.Service.
func (m *Manager) Name() string { return "job-manager" }

// Descriptor implements system.DescriptorProvider.
func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "job-manager",
		Domain:       "job",
		Layer:        core.LayerEngine,
		Capabilities: []string{"register", "cancel", "list", "progress"},
	}
}

// Start marks any job left running from a previous controller lifetime
// as errored/Cancelled (spec §4.2 "jobs... whose owning component
// cannot resume them are marked errored with Cancelled").
func (m *Manager) Start(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.MarkOrphanedRunningAsCancelled(ctx); err != nil {
		return apierrors.Internal("failed to reconcile orphaned jobs", err)
	}
	return nil
}

// Stop requests cancellation of every still-running job and waits up to
// ctx's deadline for them to settle.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	jobs := make([]*runningJob, 0, len(m.running))
	for _, rj := range m.running {
		jobs = append(jobs, rj)
	}
	m.mu.Unlock()

	for _, rj := range jobs {
		rj.cancel()
	}
	for _, rj := range jobs {
		select {
		case <-rj.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Register persists job and starts operation in its own goroutine.
// Registration itself is synchronous; the operation runs asynchronously
// (spec §4.2).
func (m *Manager) Register(ctx context.Context, j domain.Job, op Operation) (domain.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.StartedAt = time.Now()
	j.Status = domain.JobRegistered

	if m.store != nil {
		if err := m.store.Save(ctx, j); err != nil {
			return domain.Job{}, apierrors.Internal("failed to persist job", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = logging.WithJobID(runCtx, j.ID)
	if j.InstanceID != nil {
		runCtx = logging.WithInstanceID(runCtx, strconv.FormatInt(*j.InstanceID, 10))
	}

	reporter := newReporter()
	rj := &runningJob{cancel: cancel, reporter: reporter, done: make(chan struct{})}

	m.mu.Lock()
	m.running[j.ID] = rj
	m.mu.Unlock()

	j.Status = domain.JobRunning
	if m.store != nil {
		_ = m.store.Save(ctx, j)
	}

	go m.run(runCtx, j, op, rj)

	return j, nil
}

func (m *Manager) run(ctx context.Context, j domain.Job, op Operation, rj *runningJob) {
	defer close(rj.done)
	defer func() {
		m.mu.Lock()
		delete(m.running, j.ID)
		m.mu.Unlock()
	}()

	err := op(ctx, rj.reporter)

	now := time.Now()
	j.StoppedAt = &now
	j.Progress = rj.reporter.Value()

	switch {
	case err == nil:
		j.Status = domain.JobCompleted
		j.ErrorKind = domain.JobErrorNone
	case ctx.Err() == context.Canceled:
		j.Status = domain.JobCancelled
		j.ErrorKind = domain.JobErrorCancelled
		j.ErrorMessage = "job cancelled"
	default:
		j.Status = domain.JobErrored
		if se := apierrors.GetServiceError(err); se != nil {
			j.ErrorKind = domain.JobErrorKind(se.Kind)
			j.ErrorMessage = se.Message
		} else {
			j.ErrorKind = domain.JobErrorInternal
			j.ErrorMessage = err.Error()
		}
	}

	if m.store != nil {
		if saveErr := m.store.UpdateTerminal(ctx, j); saveErr != nil {
			m.log.WithContext(ctx).WithError(saveErr).Error("failed to persist job terminal state")
		}
	}
}

// Cancel requests cancellation of jobID, authorised either because
// caller holds cancelRightCategory's cancel-right or is the job's
// started-by (spec §4.2 Authorisation).
func (m *Manager) Cancel(ctx context.Context, jobID, callerID string, callerRights domain.Right) error {
	j, ok, err := m.storeGet(ctx, jobID)
	if err != nil {
		return apierrors.Internal("failed to load job", err)
	}
	if !ok {
		return apierrors.NotFound("job", jobID)
	}

	authorised := j.StartedBy == callerID || (callerRights&j.CancelRight) == j.CancelRight
	if !authorised {
		return apierrors.Forbidden("caller does not hold the job's cancel right")
	}

	m.mu.Lock()
	rj, running := m.running[jobID]
	m.mu.Unlock()
	if !running {
		// Job already reached a terminal state (completed/errored/cancelled)
		// before this request landed. Cancel on a finished job is a no-op,
		// not an error (spec §4.2) — the caller can fetch the terminal
		// record with Get.
		if j.Status == domain.JobCompleted || j.Status == domain.JobErrored || j.Status == domain.JobCancelled {
			return nil
		}
		return apierrors.NotFound("job", jobID)
	}

	j.CancellationRequested = true
	if m.store != nil {
		_ = m.store.Save(ctx, j)
	}
	rj.cancel()

	go m.abandonIfStuck(jobID, rj)

	return nil
}

// abandonIfStuck marks a job abandoned if it hasn't settled within the
// bounded timeout after cancellation (spec §4.2 "marked abandoned but
// its slot is released").
func (m *Manager) abandonIfStuck(jobID string, rj *runningJob) {
	select {
	case <-rj.done:
		return
	case <-time.After(m.abandonTimeout):
	}

	m.mu.Lock()
	_, stillRunning := m.running[jobID]
	delete(m.running, jobID)
	m.mu.Unlock()

	if !stillRunning {
		return
	}

	j, ok, err := m.storeGet(context.Background(), jobID)
	if err != nil || !ok {
		return
	}
	now := time.Now()
	j.StoppedAt = &now
	j.Status = domain.JobErrored
	j.ErrorKind = domain.JobErrorAbandoned
	j.ErrorMessage = "operation did not stop within the cancellation grace period"
	if m.store != nil {
		_ = m.store.UpdateTerminal(context.Background(), j)
	}
}

// Get returns jobID's current state.
func (m *Manager) Get(ctx context.Context, jobID string) (domain.Job, error) {
	j, ok, err := m.storeGet(ctx, jobID)
	if err != nil {
		return domain.Job{}, apierrors.Internal("failed to load job", err)
	}
	if !ok {
		return domain.Job{}, apierrors.NotFound("job", jobID)
	}
	return j, nil
}

// List returns jobs, optionally filtered to one instance (nil = all,
// including daemon-scope jobs).
func (m *Manager) List(ctx context.Context, instanceID *int64) ([]domain.Job, error) {
	if m.store == nil {
		return nil, nil
	}
	jobs, err := m.store.List(ctx, instanceID)
	if err != nil {
		return nil, apierrors.Internal("failed to list jobs", err)
	}
	return jobs, nil
}

func (m *Manager) storeGet(ctx context.Context, jobID string) (domain.Job, bool, error) {
	if m.store == nil {
		return domain.Job{}, false, nil
	}
	return m.store.Get(ctx, jobID)
}
