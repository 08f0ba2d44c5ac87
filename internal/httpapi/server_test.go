package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/domain"
)

type fakeInstances struct {
	byID map[int64]domain.Instance
	next int64
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{byID: make(map[int64]domain.Instance)}
}

func (f *fakeInstances) CreateOrAttach(ctx context.Context, name, path, callerID string) (domain.Instance, bool, error) {
	f.next++
	inst := domain.Instance{ID: f.next, Name: name, Path: path}
	f.byID[inst.ID] = inst
	return inst, false, nil
}

func (f *fakeInstances) Detach(ctx context.Context, instanceID int64) error {
	delete(f.byID, instanceID)
	return nil
}

func (f *fakeInstances) Get(ctx context.Context, instanceID int64) (domain.Instance, bool, error) {
	inst, ok := f.byID[instanceID]
	return inst, ok, nil
}

func (f *fakeInstances) List(ctx context.Context) ([]domain.Instance, error) {
	out := make([]domain.Instance, 0, len(f.byID))
	for _, inst := range f.byID {
		out = append(out, inst)
	}
	return out, nil
}

func newTestServer() (*Server, *fakeInstances) {
	instances := newFakeInstances()
	s := NewServer(Config{Instances: instances})
	return s, instances
}

type fakeRuntime struct {
	status     DreamDaemonStatus
	statusErr  error
	launchErr  error
	restartErr error
	termErr    error
	snapshot   domain.RepositorySnapshot
	snapshotOK bool
	snapshotErr error
	channels   []domain.ChatChannel

	launched      domain.LaunchParameters
	restarted     bool
	terminated    bool
}

func (f *fakeRuntime) DreamDaemonStatus(ctx context.Context) (DreamDaemonStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeRuntime) Launch(ctx context.Context, params domain.LaunchParameters) error {
	f.launched = params
	return f.launchErr
}

func (f *fakeRuntime) GracefulRestart(ctx context.Context) error {
	f.restarted = true
	return f.restartErr
}

func (f *fakeRuntime) Terminate(ctx context.Context) error {
	f.terminated = true
	return f.termErr
}

func (f *fakeRuntime) RepositorySnapshot(ctx context.Context) (domain.RepositorySnapshot, bool, error) {
	return f.snapshot, f.snapshotOK, f.snapshotErr
}

func (f *fakeRuntime) ChatChannels(ctx context.Context) []domain.ChatChannel {
	return f.channels
}

type fakeRuntimeRegistry struct {
	byID map[int64]*fakeRuntime
}

func newFakeRuntimeRegistry() *fakeRuntimeRegistry {
	return &fakeRuntimeRegistry{byID: make(map[int64]*fakeRuntime)}
}

func (f *fakeRuntimeRegistry) Get(instanceID int64) (InstanceRuntime, bool) {
	rt, ok := f.byID[instanceID]
	return rt, ok
}

type fakeJobs struct {
	byID      map[string]domain.Job
	cancelled []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{byID: make(map[string]domain.Job)}
}

func (f *fakeJobs) Get(ctx context.Context, jobID string) (domain.Job, error) {
	j, ok := f.byID[jobID]
	if !ok {
		return domain.Job{}, apierrors.NotFound("job", jobID)
	}
	return j, nil
}

func (f *fakeJobs) List(ctx context.Context, instanceID *int64) ([]domain.Job, error) {
	out := make([]domain.Job, 0, len(f.byID))
	for _, j := range f.byID {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, jobID, callerID string, callerRights domain.Right) error {
	if _, ok := f.byID[jobID]; !ok {
		return apierrors.NotFound("job", jobID)
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func newRuntimeTestServer() (*Server, *fakeInstances, *fakeRuntimeRegistry) {
	instances := newFakeInstances()
	runtimes := newFakeRuntimeRegistry()
	s := NewServer(Config{Instances: instances, Runtimes: runtimes})
	return s, instances, runtimes
}

func TestHandleCreateInstanceReturns201(t *testing.T) {
	s, _ := newTestServer()

	body, _ := json.Marshal(createInstanceRequest{Name: "box", Path: "/srv/box"})
	req := httptest.NewRequest(http.MethodPut, "/Instance/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var inst domain.Instance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	require.Equal(t, "box", inst.Name)
}

func TestHandleGetInstanceNotFound(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/Instance/99", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListInstances(t *testing.T) {
	s, instances := newTestServer()
	instances.byID[1] = domain.Instance{ID: 1, Name: "one"}
	instances.byID[2] = domain.Instance{ID: 2, Name: "two"}

	req := httptest.NewRequest(http.MethodGet, "/Instance/List", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.Instance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
}
