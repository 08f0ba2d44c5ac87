package job

import (
	"context"
	"sync"

	"github.com/AnturK/tgstation-server/internal/domain"
)

// MemStore is an in-memory Store, primarily for tests and for daemon
// startup before a persistence backend is wired.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]domain.Job)}
}

func (s *MemStore) Save(_ context.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *MemStore) UpdateProgress(_ context.Context, jobID string, progress int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	j.Progress = progress
	s.jobs[jobID] = j
	return nil
}

func (s *MemStore) UpdateTerminal(_ context.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *MemStore) Get(_ context.Context, jobID string) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	return j, ok, nil
}

func (s *MemStore) List(_ context.Context, instanceID *int64) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if instanceID != nil {
			if j.InstanceID == nil || *j.InstanceID != *instanceID {
				continue
			}
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *MemStore) MarkOrphanedRunningAsCancelled(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.Status == domain.JobRunning {
			j.Status = domain.JobErrored
			j.ErrorKind = domain.JobErrorCancelled
			j.ErrorMessage = "controller restarted while job was running"
			s.jobs[id] = j
		}
	}
	return nil
}
