// Package deployment maintains per-instance Deployment history (spec
// §4.8 DeploymentStore): alternating primary/secondary staging
// directories, a latest() pointer set on commit, and refcounted
// deletion.
package deployment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/domain"
)

// NewDeployment describes the fields set when a compile job commits a
// fresh Deployment.
type NewDeployment struct {
	InstanceID        int64
	JobID             string
	RevisionSHA       string
	OriginSHA         string
	ActiveTestMerges  []int
	MinimumSecurity   domain.SecurityLevel
	CompilerVersion   string
	ArtifactName      string
	DMEName           string
	OutputDisplayName string
}

// Store is an in-memory DeploymentStore. A single instance of Store
// manages every instance's deployment history (instanceID keys each
// method).
type Store struct {
	mu sync.Mutex

	gameDirs    map[int64]string
	deployments map[string]domain.Deployment
	order       map[int64][]string
	latestID    map[int64]string
	activeID    map[int64]string
	stagedID    map[int64]string
	refCount    map[string]int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		gameDirs:    make(map[int64]string),
		deployments: make(map[string]domain.Deployment),
		order:       make(map[int64][]string),
		latestID:    make(map[int64]string),
		activeID:    make(map[int64]string),
		stagedID:    make(map[int64]string),
		refCount:    make(map[string]int),
	}
}

// RegisterInstance tells the Store where an instance's Game/ directory
// (spec §6 persisted state layout) lives, so new deployments can
// allocate staging subdirectories under it.
func (s *Store) RegisterInstance(instanceID int64, gameDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameDirs[instanceID] = gameDir
}

// Create allocates a fresh pair of working directories (spec §4.8 "a
// pair of working dirs") and records a new, uncommitted Deployment.
// Both A and B are allocated for this one deployment: PromoteStaged
// later swaps which of the pair is primary/secondary without needing
// to recompile, so a deployment that never gets its own secondary dir
// can never be promoted into the active slot.
func (s *Store) Create(ctx context.Context, nd NewDeployment) (*domain.Deployment, error) {
	s.mu.Lock()
	gameDir, ok := s.gameDirs[nd.InstanceID]
	s.mu.Unlock()
	if !ok {
		return nil, apierrors.Validation("instance not registered with deployment store")
	}

	id := uuid.NewString()
	primaryDir := filepath.Join(gameDir, id, "A")
	secondaryDir := filepath.Join(gameDir, id, "B")
	if err := os.MkdirAll(primaryDir, 0o755); err != nil {
		return nil, apierrors.Internal("create staging directory", err)
	}
	if err := os.MkdirAll(secondaryDir, 0o755); err != nil {
		return nil, apierrors.Internal("create staging directory", err)
	}

	d := domain.Deployment{
		ID:                id,
		InstanceID:        nd.InstanceID,
		JobID:             nd.JobID,
		RevisionSHA:       nd.RevisionSHA,
		OriginSHA:         nd.OriginSHA,
		ActiveTestMerges:  nd.ActiveTestMerges,
		MinimumSecurity:   nd.MinimumSecurity,
		CompilerVersion:   nd.CompilerVersion,
		ArtifactName:      nd.ArtifactName,
		DMEName:           nd.DMEName,
		OutputDisplayName: nd.OutputDisplayName,
		PrimaryDir:        primaryDir,
		SecondaryDir:      secondaryDir,
		CreatedAt:         time.Now(),
	}

	s.mu.Lock()
	s.deployments[d.ID] = d
	s.order[nd.InstanceID] = append(s.order[nd.InstanceID], d.ID)
	s.mu.Unlock()
	return &d, nil
}

// Commit marks id as the instance's latest deployment (spec §4.8 "A
// latest() pointer is set on commit").
func (s *Store) Commit(instanceID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok {
		return apierrors.NotFound("deployment", id)
	}
	if prev, ok := s.latestID[instanceID]; ok {
		if prevDep, ok := s.deployments[prev]; ok {
			prevDep.IsLatest = false
			s.deployments[prev] = prevDep
		}
	}
	d.IsLatest = true
	s.deployments[id] = d
	s.latestID[instanceID] = id
	return nil
}

// Latest returns the instance's latest committed deployment.
func (s *Store) Latest(instanceID int64) (domain.Deployment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.latestID[instanceID]
	if !ok {
		return domain.Deployment{}, false
	}
	return s.deployments[id], true
}

// Get returns a deployment by id.
func (s *Store) Get(id string) (domain.Deployment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	return d, ok
}

// History returns an instance's deployments in creation order, oldest
// first.
func (s *Store) History(instanceID int64) []domain.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.order[instanceID]
	out := make([]domain.Deployment, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.deployments[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Delete removes a deployment's staging directories and history entry.
// Refused while any SessionController holds it (spec §4.8 "Deletion is
// refcounted").
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.refCount[id] > 0 {
		s.mu.Unlock()
		return apierrors.New(apierrors.KindConflict, apierrors.ErrCodeNone, "deployment is held by a running session")
	}
	d, ok := s.deployments[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if d.PrimaryDir != "" {
		if err := os.RemoveAll(d.PrimaryDir); err != nil {
			return apierrors.Internal("remove staging directory", err)
		}
	}
	if d.SecondaryDir != "" {
		if err := os.RemoveAll(d.SecondaryDir); err != nil {
			return apierrors.Internal("remove staging directory", err)
		}
	}

	s.mu.Lock()
	delete(s.deployments, id)
	delete(s.refCount, id)
	s.mu.Unlock()
	return nil
}

// Acquire increments id's refcount; release must be called once the
// holder (a SessionController) no longer needs the directories.
func (s *Store) Acquire(id string) (release func(), err error) {
	s.mu.Lock()
	if _, ok := s.deployments[id]; !ok {
		s.mu.Unlock()
		return nil, apierrors.NotFound("deployment", id)
	}
	s.refCount[id]++
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.refCount[id]--
		s.mu.Unlock()
	}, nil
}

// ReserveActiveSlot implements watchdog.DeploymentSource: hands out the
// instance's latest deployment as the active slot.
func (s *Store) ReserveActiveSlot(ctx context.Context, instanceID int64) (*domain.Deployment, error) {
	s.mu.Lock()
	id, ok := s.latestID[instanceID]
	s.mu.Unlock()
	if !ok {
		return nil, apierrors.Validation(fmt.Sprintf("no deployment available for instance %d", instanceID))
	}

	release, err := s.Acquire(id)
	if err != nil {
		return nil, err
	}
	_ = release // tracked via refCount; PromoteStaged drops this hold when a staged deployment replaces it

	s.mu.Lock()
	s.activeID[instanceID] = id
	d := s.deployments[id]
	d.IsActive = true
	s.deployments[id] = d
	s.mu.Unlock()

	out := d
	return &out, nil
}

// ReserveStagedSlot implements watchdog.DeploymentSource: hands out the
// instance's latest deployment as the staged slot, for a swap-in.
func (s *Store) ReserveStagedSlot(ctx context.Context, instanceID int64) (*domain.Deployment, error) {
	s.mu.Lock()
	id, ok := s.latestID[instanceID]
	s.mu.Unlock()
	if !ok {
		return nil, apierrors.Validation(fmt.Sprintf("no deployment available for instance %d", instanceID))
	}

	if _, err := s.Acquire(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stagedID[instanceID] = id
	d := s.deployments[id]
	s.mu.Unlock()

	out := d
	return &out, nil
}

// PromoteStaged swaps the staged deployment into the active slot and
// releases the previous active deployment's hold (spec §4.4 "swap
// primary/secondary designation").
func (s *Store) PromoteStaged(ctx context.Context, instanceID int64) error {
	s.mu.Lock()
	staged, ok := s.stagedID[instanceID]
	if !ok {
		s.mu.Unlock()
		return apierrors.Validation("no staged deployment to promote")
	}
	previous := s.activeID[instanceID]
	s.mu.Unlock()

	if previous != "" && previous != staged {
		s.mu.Lock()
		if d, ok := s.deployments[previous]; ok {
			d.IsActive = false
			s.deployments[previous] = d
		}
		s.refCount[previous]--
		s.mu.Unlock()
	}

	s.mu.Lock()
	if d, ok := s.deployments[staged]; ok {
		d.IsActive = true
		d.PrimaryDir, d.SecondaryDir = d.SecondaryDir, d.PrimaryDir
		s.deployments[staged] = d
	}
	s.activeID[instanceID] = staged
	delete(s.stagedID, instanceID)
	s.mu.Unlock()
	return nil
}
