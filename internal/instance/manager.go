// Package instance implements the InstanceManager (spec §4.1): the
// global registry for create/attach/detach/move/enable/rename of
// instances, enforcing the path-collision invariants ahead of every
// mutation.
package instance

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/logging"
	core "github.com/AnturK/tgstation-server/internal/app/core/service"
	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/iogateway"
	"github.com/AnturK/tgstation-server/internal/job"
)

// Store persists Instance records and their per-user rights.
type Store interface {
	Create(ctx context.Context, inst domain.Instance) (domain.Instance, error)
	Update(ctx context.Context, inst domain.Instance) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (domain.Instance, bool, error)
	List(ctx context.Context) ([]domain.Instance, error)
	GrantFullRights(ctx context.Context, instanceID int64, userID string) error
	RemoveReattachRecord(ctx context.Context, instanceID int64) error
}

// LifecycleHooks starts and stops an instance's dependent services
// (watchdog, toolchain, etc.) on the online⇄offline transition (spec
// §4.1 "start dependent services").
type LifecycleHooks interface {
	OnGoingOnline(ctx context.Context, instanceID int64) error
	OnGoingOffline(ctx context.Context, instanceID int64) error
}

// DeploymentRegistrar is told where an instance's Game/ directory lives
// so DeploymentStore can allocate staging directories under it.
type DeploymentRegistrar interface {
	RegisterInstance(instanceID int64, gameDir string)
}

// Manager is the InstanceManager.
type Manager struct {
	gateway     *iogateway.Gateway
	store       Store
	jobs        *job.Manager
	deployments DeploymentRegistrar
	hooks       LifecycleHooks
	log         *logging.Logger

	mu             sync.Mutex
	pendingMoveJob map[int64]string
}

// Config wires a Manager's dependencies.
type Config struct {
	Gateway     *iogateway.Gateway
	Store       Store
	Jobs        *job.Manager
	Deployments DeploymentRegistrar
	Hooks       LifecycleHooks
	Log         *logging.Logger
}

// New creates a Manager.
func New(cfg Config) *Manager {
	log := cfg.Log
	if log == nil {
		log = logging.NewFromEnv("instance-manager")
	}
	return &Manager{
		gateway:        cfg.Gateway,
		store:          cfg.Store,
		jobs:           cfg.Jobs,
		deployments:    cfg.Deployments,
		hooks:          cfg.Hooks,
		log:            log,
		pendingMoveJob: make(map[int64]string),
	}
}

// Name implements system.Service.
func (m *Manager) Name() string { return "instance-manager" }

// Descriptor implements system.DescriptorProvider.
func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "instance-manager",
		Domain:       "instance",
		Layer:        core.LayerEngine,
		Capabilities: []string{"create-or-attach", "detach", "update", "list", "get-by-id"},
	}
}

// validatePath runs spec §4.1 CreateOrAttach validation steps 1-5
// against every instance already on file, save for the one named in
// excludeID (used when relocating an existing instance).
func (m *Manager) validatePath(ctx context.Context, name, path string, excludeID int64) (normalized string, hasSentinel bool, err error) {
	if name == "" {
		return "", false, apierrors.Validation("instance name must not be empty")
	}
	if path == "" {
		return "", false, apierrors.Validation("instance path must not be empty")
	}

	normalized, err = iogateway.Normalize(path)
	if err != nil {
		return "", false, apierrors.Validation(fmt.Sprintf("resolve path: %v", err))
	}

	if iogateway.IsPrefixOrDescendant(normalized, m.gateway.InstallDir()) {
		return "", false, apierrors.InstanceAtConflictingPath(normalized)
	}

	existing, err := m.store.List(ctx)
	if err != nil {
		return "", false, apierrors.Internal("list instances", err)
	}
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		otherPath, err := iogateway.Normalize(other.Path)
		if err != nil {
			continue
		}
		if iogateway.IsPrefixOrDescendant(normalized, otherPath) {
			return "", false, apierrors.InstanceAtConflictingPath(normalized)
		}
	}

	eligible, sentinel, err := iogateway.IsEligibleForInstance(normalized)
	if err != nil {
		return "", false, apierrors.Internal("inspect path", err)
	}
	if !eligible {
		return "", false, apierrors.InstanceAtExistingPath(normalized)
	}
	return normalized, sentinel, nil
}

// CreateOrAttach validates and persists a new instance (spec §4.1
// "Create-or-attach"). Whether the path carried the attach sentinel
// distinguishes attach from create.
func (m *Manager) CreateOrAttach(ctx context.Context, name, path, callerID string) (domain.Instance, bool, error) {
	normalized, sentinel, err := m.validatePath(ctx, name, path, 0)
	if err != nil {
		return domain.Instance{}, false, err
	}

	if err := iogateway.EnsureTree(normalized); err != nil {
		return domain.Instance{}, false, apierrors.Internal("create instance directory tree", err)
	}
	if sentinel {
		if err := iogateway.RemoveSentinel(normalized); err != nil {
			return domain.Instance{}, false, apierrors.Internal("remove attach sentinel", err)
		}
	}

	inst, err := m.store.Create(ctx, domain.Instance{Name: name, Path: normalized, AutoStart: true})
	if err != nil {
		return domain.Instance{}, false, apierrors.Internal("persist instance", err)
	}

	if err := m.store.GrantFullRights(ctx, inst.ID, callerID); err != nil {
		return domain.Instance{}, false, apierrors.Internal("grant caller rights", err)
	}

	if m.deployments != nil {
		m.deployments.RegisterInstance(inst.ID, filepath.Join(normalized, "Game"))
	}

	return inst, sentinel, nil
}

// Detach soft-removes an instance: the directory is marked with the
// attach sentinel rather than deleted (spec §4.1 "Detach").
func (m *Manager) Detach(ctx context.Context, instanceID int64) error {
	inst, ok, err := m.store.Get(ctx, instanceID)
	if err != nil {
		return apierrors.Internal("load instance", err)
	}
	if !ok {
		return apierrors.NotFound("instance", fmt.Sprint(instanceID))
	}
	if inst.Online {
		return apierrors.InstanceDetachOnline()
	}

	if err := iogateway.WriteSentinel(inst.Path); err != nil {
		return apierrors.Internal("write attach sentinel", err)
	}
	if err := m.store.RemoveReattachRecord(ctx, instanceID); err != nil {
		return apierrors.Internal("remove reattach record", err)
	}
	if err := m.store.Delete(ctx, instanceID); err != nil {
		return apierrors.Internal("delete instance record", err)
	}
	return nil
}

// Get returns an instance by id.
func (m *Manager) Get(ctx context.Context, instanceID int64) (domain.Instance, bool, error) {
	inst, ok, err := m.store.Get(ctx, instanceID)
	if err != nil {
		return domain.Instance{}, false, apierrors.Internal("load instance", err)
	}
	return inst, ok, nil
}

// List returns every instance.
func (m *Manager) List(ctx context.Context) ([]domain.Instance, error) {
	instances, err := m.store.List(ctx)
	if err != nil {
		return nil, apierrors.Internal("list instances", err)
	}
	return instances, nil
}
