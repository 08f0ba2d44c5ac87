package instance

import (
	"context"
	"fmt"
	"os"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/iogateway"
	"github.com/AnturK/tgstation-server/internal/job"
)

// UpdateRequest names the fields to mutate and the caller's rights,
// each field gated on a distinct bit (spec §4.1 "Per-field rights are
// checked").
type UpdateRequest struct {
	InstanceID   int64
	CallerID     string
	CallerRights domain.Right
	NewName      *string
	NewPath      *string
	Online       *bool
	AutoStart    *bool
}

// Update applies the requested field changes, rejecting any the caller
// lacks the right for.
func (m *Manager) Update(ctx context.Context, req UpdateRequest) (domain.Instance, error) {
	inst, ok, err := m.store.Get(ctx, req.InstanceID)
	if err != nil {
		return domain.Instance{}, apierrors.Internal("load instance", err)
	}
	if !ok {
		return domain.Instance{}, apierrors.NotFound("instance", fmt.Sprint(req.InstanceID))
	}

	if req.NewPath != nil {
		if req.CallerRights&domain.RightRelocate == 0 {
			return domain.Instance{}, apierrors.Forbidden("caller lacks the relocate right")
		}
		if inst.Online {
			return domain.Instance{}, apierrors.InstanceRelocateOnline()
		}
		if err := m.scheduleMove(ctx, inst, *req.NewPath, req.CallerID); err != nil {
			return domain.Instance{}, err
		}
		// Relocation returns immediately; the move job mutates Path on
		// completion (spec §4.1 "Relocation returns immediately").
		return inst, nil
	}

	if req.NewName != nil {
		if req.CallerRights&domain.RightRename == 0 {
			return domain.Instance{}, apierrors.Forbidden("caller lacks the rename right")
		}
		if *req.NewName == "" {
			return domain.Instance{}, apierrors.Validation("instance name must not be empty")
		}
		inst.Name = *req.NewName
	}

	if req.AutoStart != nil {
		if req.CallerRights&domain.RightSetAutoUpdate == 0 {
			return domain.Instance{}, apierrors.Forbidden("caller lacks the set-autoupdate right")
		}
		inst.AutoStart = *req.AutoStart
	}

	if req.Online != nil {
		if req.CallerRights&domain.RightSetOnline == 0 {
			return domain.Instance{}, apierrors.Forbidden("caller lacks the set-online right")
		}
		if err := m.toggleOnline(ctx, &inst, *req.Online); err != nil {
			return domain.Instance{}, err
		}
	}

	if err := m.store.Update(ctx, inst); err != nil {
		return domain.Instance{}, apierrors.Internal("persist instance", err)
	}
	return inst, nil
}

// toggleOnline performs the synchronous lifecycle handoff (spec §4.1
// "Toggling online⇄offline"): autostart is suppressed for the duration
// of a going-online transition so a crash during startup doesn't
// trigger a second concurrent launch, and any hook failure rolls the
// instance's fields back.
func (m *Manager) toggleOnline(ctx context.Context, inst *domain.Instance, online bool) error {
	if inst.Online == online {
		return nil
	}

	before := *inst
	savedAutoStart := inst.AutoStart

	if online {
		inst.AutoStart = false
		inst.Online = true
		if m.hooks != nil {
			if err := m.hooks.OnGoingOnline(ctx, inst.ID); err != nil {
				*inst = before
				return apierrors.InstanceRelocateOnline().WithDetails("cause", err.Error())
			}
		}
		inst.AutoStart = savedAutoStart
		return nil
	}

	inst.Online = false
	if m.hooks != nil {
		if err := m.hooks.OnGoingOffline(ctx, inst.ID); err != nil {
			*inst = before
			return err
		}
	}
	return nil
}

// scheduleMove cancels any pending move job for the instance, then
// registers a new one (spec §4.1 "a second concurrent move job is
// disallowed — the pending one is cancelled first").
func (m *Manager) scheduleMove(ctx context.Context, inst domain.Instance, newPath, callerID string) error {
	normalized, _, err := m.validatePath(ctx, inst.Name, newPath, inst.ID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if pending, ok := m.pendingMoveJob[inst.ID]; ok {
		m.mu.Unlock()
		_ = m.jobs.Cancel(ctx, pending, callerID, domain.RightRelocate)
		m.mu.Lock()
	}
	m.mu.Unlock()

	instanceID := inst.ID
	oldPath := inst.Path
	jobRecord := domain.Job{
		InstanceID:          &instanceID,
		Description:         fmt.Sprintf("move instance %d to %s", instanceID, normalized),
		StartedBy:           callerID,
		CancelRightCategory: "InstancePermissionSet",
		CancelRight:         domain.RightRelocate,
	}

	registered, err := m.jobs.Register(ctx, jobRecord, func(ctx context.Context, reporter *job.Reporter) error {
		return m.runMove(ctx, instanceID, oldPath, normalized, reporter)
	})
	if err != nil {
		return apierrors.Internal("schedule move job", err)
	}

	m.mu.Lock()
	m.pendingMoveJob[inst.ID] = registered.ID
	m.mu.Unlock()
	return nil
}

// runMove copies the instance tree to its new location, polling ctx for
// cooperative cancellation between the copy and the cleanup of the
// old directory.
func (m *Manager) runMove(ctx context.Context, instanceID int64, oldPath, newPath string, reporter *job.Reporter) error {
	if err := iogateway.EnsureTree(newPath); err != nil {
		return apierrors.Internal("create destination directory tree", err)
	}
	reporter.Report(10)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := iogateway.CopyTree(oldPath, newPath, nil); err != nil {
		return apierrors.Internal("copy instance tree", err)
	}
	reporter.Report(80)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	inst, ok, err := m.store.Get(ctx, instanceID)
	if err != nil {
		return apierrors.Internal("load instance", err)
	}
	if !ok {
		return apierrors.NotFound("instance", fmt.Sprint(instanceID))
	}
	inst.Path = newPath
	if err := m.store.Update(ctx, inst); err != nil {
		return apierrors.Internal("persist relocated instance", err)
	}
	reporter.Report(90)

	if err := os.RemoveAll(oldPath); err != nil {
		return apierrors.Internal("remove old instance directory", err)
	}
	reporter.Report(100)

	m.mu.Lock()
	delete(m.pendingMoveJob, instanceID)
	m.mu.Unlock()
	return nil
}
