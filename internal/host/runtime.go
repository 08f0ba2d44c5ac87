package host

import (
	"context"

	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/httpapi"
	"github.com/AnturK/tgstation-server/internal/watchdog"
)

// Get implements httpapi.RuntimeRegistry, resolving an instance id to
// its live dependency graph if the instance is currently online.
func (h *Host) Get(instanceID int64) (httpapi.InstanceRuntime, bool) {
	rt, ok := h.get(instanceID)
	if !ok {
		return nil, false
	}
	return &runtimeAdapter{host: h, rt: rt}, true
}

// runtimeAdapter binds a Runtime to the Host's shared stores so it can
// satisfy httpapi.InstanceRuntime without those stores leaking onto
// Runtime itself.
type runtimeAdapter struct {
	host *Host
	rt   *Runtime
}

func (a *runtimeAdapter) DreamDaemonStatus(ctx context.Context) (httpapi.DreamDaemonStatus, error) {
	state := a.rt.watchdog.State()
	status := httpapi.DreamDaemonStatus{Running: state == watchdog.StateOnline || state == watchdog.StateReplacingOnline}
	if d := a.rt.watchdog.ActiveDeployment(); d != nil {
		status.ActiveDeployment = d.ID
	}
	if d := a.rt.watchdog.StagedDeployment(); d != nil {
		status.StagedDeployment = d.ID
	}
	return status, nil
}

func (a *runtimeAdapter) Launch(ctx context.Context, params domain.LaunchParameters) error {
	if a.rt.watchdog.State() == watchdog.StateOnline {
		return a.rt.watchdog.ReplaceOnline(ctx, params, params.StartupTimeoutSeconds)
	}
	return a.rt.watchdog.Start(ctx, params, params.HeartbeatSeconds, params.StartupTimeoutSeconds)
}

func (a *runtimeAdapter) GracefulRestart(ctx context.Context) error {
	a.rt.watchdog.SoftRestart()
	return nil
}

func (a *runtimeAdapter) Terminate(ctx context.Context) error {
	return a.rt.watchdog.Terminate(ctx)
}

func (a *runtimeAdapter) RepositorySnapshot(ctx context.Context) (domain.RepositorySnapshot, bool, error) {
	if a.host.repoSnaps == nil {
		return domain.RepositorySnapshot{}, false, nil
	}
	return a.host.repoSnaps.GetRepositorySnapshot(ctx, a.rt.instanceID)
}

func (a *runtimeAdapter) ChatChannels(ctx context.Context) []domain.ChatChannel {
	if a.host.chatStore == nil {
		return nil
	}
	channels, err := a.host.chatStore.ListChatChannels(ctx, a.rt.instanceID)
	if err != nil {
		return nil
	}
	return channels
}
