package host

import (
	"context"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/chat"
	"github.com/AnturK/tgstation-server/internal/repo"
	"github.com/AnturK/tgstation-server/internal/session"
	"github.com/AnturK/tgstation-server/internal/watchdog"
)

// OnGoingOnline implements instance.LifecycleHooks: it stands up the
// watchdog, repository engine and chat bridge backing one instance
// (spec §4.1 "start dependent services").
func (h *Host) OnGoingOnline(ctx context.Context, instanceID int64) error {
	if _, already := h.get(instanceID); already {
		return nil
	}

	inst, ok, err := h.instances.Get(ctx, instanceID)
	if err != nil {
		return apierrors.Internal("load instance for startup", err)
	}
	if !ok {
		return apierrors.NotFound("instance", "")
	}

	bridge := chat.New(instanceID, h.log)
	if err := bridge.Start(ctx); err != nil {
		return apierrors.Internal("start chat bridge", err)
	}
	sink := chatSink{bridge: bridge}

	repoEngine, err := repo.Open(repositoryDir(inst.Path), instanceID, sink)
	if err != nil {
		_ = bridge.Stop(ctx)
		return apierrors.Internal("open repository checkout", err)
	}

	registrar := session.NewInMemoryBridgeRegistrar()
	bridgePort := h.bridgePortBase + int(instanceID)

	wd := watchdog.New(watchdog.Config{
		InstanceID:  instanceID,
		AutoStart:   inst.AutoStart,
		Deployments: h.deployments,
		NewSession: func() *session.Controller {
			return session.New(session.Config{
				InstanceID: instanceID,
				BinaryPath: h.binaryName,
				BinaryName: h.binaryName,
				BridgePort: bridgePort,
				APIVersion: h.apiVersion,
				Registrar:  registrar,
				Toolchain:  h.toolchain,
			})
		},
		Sink: sink,
		Log:  h.log,
	})

	h.mu.Lock()
	h.runtimes[instanceID] = &Runtime{
		instanceID: instanceID,
		watchdog:   wd,
		repo:       repoEngine,
		bridge:     bridge,
		registrar:  registrar,
		toolchain:  h.toolchain,
		binaryPath: h.binaryName,
		binaryName: h.binaryName,
		bridgePort: bridgePort,
		apiVersion: h.apiVersion,
	}
	h.mu.Unlock()
	return nil
}

// OnGoingOffline implements instance.LifecycleHooks: it terminates the
// active session and tears down the instance's runtime graph.
func (h *Host) OnGoingOffline(ctx context.Context, instanceID int64) error {
	rt, ok := h.get(instanceID)
	if !ok {
		return nil
	}

	if rt.watchdog.State() != watchdog.StateOffline {
		if err := rt.watchdog.Terminate(ctx); err != nil {
			return apierrors.Internal("terminate watchdog", err)
		}
	}
	if err := rt.bridge.Stop(ctx); err != nil {
		return apierrors.Internal("stop chat bridge", err)
	}

	h.mu.Lock()
	delete(h.runtimes, instanceID)
	h.mu.Unlock()
	return nil
}
