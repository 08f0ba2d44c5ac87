// Package watchdog implements the supervised-process state machine of
// spec §4.4: two deployment slots (active/staged) and 0-2
// SessionControllers, zero-downtime swaps, and reattach-after-restart.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AnturK/tgstation-server/infrastructure/logging"
	core "github.com/AnturK/tgstation-server/internal/app/core/service"
	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/procexec"
	"github.com/AnturK/tgstation-server/internal/session"
)

// State is one node of the spec §4.4 state machine.
type State string

const (
	StateOffline         State = "Offline"
	StateStarting        State = "Starting"
	StateOnline          State = "Online"
	StateReplacingOnline State = "ReplacingOnline"
	StateTerminating     State = "Terminating"
	StateReattaching     State = "Reattaching"
)

// maxUnexpectedExitRetries bounds the unexpected-exit relaunch loop
// (spec §4.4 "bounded retry").
const maxUnexpectedExitRetries = 3

// DeploymentSource reserves the active/staged slots a Watchdog launches from.
type DeploymentSource interface {
	ReserveActiveSlot(ctx context.Context, instanceID int64) (*domain.Deployment, error)
	ReserveStagedSlot(ctx context.Context, instanceID int64) (*domain.Deployment, error)
	PromoteStaged(ctx context.Context, instanceID int64) error
}

// EventSink receives classified watchdog events for chat routing.
type EventSink interface {
	Emit(domain.Event)
}

// SessionFactory creates a fresh, unlaunched SessionController.
type SessionFactory func() *session.Controller

// Watchdog supervises one instance's game-server process(es).
type Watchdog struct {
	instanceID  int64
	autoStart   bool
	deployments DeploymentSource
	newSession  SessionFactory
	sink        EventSink
	log         *logging.Logger

	mu               sync.Mutex
	state            State
	active           *session.Controller
	staged           *session.Controller
	heartbeatSeconds int
	retries          int
	lastParams       domain.LaunchParameters

	cron   *cron.Cron
	cronID cron.EntryID
}

// Config wires a Watchdog's dependencies.
type Config struct {
	InstanceID  int64
	AutoStart   bool
	Deployments DeploymentSource
	NewSession  SessionFactory
	Sink        EventSink
	Log         *logging.Logger
}

// New creates an offline Watchdog.
func New(cfg Config) *Watchdog {
	return &Watchdog{
		instanceID:  cfg.InstanceID,
		autoStart:   cfg.AutoStart,
		deployments: cfg.Deployments,
		newSession:  cfg.NewSession,
		sink:        cfg.Sink,
		log:         cfg.Log,
		state:       StateOffline,
		cron:        cron.New(cron.WithSeconds()),
	}
}

// State returns the watchdog's current state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ActiveDeployment returns the deployment backing the live process, if any.
func (w *Watchdog) ActiveDeployment() *domain.Deployment {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil
	}
	return w.active.Deployment()
}

// StagedDeployment returns the deployment backing the standby process
// mid zero-downtime-swap, if any.
func (w *Watchdog) StagedDeployment() *domain.Deployment {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.staged == nil {
		return nil
	}
	return w.staged.Deployment()
}

// Name identifies this Watchdog as a system.Service.
func (w *Watchdog) Name() string {
	return fmt.Sprintf("watchdog-instance-%d", w.instanceID)
}

// Descriptor advertises this Watchdog's placement for orchestration/docs.
func (w *Watchdog) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         w.Name(),
		Domain:       "watchdog",
		Layer:        core.LayerEngine,
		Capabilities: []string{"launch", "reattach", "zero-downtime-swap"},
	}
}

func (w *Watchdog) emit(kind domain.WatchdogEventKind, channel domain.ChatChannelKind, msg string) {
	if w.sink != nil {
		w.sink.Emit(domain.Event{InstanceID: w.instanceID, Kind: kind, Channel: channel, Message: msg, At: time.Now()})
	}
}

// Start transitions Offline -> Starting -> Online (spec §4.4).
func (w *Watchdog) Start(ctx context.Context, params domain.LaunchParameters, heartbeatSeconds, startupTimeoutSeconds int) error {
	w.mu.Lock()
	if w.state != StateOffline {
		w.mu.Unlock()
		return fmt.Errorf("cannot start watchdog from state %s", w.state)
	}
	w.state = StateStarting
	w.mu.Unlock()

	deployment, err := w.deployments.ReserveActiveSlot(ctx, w.instanceID)
	if err != nil {
		w.setState(StateOffline)
		return err
	}

	s := w.newSession()
	launchCtx, cancel := context.WithTimeout(ctx, time.Duration(startupTimeoutSeconds)*time.Second)
	defer cancel()
	if err := s.Launch(launchCtx, deployment, params, false); err != nil {
		w.setState(StateOffline)
		return err
	}

	w.mu.Lock()
	w.active = s
	w.heartbeatSeconds = heartbeatSeconds
	w.state = StateOnline
	w.retries = 0
	w.lastParams = params
	w.mu.Unlock()

	w.emit(domain.EventWatchdogLaunch, domain.ChatChannelWatchdog, "session launched")
	w.startHeartbeat()
	return nil
}

func (w *Watchdog) startHeartbeat() {
	if w.heartbeatSeconds <= 0 {
		return
	}
	spec := fmt.Sprintf("@every %ds", w.heartbeatSeconds)
	id, err := w.cron.AddFunc(spec, w.heartbeatTick)
	if err != nil {
		return
	}
	w.cronID = id
	w.cron.Start()
}

func (w *Watchdog) heartbeatTick() {
	w.mu.Lock()
	active := w.active
	state := w.state
	w.mu.Unlock()

	if state != StateOnline || active == nil {
		return
	}
	if active.RebootState() != domain.RebootNormal {
		// a graceful reboot is pending; exit is expected, not a crash.
		return
	}
	if active.Running() && procexec.IsAlive(active.PID()) {
		return
	}
	w.handleUnexpectedExit(context.Background())
}

// handleUnexpectedExit relaunches from the active slot, bounded by
// maxUnexpectedExitRetries (spec §4.4 "unexpected exit handling").
func (w *Watchdog) handleUnexpectedExit(ctx context.Context) {
	w.mu.Lock()
	w.retries++
	retries := w.retries
	previous := w.active
	params := w.lastParams
	w.mu.Unlock()

	w.emit(domain.EventWatchdogCrash, domain.ChatChannelWatchdog, "unexpected exit detected")
	if w.log != nil {
		w.log.LogWatchdogTransition(ctx, string(StateOnline), string(StateStarting), "unexpected exit")
	}

	if retries > maxUnexpectedExitRetries {
		w.setState(StateOffline)
		return
	}

	if previous != nil {
		previous.Terminate(ctx, false)
	}

	deployment, err := w.deployments.ReserveActiveSlot(ctx, w.instanceID)
	if err != nil {
		w.setState(StateOffline)
		return
	}

	s := w.newSession()
	if err := s.Launch(ctx, deployment, params, false); err != nil {
		w.setState(StateOffline)
		return
	}

	w.mu.Lock()
	w.active = s
	w.mu.Unlock()
}

// ReplaceOnline swaps in a new deployment with zero downtime (spec
// §4.4 "Online -> ReplacingOnline").
func (w *Watchdog) ReplaceOnline(ctx context.Context, params domain.LaunchParameters, startupTimeoutSeconds int) error {
	w.mu.Lock()
	if w.state != StateOnline {
		w.mu.Unlock()
		return fmt.Errorf("cannot replace online from state %s", w.state)
	}
	w.state = StateReplacingOnline
	original := w.active
	w.mu.Unlock()

	staged, err := w.deployments.ReserveStagedSlot(ctx, w.instanceID)
	if err != nil {
		w.setState(StateOnline)
		return err
	}

	newSession := w.newSession()
	launchCtx, cancel := context.WithTimeout(ctx, time.Duration(startupTimeoutSeconds)*time.Second)
	defer cancel()
	if err := newSession.Launch(launchCtx, staged, params, false); err != nil {
		w.setState(StateOnline)
		return err
	}

	if original != nil {
		original.SetRebootState(domain.RebootRestart)
		if err := original.Terminate(ctx, true); err != nil && w.log != nil {
			w.log.Error(ctx, "terminate original session after swap", err, nil)
		}
	}

	if err := w.deployments.PromoteStaged(ctx, w.instanceID); err != nil {
		w.setState(StateOnline)
		return err
	}

	w.mu.Lock()
	w.active = newSession
	w.staged = nil
	w.state = StateOnline
	w.retries = 0
	w.lastParams = params
	w.mu.Unlock()

	w.emit(domain.EventDeploySuccess, domain.ChatChannelWatchdog, "zero-downtime swap complete")
	return nil
}

// SoftRestart/SoftShutdown set the reboot state to take effect at the
// process's next natural reboot (spec §4.4).
func (w *Watchdog) SoftRestart() {
	w.withActive(func(s *session.Controller) { s.SetRebootState(domain.RebootRestart) })
}

func (w *Watchdog) SoftShutdown() {
	w.withActive(func(s *session.Controller) { s.SetRebootState(domain.RebootShutdown) })
}

func (w *Watchdog) withActive(fn func(*session.Controller)) {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if active != nil {
		fn(active)
	}
}

// Terminate synchronously stops the active session, waiting for exit
// with bounded grace before force-killing (spec §4.4 "Terminate").
func (w *Watchdog) Terminate(ctx context.Context) error {
	w.setState(StateTerminating)
	w.cron.Stop()

	w.mu.Lock()
	active := w.active
	w.mu.Unlock()

	if active != nil {
		if err := active.Terminate(ctx, true); err != nil {
			return err
		}
	}
	w.setState(StateOffline)
	return nil
}

// Reattach restores a session from a persisted reattach record on
// controller startup (spec §4.4 "*, Reattaching").
func (w *Watchdog) Reattach(ctx context.Context, record domain.ReattachRecord) error {
	w.setState(StateReattaching)

	s := w.newSession()
	ok, err := s.Reattach(record)
	if err != nil {
		w.setState(StateOffline)
		return err
	}
	if !ok {
		w.setState(StateOffline)
		return nil
	}

	w.mu.Lock()
	w.active = s
	w.state = StateOnline
	w.mu.Unlock()
	return nil
}

func (w *Watchdog) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
