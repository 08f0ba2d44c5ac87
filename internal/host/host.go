// Package host wires the per-instance runtime graph — watchdog,
// repository engine, chat bridge, bridge registrar — into the
// InstanceManager's lifecycle hooks and the HTTP adapter's runtime
// registry (spec §4.1 "start dependent services" / §6).
package host

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/AnturK/tgstation-server/infrastructure/logging"
	"github.com/AnturK/tgstation-server/internal/chat"
	"github.com/AnturK/tgstation-server/internal/deployment"
	"github.com/AnturK/tgstation-server/internal/domain"
	"github.com/AnturK/tgstation-server/internal/instance"
	"github.com/AnturK/tgstation-server/internal/job"
	"github.com/AnturK/tgstation-server/internal/repo"
	"github.com/AnturK/tgstation-server/internal/session"
	"github.com/AnturK/tgstation-server/internal/toolchain"
	"github.com/AnturK/tgstation-server/internal/watchdog"
)

// RepositorySnapshots persists the latest known repository state per
// instance, queried by the HTTP adapter's GET Repository (spec §4.3).
type RepositorySnapshots interface {
	SaveRepositorySnapshot(ctx context.Context, r domain.RepositorySnapshot) error
	GetRepositorySnapshot(ctx context.Context, instanceID int64) (domain.RepositorySnapshot, bool, error)
}

// ChatChannels persists chat channel configuration per instance.
type ChatChannels interface {
	ListChatChannels(ctx context.Context, instanceID int64) ([]domain.ChatChannel, error)
}

// Runtime is the live dependency graph backing one online instance.
type Runtime struct {
	instanceID int64
	watchdog   *watchdog.Watchdog
	repo       *repo.Engine
	bridge     *chat.Bridge
	registrar  *session.InMemoryBridgeRegistrar
	toolchain  *toolchain.Manager
	binaryPath string
	binaryName string
	bridgePort int
	apiVersion string
}

// Host is the concrete LifecycleHooks / RuntimeRegistry / Updater
// implementation handed to instance.Manager and httpapi.Server.
type Host struct {
	instances   *instance.Manager
	deployments *deployment.Store
	jobs        *job.Manager
	toolchain   *toolchain.Manager
	repoSnaps   RepositorySnapshots
	chatStore   ChatChannels
	log         *logging.Logger

	bridgePortBase int
	binaryName     string
	apiVersion     string

	mu       sync.Mutex
	runtimes map[int64]*Runtime
}

// Config wires a Host's dependencies.
type Config struct {
	Instances      *instance.Manager
	Deployments    *deployment.Store
	Jobs           *job.Manager
	Toolchain      *toolchain.Manager
	RepoSnapshots  RepositorySnapshots
	ChatChannels   ChatChannels
	Log            *logging.Logger
	BridgePortBase int
	BinaryName     string
	APIVersion     string
}

// New creates a Host with no instances online.
func New(cfg Config) *Host {
	log := cfg.Log
	if log == nil {
		log = logging.NewFromEnv("host")
	}
	binaryName := cfg.BinaryName
	if binaryName == "" {
		binaryName = "DreamDaemon"
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "1.0.0"
	}
	bridgePortBase := cfg.BridgePortBase
	if bridgePortBase == 0 {
		bridgePortBase = 45000
	}
	return &Host{
		instances:      cfg.Instances,
		deployments:    cfg.Deployments,
		jobs:           cfg.Jobs,
		toolchain:      cfg.Toolchain,
		repoSnaps:      cfg.RepoSnapshots,
		chatStore:      cfg.ChatChannels,
		log:            log,
		bridgePortBase: bridgePortBase,
		binaryName:     binaryName,
		apiVersion:     apiVersion,
		runtimes:       make(map[int64]*Runtime),
	}
}

// SetInstances wires the instance.Manager after construction, breaking
// the constructor cycle between instance.New (which takes Host as its
// LifecycleHooks) and Host (which needs the Manager to resolve an
// instance's path on startup).
func (h *Host) SetInstances(instances *instance.Manager) {
	h.instances = instances
}

func (h *Host) get(instanceID int64) (*Runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt, ok := h.runtimes[instanceID]
	return rt, ok
}

// repositoryDir is the fixed layout path under an instance's root
// (spec §4.1 tree: <instance>/Game, <instance>/Repository).
func repositoryDir(instancePath string) string {
	return filepath.Join(instancePath, "Repository")
}

