// Package toolchain installs and caches compiler toolchain versions
// (spec §4.7 ToolchainManager): an exclusive lock guards
// install/uninstall, a shared lock guards in-use-by-a-session, and
// clean-cache evicts unreferenced, unpinned versions on daemon start.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/logging"
	"github.com/AnturK/tgstation-server/internal/app/system"
)

var _ system.Service = (*Manager)(nil)

// Installer fetches and unpacks a toolchain version into destDir. The
// actual installer/extractor is an external collaborator (spec §1);
// this is only its contract with the core.
type Installer interface {
	Install(ctx context.Context, version, destDir string) error
}

type versionEntry struct {
	mu       sync.RWMutex
	path     string
	refCount int
}

// defaultSweepIntervalSeconds bounds how often CleanCache re-runs after
// the initial on-start sweep, absent a Config override.
const defaultSweepIntervalSeconds = 6 * 60 * 60

// Manager caches installed toolchain versions under one cache directory.
type Manager struct {
	cacheDir     string
	installer    Installer
	log          *logging.Logger
	sweepSeconds int

	mu       sync.Mutex
	versions map[string]*versionEntry
	pins     map[string]bool

	cron *cron.Cron
}

// Config wires a Manager's dependencies.
type Config struct {
	CacheDir  string
	Installer Installer
	Log       *logging.Logger
	Pins      []string
	// SweepIntervalSeconds overrides how often the cache-eviction sweep
	// re-runs after Start's initial pass. Defaults to 6 hours.
	SweepIntervalSeconds int
}

// New creates a Manager rooted at cfg.CacheDir.
func New(cfg Config) *Manager {
	pins := make(map[string]bool, len(cfg.Pins))
	for _, p := range cfg.Pins {
		pins[p] = true
	}
	sweepSeconds := cfg.SweepIntervalSeconds
	if sweepSeconds <= 0 {
		sweepSeconds = defaultSweepIntervalSeconds
	}
	log := cfg.Log
	if log == nil {
		log = logging.NewFromEnv("toolchain-manager")
	}
	return &Manager{
		cacheDir:     cfg.CacheDir,
		installer:    cfg.Installer,
		log:          log,
		versions:     make(map[string]*versionEntry),
		pins:         pins,
		sweepSeconds: sweepSeconds,
		cron:         cron.New(),
	}
}

// Name identifies this Manager as a system.Service.
func (m *Manager) Name() string { return "toolchain-manager" }

// Start runs clean-cache once (spec §4.7 "clean-cache runs on daemon
// start") and then schedules it to re-run on a fixed interval so
// versions released by a finished session get evicted without
// requiring another restart.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.CleanCache(ctx); err != nil {
		return err
	}
	spec := fmt.Sprintf("@every %ds", m.sweepSeconds)
	if _, err := m.cron.AddFunc(spec, m.sweepTick); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "schedule cache sweep", err)
	}
	m.cron.Start()
	return nil
}

// Stop halts the periodic cache-eviction sweep. Installed versions
// persist across restarts.
func (m *Manager) Stop(ctx context.Context) error {
	<-m.cron.Stop().Done()
	return nil
}

func (m *Manager) sweepTick() {
	if err := m.CleanCache(context.Background()); err != nil {
		m.log.WithError(err).Error("periodic toolchain cache sweep failed")
	}
}

func (m *Manager) entry(version string) *versionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.versions[version]
	if !ok {
		e = &versionEntry{path: filepath.Join(m.cacheDir, version)}
		m.versions[version] = e
	}
	return e
}

// Install acquires the exclusive lock and installs version if it is
// not already cached.
func (m *Manager) Install(ctx context.Context, version string) (string, error) {
	e := m.entry(version)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := os.Stat(e.path); err == nil {
		return e.path, nil
	}
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "create toolchain directory", err)
	}
	if err := m.installer.Install(ctx, version, e.path); err != nil {
		os.RemoveAll(e.path)
		return "", apierrors.Wrap(apierrors.KindTransient, apierrors.ErrCodeNone, "install toolchain "+version, err)
	}
	return e.path, nil
}

// Uninstall acquires the exclusive lock and removes version's cache entry.
// It fails with a conflict, without waiting, while the lock is held.
func (m *Manager) Uninstall(version string) error {
	e := m.entry(version)
	if !e.mu.TryLock() {
		return apierrors.New(apierrors.KindConflict, apierrors.ErrCodeNone, "toolchain version in use")
	}
	defer e.mu.Unlock()

	if e.refCount > 0 {
		return apierrors.New(apierrors.KindConflict, apierrors.ErrCodeNone, "toolchain version in use")
	}
	if err := os.RemoveAll(e.path); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "remove toolchain directory", err)
	}
	m.mu.Lock()
	delete(m.versions, version)
	m.mu.Unlock()
	return nil
}

// AcquireShared takes the shared (in-use) lock for version, for the
// duration of a launched SessionController (spec §4.7 "a shared lock
// for use by a SessionController").
func (m *Manager) AcquireShared(version string) (release func(), path string, err error) {
	e := m.entry(version)
	e.mu.RLock()
	if _, statErr := os.Stat(e.path); statErr != nil {
		e.mu.RUnlock()
		return nil, "", apierrors.New(apierrors.KindValidation, apierrors.ErrCodeNone, "toolchain version not installed: "+version)
	}

	m.mu.Lock()
	e.refCount++
	m.mu.Unlock()

	release = func() {
		m.mu.Lock()
		e.refCount--
		m.mu.Unlock()
		e.mu.RUnlock()
	}
	return release, e.path, nil
}

// InUseByIncompatibleSession implements session.ToolchainLock: a
// different version than the one requested currently has shared-lock
// holders.
func (m *Manager) InUseByIncompatibleSession(version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for v, e := range m.versions {
		if v == version {
			continue
		}
		if e.refCount > 0 {
			return true
		}
	}
	return false
}

// Pin adds version to the pinning list, exempting it from eviction.
func (m *Manager) Pin(version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[version] = true
}

// CleanCache evicts unreferenced, unpinned cached versions (spec §4.7
// "clean-cache ... evicting unreferenced versions subject to a pinning
// list. A shared lock in use blocks eviction of its version.").
func (m *Manager) CleanCache(ctx context.Context) error {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "read toolchain cache", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		version := entry.Name()

		m.mu.Lock()
		if m.pins[version] {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		e := m.entry(version)
		if !e.mu.TryLock() {
			// a shared lock holder is active; skip this version.
			continue
		}
		if e.refCount > 0 {
			e.mu.Unlock()
			continue
		}
		path := filepath.Join(m.cacheDir, version)
		if err := os.RemoveAll(path); err != nil {
			e.mu.Unlock()
			return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, fmt.Sprintf("evict toolchain %s", version), err)
		}
		e.mu.Unlock()
		m.mu.Lock()
		delete(m.versions, version)
		m.mu.Unlock()
	}
	return nil
}
