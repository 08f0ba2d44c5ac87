// Package domain holds the entities shared across instance management,
// job scheduling, repository operations, the watchdog, session control,
// chat bridging, toolchain installation, and deployment storage.
package domain

import "time"

// SecurityLevel is the DreamDaemon sandboxing level, ordered
// ultrasafe <= safe <= trusted.
type SecurityLevel int

const (
	SecurityUltrasafe SecurityLevel = iota
	SecuritySafe
	SecurityTrusted
)

// Max returns the higher (less restrictive) of two security levels.
func (s SecurityLevel) Max(other SecurityLevel) SecurityLevel {
	if other > s {
		return other
	}
	return s
}

// RebootState is the pending action a session takes at its next natural reboot.
type RebootState int

const (
	RebootNormal RebootState = iota
	RebootRestart
	RebootShutdown
)

// ChatChannelKind classifies a chat channel for event routing.
type ChatChannelKind string

const (
	ChatChannelWatchdog ChatChannelKind = "watchdog"
	ChatChannelDev      ChatChannelKind = "dev"
	ChatChannelAdmin    ChatChannelKind = "admin"
	ChatChannelGame     ChatChannelKind = "game"
)

// Right bitmasks, grouped by category (spec §3 SUPPLEMENT InstanceUser).
type Right uint64

const (
	RightRelocate Right = 1 << iota
	RightRename
	RightSetOnline
	RightSetConfig
	RightSetAutoUpdate
	RightCancelJob
)

// Instance is one managed game-server deployment.
type Instance struct {
	ID            int64
	Name          string
	Path          string
	Online        bool
	AutoStart     bool
	Detached      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InstanceUser is a per-instance rights row keyed by user id.
type InstanceUser struct {
	InstanceID           int64
	UserID               string
	InstancePermissionSet Right
	RepositoryRights     Right
	ByondRights          Right
	DreamDaemonRights    Right
	DreamMakerRights     Right
	ChatBotRights        Right
	ConfigurationRights  Right
}

// JobErrorKind mirrors the spec §7 taxonomy for a job's terminal error.
type JobErrorKind string

const (
	JobErrorNone         JobErrorKind = ""
	JobErrorValidation   JobErrorKind = "Validation"
	JobErrorConflict     JobErrorKind = "Conflict"
	JobErrorCancelled    JobErrorKind = "Cancelled"
	JobErrorAbandoned    JobErrorKind = "Abandoned"
	JobErrorInternal     JobErrorKind = "Internal"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobRegistered JobStatus = "registered"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobErrored    JobStatus = "errored"
	JobCancelled  JobStatus = "cancelled"
)

// Job is one long-running, cancellable, progress-reporting operation.
type Job struct {
	ID                   string
	InstanceID           *int64
	Description          string
	StartedBy            string
	StartedAt            time.Time
	StoppedAt            *time.Time
	CancelRightCategory  string
	CancelRight          Right
	Progress             int32
	Status               JobStatus
	ErrorKind            JobErrorKind
	ErrorMessage         string
	CancellationRequested bool
}

// RepositorySnapshot is the persisted view of a repository's working copy.
type RepositorySnapshot struct {
	InstanceID     int64
	OriginURL      string
	HeadSHA        string
	Reference      string
	TrackingBranch bool
	UpdatedAt      time.Time
}

// Deployment is one compile job's output (spec §3 "Deployment"; alias CompileJob).
type Deployment struct {
	ID                 string
	InstanceID         int64
	JobID              string
	RevisionSHA        string
	OriginSHA          string
	ActiveTestMerges   []int
	MinimumSecurity    SecurityLevel
	CompilerVersion    string
	ArtifactName       string
	DMEName            string
	OutputDisplayName  string
	PrimaryDir         string
	SecondaryDir       string
	IsLatest           bool
	IsActive           bool
	RefCount           int
	CreatedAt          time.Time
}

// LaunchParameters controls how a game-server process is started.
type LaunchParameters struct {
	AllowWebClient        bool
	SecurityLevel         SecurityLevel
	PrimaryPort           int
	SecondaryPort         int
	StartupTimeoutSeconds int
	HeartbeatSeconds      int
}

// Validate enforces the spec §3 LaunchParameters invariants.
func (p LaunchParameters) Validate() error {
	if p.PrimaryPort < 1 || p.PrimaryPort > 65535 {
		return errInvalidPort
	}
	if p.SecondaryPort < 1 || p.SecondaryPort > 65535 {
		return errInvalidPort
	}
	if p.PrimaryPort == p.SecondaryPort {
		return errDuplicatePorts
	}
	return nil
}

// ReattachRecord persists enough state to rebind a live process after a
// controller restart.
type ReattachRecord struct {
	InstanceID       int64
	ProcessID        int
	AccessIdentifier string
	BoundPort        int
	IsPrimary        bool
	RebootState      RebootState
	SecurityLevel    SecurityLevel
}

// Session is one running game-server process owned by a SessionController.
type Session struct {
	BoundPort        int
	AccessIdentifier string
	RebootState      RebootState
	Deployment       *Deployment
	LaunchParameters LaunchParameters
	ProcessID        int
	Running          bool
}

// ChatChannel is a materialised provider channel.
type ChatChannel struct {
	InstanceID       int64
	ProviderID       string
	ChannelID        string
	FriendlyName     string
	Kind             ChatChannelKind
	IsAdminChannel   bool
	IsWatchdogChannel bool
	IsUpdateChannel  bool
}

// WatchdogEventKind names the events ChatBridge classifies and routes.
type WatchdogEventKind string

const (
	EventRepoFetch         WatchdogEventKind = "RepoFetch"
	EventRepoMergeConflict WatchdogEventKind = "RepoMergeConflict"
	EventRepoMergePullRequest WatchdogEventKind = "RepoMergePullRequest"
	EventRepoPreSynchronize WatchdogEventKind = "RepoPreSynchronize"
	EventDeployStart       WatchdogEventKind = "DeployStart"
	EventDeploySuccess     WatchdogEventKind = "DeploySuccess"
	EventDeployFailure     WatchdogEventKind = "DeployFailure"
	EventWatchdogLaunch    WatchdogEventKind = "WatchdogLaunch"
	EventWatchdogCrash     WatchdogEventKind = "WatchdogCrash"
)

// Event is a classified occurrence routed to chat channels of the
// matching kind.
type Event struct {
	InstanceID int64
	Kind       WatchdogEventKind
	Channel    ChatChannelKind
	Message    string
	Details    map[string]string
	At         time.Time
}
