// Package types holds the data model for the container lifecycle engine:
// the Container Record and the values it is built from.
package types

import (
	"fmt"
	"sync"
	"time"

	"github.com/distribution/reference"
	digest "github.com/opencontainers/go-digest"
)

// State is one point of the container state machine (C2).
type State string

const (
	StateCreated    State = "created"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
	StateDead       State = "dead"
)

// PidInfo is the pid tuple recorded on a successful runtime_start.
type PidInfo struct {
	Pid        int
	Ppid       int
	StartTime  uint64
	PStartTime uint64
}

// HealthStatus tracks the current health-check status of a container.
type HealthStatus struct {
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
}

// RuntimeState is the mutable half of the Container Record guarded by
// the owning Record's lock (C1/C2).
type RuntimeState struct {
	State                State
	RemovalInProgress    bool
	Pid                  PidInfo
	StartedAt            time.Time
	FinishedAt           time.Time
	ExitCode             int
	LastError            string
	HasBeenManualStopped bool
	Health               *HealthStatus
}

// MountPoint is a single mount point of the container (C1 common_config).
type MountPoint struct {
	Source      string
	Destination string
	Type        string // "bind", "volume", "tmpfs"
	Name        string // volume name, when Type == "volume"
	Anonymous   bool   // volume has no user-supplied name; eligible for --rm cleanup
	ReadOnly    bool
	Driver      string
}

// HostChannel is the shared host/container tmpfs channel used to
// exchange files between the host and a system container.
type HostChannel struct {
	PathOnHost      string
	PathInContainer string
	Size            int64 // bytes; 0 = daemon default
}

// HealthCheck is a container's optional health-check configuration,
// read by the start pipeline to attach a health.Monitor and by the
// stop pipeline to know which one to cancel.
type HealthCheck struct {
	Type        string // "http", "tcp", "exec"
	Endpoint    string // path for http, "host:port" for tcp
	Command     []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// CommonConfig is the image-derived, largely immutable half of a
// container's configuration (C1 common_config).
type CommonConfig struct {
	ImageType   string // e.g. "oci", "embedded"
	Image       string
	ImageDigest digest.Digest // optional, set by the image module
	BaseFS      string
	Env         []string
	Hostname    string
	User        string // default user; empty = root
	WorkingDir  string
	Tty         bool
	OpenStdin   bool
	StopSignal  string // e.g. "SIGTERM"; empty = SIGTERM
	Labels      map[string]string
	Mounts      []*MountPoint
	ShmPath     string
	SandboxID   string // empty if not sandboxed
	HealthCheck *HealthCheck
}

// NormalizeImage validates/normalizes Image against the distribution
// reference grammar, in place.
func (c *CommonConfig) NormalizeImage() error {
	if c.Image == "" {
		return nil
	}
	named, err := reference.ParseNormalizedNamed(c.Image)
	if err != nil {
		return fmt.Errorf("invalid image reference %q: %w", c.Image, err)
	}
	c.Image = named.String()
	return nil
}

// Ulimit is one resource limit entry (host_config_ulimits_element);
// becomes an rlimit of type RLIMIT_<UPPER(Name)>.
type Ulimit struct {
	Name string
	Soft uint64
	Hard uint64
}

// DeviceWhitelistEntry is one entry of a cgroup device access rule.
type DeviceWhitelistEntry struct {
	Type   string // "c", "b", "a"
	Major  int64  // -1 = wildcard
	Minor  int64  // -1 = wildcard
	Access string // e.g. "rwm"
	Allow  bool
}

// UserRemap configures uid/gid remapping.
type UserRemap struct {
	Enabled bool
	HostUID uint32
	HostGID uint32
}

// HostConfig is the runtime-affecting, per-container configuration
// (C1 host_config).
type HostConfig struct {
	CPUShares       int64
	CPUQuota        int64
	CPUPeriod       int64
	MemoryLimit     int64
	Ulimits         []Ulimit
	CgroupParent    string
	NetworkMode     string // "bridge", "host", "none", "cni", "sandbox"
	IpcMode         string // "shareable", "private", "host", "container:<id>"
	PidMode         string
	UTSMode         string
	UserRemap       *UserRemap
	AutoRemove      bool
	AutoRemoveBak   bool
	HostChannel     *HostChannel
	EnvTargetFile   string
	SystemContainer bool
	ExternalRootfs  bool
	DeviceWhitelist []DeviceWhitelistEntry // nil = use daemon default
	Devices         []DeviceWhitelistEntry // user-requested, merged with whitelist
}

// NetworkSettings is network-module-derived state attached to a
// container (C1 network_settings).
type NetworkSettings struct {
	SandboxKey string // netns path, or a vsock:// task address
	CNIResult  map[string]string
}

// Record is the Container Record (C1): the in-memory aggregate owned
// exclusively by the store, guarded by Lock for every mutable field,
// the RuntimeState tuple included; pkg/state adds wait/broadcast on
// top of the same lock.
type Record struct {
	Lock sync.Mutex `json:"-"`

	ID        string
	Name      string
	Runtime   string // "lcr", "kata-runtime", "runc", ...
	RootPath  string
	StatePath string

	Common *CommonConfig
	Host   *HostConfig

	RuntimeState RuntimeState

	Network *NetworkSettings

	CreatedAt time.Time
}

// ConfigPath is the renewed OCI spec path inside RootPath.
func (r *Record) ConfigPath() string {
	return r.RootPath + "/" + r.ID + "/config.json"
}

// RecordPath is the persisted Container Record path.
func (r *Record) RecordPath() string {
	return r.RootPath + "/" + r.ID + "/container.json"
}

// ContainerStateDir is the ephemeral per-container state directory.
func (r *Record) ContainerStateDir() string {
	return r.StatePath + "/" + r.ID
}

// PidFilePath is the recorded pid file inside the state dir.
func (r *Record) PidFilePath() string {
	return r.ContainerStateDir() + "/pid.file"
}

// ExitFifoPath is the exit-FIFO inside the state dir.
func (r *Record) ExitFifoPath() string {
	return r.ContainerStateDir() + "/exit.fifo"
}
