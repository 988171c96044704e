// Package config loads the daemon's static configuration: engine root
// and state directories, default resource limits, and pipeline
// timeouts, from a YAML file (gopkg.in/yaml.v3), mirroring
// the teacher's preference for YAML-based configuration over flags for
// anything with more than a couple of fields.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/cored/pkg/quantity"
	"github.com/cuemby/cored/pkg/types"
)

// Config is the daemon-wide static configuration.
type Config struct {
	// RootPath holds each container's persistent directory
	// (container.json, config.json, rootfs when not externally
	// managed).
	RootPath string `yaml:"root_path"`
	// StatePath holds ephemeral per-container runtime state (pid
	// file, exit fifo, console socket).
	StatePath string `yaml:"state_path"`

	ContainerdSocket   string `yaml:"containerd_socket"`
	ContainerdNamespace string `yaml:"containerd_namespace"`

	DefaultCgroupParent string `yaml:"default_cgroup_parent"`

	DefaultUlimits         []types.Ulimit                `yaml:"default_ulimits"`
	DefaultDeviceWhitelist []types.DeviceWhitelistEntry   `yaml:"default_device_whitelist"`

	// GracefulStopTimeout is how long the stop pipeline waits after
	// the stop signal before escalating to SIGKILL.
	GracefulStopTimeout time.Duration `yaml:"graceful_stop_timeout"`
	// ForceKillTimeout is decoded from the file but not read by the stop
	// pipeline, which waits a fixed 90s (forceKillWait) after SIGKILL
	// and then, after the parent-pid fallback, waits without a bound.
	ForceKillTimeout time.Duration `yaml:"force_kill_timeout"`

	// DefaultHostChannelSize is the tmpfs size applied to a container's
	// host channel mount when the record leaves it unset.
	DefaultHostChannelSize int64 `yaml:"default_host_channel_size"`
}

// Default returns the configuration used when no file is supplied,
// with the device whitelist iSulad ships by default for system
// containers (/dev/null, /dev/zero, /dev/full, /dev/random,
// /dev/urandom, /dev/tty).
func Default() *Config {
	return &Config{
		RootPath:            "/var/lib/cored",
		StatePath:           "/run/cored",
		ContainerdSocket:    "/run/containerd/containerd.sock",
		ContainerdNamespace: "cored",
		DefaultCgroupParent: "/cored",
		DefaultUlimits: []types.Ulimit{
			{Name: "nofile", Soft: 1048576, Hard: 1048576},
		},
		DefaultDeviceWhitelist: []types.DeviceWhitelistEntry{
			{Type: "c", Major: 1, Minor: 3, Access: "rwm", Allow: true},  // /dev/null
			{Type: "c", Major: 1, Minor: 5, Access: "rwm", Allow: true},  // /dev/zero
			{Type: "c", Major: 1, Minor: 7, Access: "rwm", Allow: true},  // /dev/full
			{Type: "c", Major: 1, Minor: 8, Access: "rwm", Allow: true},  // /dev/random
			{Type: "c", Major: 1, Minor: 9, Access: "rwm", Allow: true},  // /dev/urandom
			{Type: "c", Major: 5, Minor: 0, Access: "rwm", Allow: true},  // /dev/tty
		},
		GracefulStopTimeout:    10 * time.Second,
		ForceKillTimeout:       5 * time.Second,
		DefaultHostChannelSize: quantity.MustParse("64Mi"),
	}
}

// Load reads and parses a YAML config file, applying Default for any
// zero-valued field left unset by the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
