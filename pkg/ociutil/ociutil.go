// Package ociutil implements the OCI-Spec Renewer (C4): the logic that
// rewrites a container's config.json before every runtime_start so the
// spec on disk always reflects the Container Record's current
// configuration rather than whatever was current when the container
// was first created.
package ociutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/continuity/fs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/cored/pkg/config"
	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

// UserResolver resolves a configured username against the container's
// rootfs passwd/group database, mirroring pkg/image.Adapter.GetUserConf
// without ociutil needing to depend on the image package directly.
type UserResolver func(rootfs, username string) (uid, gid uint32, additionalGids []uint32, err error)

// NamespaceResolver resolves HostConfig's "container:<id>" share mode
// to the peer container's namespace path (e.g. /proc/<pid>/ns/pid),
// for the pid/uts/net namespace kinds.
type NamespaceResolver func(peerID, nsType string) (path string, err error)

// Renew rewrites rec's OCI spec document in place on disk, merging:
//   - env/hostname/working dir/user/mounts from CommonConfig
//   - resource limits, cgroup path, device whitelist, ulimits from
//     HostConfig, falling back to cfg's daemon defaults where the
//     record leaves them unset
//   - the share-namespace (pid/uts/net) and annotation settings
//
// resolveUser and resolveNamespace may be nil, in which case User and
// the "container:<id>" share mode are left at whatever the spec
// already has on disk (used by tests and by renewals that are known
// not to touch either).
//
// It is idempotent: calling it twice in a row produces the same
// document (spec.md C4 invariant).
func Renew(rec *types.Record, cfg *config.Config, resolveUser UserResolver, resolveNamespace NamespaceResolver) error {
	spec, err := load(rec.ConfigPath())
	if err != nil {
		return errs.Wrap(errs.KindSpecRenewalFailure, "load oci spec", err)
	}

	applyProcess(spec, rec)
	applyMounts(spec, rec)
	applyResources(spec, rec, cfg)
	if err := applyUser(spec, rec, resolveUser); err != nil {
		return errs.Wrap(errs.KindUserResolution, "resolve container user", err)
	}
	if err := applyShareNamespaces(spec, rec, resolveNamespace); err != nil {
		return errs.Wrap(errs.KindSpecRenewalFailure, "apply share-namespaces", err)
	}
	applyAnnotations(spec, rec)

	if err := save(rec.ConfigPath(), spec); err != nil {
		return errs.Wrap(errs.KindSpecRenewalFailure, "save oci spec", err)
	}
	return nil
}

func load(path string) (*specs.Spec, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultSpec(), nil
	}
	if err != nil {
		return nil, err
	}
	var s specs.Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func save(path string, spec *specs.Spec) error {
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func defaultSpec() *specs.Spec {
	return &specs.Spec{
		Version: specs.Version,
		Process: &specs.Process{Cwd: "/"},
		Linux:   &specs.Linux{},
	}
}

func applyProcess(spec *specs.Spec, rec *types.Record) {
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	spec.Process.Env = mergeEnv(spec.Process.Env, rec.Common.Env)
	spec.Process.Terminal = rec.Common.Tty
	if rec.Common.WorkingDir != "" {
		spec.Process.Cwd = rec.Common.WorkingDir
	}
	spec.Hostname = rec.Common.Hostname
}

// applyUser resolves rec.Common.User against the rootfs passwd/group
// database and sets spec.Process.User accordingly. An empty User means
// root, matching the original's "default user" behavior, and clears
// any uid/gid left over from an earlier renewal against a different
// user. When resolveUser is nil the spec's existing User is left
// untouched.
func applyUser(spec *specs.Spec, rec *types.Record, resolveUser UserResolver) error {
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	if rec.Common.User == "" {
		spec.Process.User = specs.User{}
		return nil
	}
	if resolveUser == nil {
		return nil
	}
	uid, gid, additionalGids, err := resolveUser(rec.Common.BaseFS, rec.Common.User)
	if err != nil {
		return err
	}
	spec.Process.User = specs.User{UID: uid, GID: gid, AdditionalGids: additionalGids}
	return nil
}

// mergeEnv overlays override on top of base, de-duplicating by
// variable name and keeping override's value and position on
// conflict — the corrected behavior the original's
// merge_exec_from_container_env left buggy (it appended rather than
// replaced on a duplicate key).
func mergeEnv(base, override []string) []string {
	idx := make(map[string]int, len(base))
	merged := append([]string(nil), base...)
	for i, kv := range merged {
		idx[envKey(kv)] = i
	}
	for _, kv := range override {
		k := envKey(kv)
		if i, ok := idx[k]; ok {
			merged[i] = kv
			continue
		}
		idx[k] = len(merged)
		merged = append(merged, kv)
	}
	return merged
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}

func applyMounts(spec *specs.Spec, rec *types.Record) {
	var mounts []specs.Mount
	for _, m := range rec.Common.Mounts {
		options := []string{"rbind"}
		if m.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Destination: m.Destination,
			Source:      m.Source,
			Type:        mountType(m.Type),
			Options:     options,
		})
	}
	if rec.Host.HostChannel != nil {
		mounts = append(mounts, specs.Mount{
			Destination: rec.Host.HostChannel.PathInContainer,
			Source:      rec.Host.HostChannel.PathOnHost,
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		})
	}
	spec.Mounts = mounts
}

func mountType(t string) string {
	if t == "tmpfs" {
		return "tmpfs"
	}
	return "bind"
}

func applyResources(spec *specs.Spec, rec *types.Record, cfg *config.Config) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	cgroupParent := rec.Host.CgroupParent
	if cgroupParent == "" {
		cgroupParent = cfg.DefaultCgroupParent
	}
	spec.Linux.CgroupsPath = filepath.Join(cgroupParent, rec.ID)

	res := &specs.LinuxResources{
		Memory: &specs.LinuxMemory{},
		CPU:    &specs.LinuxCPU{},
	}
	if rec.Host.MemoryLimit > 0 {
		res.Memory.Limit = &rec.Host.MemoryLimit
	}
	if rec.Host.CPUShares > 0 {
		shares := uint64(rec.Host.CPUShares)
		res.CPU.Shares = &shares
	}
	if rec.Host.CPUQuota > 0 {
		res.CPU.Quota = &rec.Host.CPUQuota
	}
	// A zero cpu_period with a nonzero quota is ambiguous in the
	// original; we resolve it by substituting the kernel's 100ms
	// default rather than writing a literal 0 (see DESIGN.md).
	period := uint64(rec.Host.CPUPeriod)
	if period == 0 {
		period = 100000
	}
	res.CPU.Period = &period

	whitelist := rec.Host.DeviceWhitelist
	if whitelist == nil {
		whitelist = cfg.DefaultDeviceWhitelist
	}
	for _, d := range mergeDevices(whitelist, rec.Host.Devices) {
		res.Devices = append(res.Devices, specs.LinuxDeviceCgroup{
			Allow:  d.Allow,
			Type:   d.Type,
			Major:  nilIfWildcard(d.Major),
			Minor:  nilIfWildcard(d.Minor),
			Access: d.Access,
		})
	}
	spec.Linux.Resources = res

	spec.Process.Rlimits = nil
	for _, u := range mergeUlimits(rec.Host.Ulimits, cfg.DefaultUlimits) {
		spec.Process.Rlimits = append(spec.Process.Rlimits, specs.POSIXRlimit{
			Type: "RLIMIT_" + toUpper(u.Name),
			Soft: u.Soft,
			Hard: u.Hard,
		})
	}
}

// applyShareNamespaces rewrites spec.Linux.Namespaces for the pid, uts
// and network kinds from HostConfig.PidMode/UTSMode/NetworkMode:
//   - "host": the namespace entry is dropped so the process joins the
//     host's own namespace of that kind.
//   - "container:<id>": resolved via resolveNamespace to the peer
//     container's namespace path, so this container joins it.
//   - anything else (including ""): the container gets its own private
//     namespace of that kind, an entry with no Path.
//
// The network namespace additionally honors an already-attached
// rec.Network.SandboxKey (set by the external network module, e.g. a
// CNI netns or a shared pod sandbox netns) ahead of NetworkMode, since
// by the time Renew runs that path is authoritative over the mode
// string alone.
func applyShareNamespaces(spec *specs.Spec, rec *types.Record, resolveNamespace NamespaceResolver) error {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}

	if err := applyShareNamespace(spec, specs.PIDNamespace, rec.Host.PidMode, resolveNamespace); err != nil {
		return err
	}
	if err := applyShareNamespace(spec, specs.UTSNamespace, rec.Host.UTSMode, resolveNamespace); err != nil {
		return err
	}

	netMode := rec.Host.NetworkMode
	if rec.Network != nil && rec.Network.SandboxKey != "" {
		setNamespace(spec, specs.NetworkNamespace, rec.Network.SandboxKey)
		return nil
	}
	return applyShareNamespace(spec, specs.NetworkNamespace, netMode, resolveNamespace)
}

func applyShareNamespace(spec *specs.Spec, nsType specs.LinuxNamespaceType, mode string, resolveNamespace NamespaceResolver) error {
	switch {
	case mode == "host":
		removeNamespace(spec, nsType)
	case strings.HasPrefix(mode, "container:"):
		peerID := strings.TrimPrefix(mode, "container:")
		if resolveNamespace == nil {
			setNamespace(spec, nsType, "")
			return nil
		}
		path, err := resolveNamespace(peerID, string(nsType))
		if err != nil {
			return err
		}
		setNamespace(spec, nsType, path)
	default:
		setNamespace(spec, nsType, "")
	}
	return nil
}

func setNamespace(spec *specs.Spec, nsType specs.LinuxNamespaceType, path string) {
	for i, ns := range spec.Linux.Namespaces {
		if ns.Type == nsType {
			spec.Linux.Namespaces[i].Path = path
			return
		}
	}
	spec.Linux.Namespaces = append(spec.Linux.Namespaces, specs.LinuxNamespace{Type: nsType, Path: path})
}

func removeNamespace(spec *specs.Spec, nsType specs.LinuxNamespaceType) {
	out := spec.Linux.Namespaces[:0]
	for _, ns := range spec.Linux.Namespaces {
		if ns.Type != nsType {
			out = append(out, ns)
		}
	}
	spec.Linux.Namespaces = out
}

// mergeDevices overlays user-requested devices on top of the
// whitelist, keyed by (type, major, minor).
func mergeDevices(whitelist, requested []types.DeviceWhitelistEntry) []types.DeviceWhitelistEntry {
	type key struct {
		t          string
		maj, min   int64
	}
	idx := make(map[key]int)
	merged := append([]types.DeviceWhitelistEntry(nil), whitelist...)
	for i, d := range merged {
		idx[key{d.Type, d.Major, d.Minor}] = i
	}
	for _, d := range requested {
		k := key{d.Type, d.Major, d.Minor}
		if i, ok := idx[k]; ok {
			merged[i] = d
			continue
		}
		idx[k] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

func mergeUlimits(rec, defaults []types.Ulimit) []types.Ulimit {
	idx := make(map[string]int, len(defaults))
	merged := append([]types.Ulimit(nil), defaults...)
	for i, u := range merged {
		idx[u.Name] = i
	}
	for _, u := range rec {
		if i, ok := idx[u.Name]; ok {
			merged[i] = u
			continue
		}
		idx[u.Name] = len(merged)
		merged = append(merged, u)
	}
	return merged
}

func nilIfWildcard(v int64) *int64 {
	if v == -1 {
		return nil
	}
	return &v
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func applyAnnotations(spec *specs.Spec, rec *types.Record) {
	if spec.Annotations == nil {
		spec.Annotations = make(map[string]string)
	}
	for k, v := range rec.Common.Labels {
		spec.Annotations[k] = v
	}
	if rec.Host.IpcMode != "" {
		spec.Annotations["io.cored.ipc-mode"] = rec.Host.IpcMode
	}
	if rec.Common.SandboxID != "" {
		spec.Annotations["io.cored.sandbox-id"] = rec.Common.SandboxID
	}
}

// ProcessDefaults is the subset of a renewed OCI spec's process section
// the exec pipeline (C7) copies into a synthesised exec process-spec
// for the generic-OCI runtime family (spec.md §4.4).
type ProcessDefaults struct {
	Rlimits         []types.Ulimit
	NoNewPrivileges bool
}

// LoadProcessDefaults reads rec's already-renewed config.json and
// extracts the rlimits and no_new_privileges the exec pipeline inherits.
func LoadProcessDefaults(configPath string) (ProcessDefaults, error) {
	spec, err := load(configPath)
	if err != nil {
		return ProcessDefaults{}, errs.Wrap(errs.KindSpecRenewalFailure, "load oci spec", err)
	}
	var d ProcessDefaults
	if spec.Process == nil {
		return d, nil
	}
	d.NoNewPrivileges = spec.Process.NoNewPrivileges
	for _, r := range spec.Process.Rlimits {
		d.Rlimits = append(d.Rlimits, types.Ulimit{
			Name: rlimitName(r.Type),
			Soft: r.Soft,
			Hard: r.Hard,
		})
	}
	return d, nil
}

func rlimitName(t string) string {
	const prefix = "RLIMIT_"
	if len(t) > len(prefix) && t[:len(prefix)] == prefix {
		return toLower(t[len(prefix):])
	}
	return toLower(t)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// ResolveInRootfs resolves a path the user supplied (e.g. the
// env-target-file, or the mtab symlink destination) against rootfs
// using continuity/fs.RootPath so a malicious symlink inside the
// container cannot escape it.
func ResolveInRootfs(rootfs, path string) (string, error) {
	resolved, err := fs.RootPath(rootfs, path)
	if err != nil {
		return "", errs.Wrap(errs.KindSymlinkFailure, "resolve path in rootfs", err)
	}
	return resolved, nil
}
