// Package image provides the minimal concrete adapter for the image
// module contract spec.md §6 names: rootfs mount/umount/remove and
// user-db resolution. The engine only depends on the narrow ImageModule
// interface (pkg/container/ports.go); this package is one out-of-tree
// implementation suitable for an already-unpacked OCI image layout
// managed by containerd snapshots, where "mount" is a no-op because
// containerd's snapshotter already prepared the rootfs at bundle
// creation time, and this adapter's job is limited to bookkeeping and
// /etc/passwd,/etc/group lookups for user resolution.
package image

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

// UserConf is the resolved uid/gid tuple returned by im_get_user_conf.
type UserConf struct {
	UID            uint32
	GID            uint32
	AdditionalGIDs []uint32
}

// Summary is the minimal im_image_summary payload the engine surfaces
// through inspect.
type Summary struct {
	ID     string
	Size   int64
	Digest string
}

// Adapter implements the image module contract against a rootfs tree
// already materialized on disk under <root_path>/<id>/rootfs.
type Adapter struct{}

// New creates an Adapter.
func New() *Adapter { return &Adapter{} }

// MountContainerRootfs is a no-op in this adapter: the containerd
// snapshot backing rec.Common.BaseFS is already mounted by the time
// the start pipeline reaches this step. It exists so the pipeline's
// step ordering (spec.md §4.2 step 7) stays faithful even when the
// concrete image backend needs no separate mount call.
func (a *Adapter) MountContainerRootfs(rec *types.Record) error {
	if rec.Common.BaseFS == "" {
		return errs.New(errs.KindMountFailure, "no rootfs configured for "+rec.ID)
	}
	if _, err := os.Stat(rec.Common.BaseFS); err != nil {
		return errs.Wrap(errs.KindMountFailure, "rootfs not present", err)
	}
	return nil
}

// UmountContainerRootfs mirrors MountContainerRootfs: a no-op, present
// for pipeline symmetry and to give future backends (e.g. an
// overlay-driver adapter that really does mount/umount) a stable call
// site.
func (a *Adapter) UmountContainerRootfs(rec *types.Record) error {
	return nil
}

// RemoveContainerRootfs removes the rootfs tree backing rec, ignoring
// a not-exist error so delete stays idempotent.
func (a *Adapter) RemoveContainerRootfs(rec *types.Record) error {
	if rec.Common.BaseFS == "" {
		return nil
	}
	if err := os.RemoveAll(rec.Common.BaseFS); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindRuntimeFailure, "remove rootfs", err)
	}
	return nil
}

// GetUserConf resolves username against <rootfs>/etc/passwd and
// /etc/group. An empty username resolves to uid 0 / gid 0, matching
// the original's "unresolved user with empty request is not an error"
// distinction from a genuinely unresolvable non-empty username.
func (a *Adapter) GetUserConf(rootfs, username string) (UserConf, error) {
	if username == "" || username == "root" {
		return UserConf{UID: 0, GID: 0}, nil
	}
	if uid, err := strconv.ParseUint(username, 10, 32); err == nil {
		return UserConf{UID: uint32(uid), GID: 0}, nil
	}

	uid, gidName, err := lookupPasswd(filepath.Join(rootfs, "etc", "passwd"), username)
	if err != nil {
		return UserConf{}, errs.Wrap(errs.KindUserResolution, "resolve user "+username, err)
	}
	gid, err := lookupGroupGID(filepath.Join(rootfs, "etc", "group"), strconv.FormatUint(uint64(gidName), 10))
	if err != nil {
		gid = 0
	}
	return UserConf{UID: uid, GID: gid}, nil
}

func lookupPasswd(path, username string) (uid, gid uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 || fields[0] != username {
			continue
		}
		u, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return 0, 0, errs.New(errs.KindUserResolution, "invalid uid field for "+username)
		}
		g, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			return 0, 0, errs.New(errs.KindUserResolution, "invalid gid field for "+username)
		}
		return uint32(u), uint32(g), nil
	}
	return 0, 0, errs.New(errs.KindUserResolution, "user not found: "+username)
}

func lookupGroupGID(path, gidField string) (uint32, error) {
	if gid, err := strconv.ParseUint(gidField, 10, 32); err == nil {
		return uint32(gid), nil
	}
	return 0, errs.New(errs.KindUserResolution, "group not found: "+gidField)
}

// ImageSummary returns a minimal image summary; a real backend would query
// containerd's image store for size and digest.
func (a *Adapter) ImageSummary(rec *types.Record) Summary {
	return Summary{ID: rec.Common.Image, Digest: rec.Common.ImageDigest.String()}
}
