// Package volume implements the volume contract spec.md §6 names
// (volume_del_ref, volume_remove) on top of a local bind-mount backed
// driver, adapted from the teacher's single-tenant LocalDriver:
// anonymous volumes, named after a container's mount point, ref-
// counted across every container that mounts them.
package volume

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/cored/pkg/errs"
)

// DefaultVolumesPath is the base directory for local volumes.
const DefaultVolumesPath = "/var/lib/cored/volumes"

// LocalDriver implements volume storage as plain directories under a
// base path, exactly as the teacher's LocalDriver does.
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a driver rooted at basePath, defaulting it
// when empty.
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindMountFailure, "create volumes directory", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

// Path returns the host directory backing volume name.
func (d *LocalDriver) Path(name string) string {
	return filepath.Join(d.basePath, name)
}

// Create creates the backing directory for name, idempotently.
func (d *LocalDriver) Create(name string) (string, error) {
	path := d.Path(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", errs.Wrap(errs.KindMountFailure, "create volume directory", err)
	}
	return path, nil
}

// Remove deletes the backing directory for name, ignoring a
// not-exist error so repeated removal stays idempotent.
func (d *LocalDriver) Remove(name string) error {
	if err := os.RemoveAll(d.Path(name)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindUmountFailure, "remove volume directory", err)
	}
	return nil
}

// RefCounter tracks how many containers currently mount each named
// volume, the bookkeeping behind volume_del_ref/volume_remove: a
// volume is only actually deleted once its count reaches zero.
type RefCounter struct {
	mu    sync.Mutex
	count map[string]int
}

// NewRefCounter creates an empty ref counter.
func NewRefCounter() *RefCounter {
	return &RefCounter{count: make(map[string]int)}
}

// AddRef increments name's reference count, called when a container
// mounts the volume during the start pipeline.
func (r *RefCounter) AddRef(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[name]++
}

// DelRef decrements name's reference count and returns the count after
// decrementing, matching volume_del_ref(name, container_id)'s
// per-container accounting (the delete pipeline calls this once per
// mount point of type "volume", §4.5 step 11).
func (r *RefCounter) DelRef(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count[name] > 0 {
		r.count[name]--
	}
	n := r.count[name]
	if n == 0 {
		delete(r.count, name)
	}
	return n
}

// Count returns name's current reference count.
func (r *RefCounter) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[name]
}

// Manager composes a LocalDriver with ref-counting to implement the
// volume_del_ref / volume_remove contract.
type Manager struct {
	driver *LocalDriver
	refs   *RefCounter
}

// NewManager creates a Manager backed by a LocalDriver rooted at
// basePath.
func NewManager(basePath string) (*Manager, error) {
	d, err := NewLocalDriver(basePath)
	if err != nil {
		return nil, err
	}
	return &Manager{driver: d, refs: NewRefCounter()}, nil
}

// Mount ensures name's backing directory exists, increments its
// ref count, and returns the host path to bind-mount.
func (m *Manager) Mount(name string) (string, error) {
	path, err := m.driver.Create(name)
	if err != nil {
		return "", err
	}
	m.refs.AddRef(name)
	return path, nil
}

// DelRef decrements name's reference count. If anonymous is true and
// the count reaches zero, the volume is also removed from disk — the
// `--rm` + anonymous-volume path of spec.md §4.5 step 11 — with a
// not-exist error ignored so a concurrent removal never fails delete.
func (m *Manager) DelRef(name string, anonymous bool) error {
	remaining := m.refs.DelRef(name)
	if remaining > 0 || !anonymous {
		return nil
	}
	return m.driver.Remove(name)
}
