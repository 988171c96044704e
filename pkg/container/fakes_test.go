package container

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/cored/pkg/config"
	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/image"
	"github.com/cuemby/cored/pkg/restart"
	"github.com/cuemby/cored/pkg/runtime"
	"github.com/cuemby/cored/pkg/sandbox"
	"github.com/cuemby/cored/pkg/types"
)

var (
	notAliveErr = errs.New(errs.KindNotAlive, "container is not alive")
	errBadUser  = errs.New(errs.KindUserResolution, "user not found")
)

// fakeRuntime is an in-memory runtime.Runtime double: Start/Kill flip a
// per-id alive flag instead of touching any real namespace, so the
// pipelines can be exercised without a containerd socket.
type fakeRuntime struct {
	mu      sync.Mutex
	alive   map[string]bool
	family  string
	execFn  func(ctx context.Context, rec *types.Record, spec runtime.ExecSpec) (int, error)
	killErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{alive: make(map[string]bool), family: "runc"}
}

func (f *fakeRuntime) Family() string { return f.family }

func (f *fakeRuntime) Create(ctx context.Context, rec *types.Record) error { return nil }

func (f *fakeRuntime) Start(ctx context.Context, rec *types.Record) (types.PidInfo, error) {
	f.mu.Lock()
	f.alive[rec.ID] = true
	f.mu.Unlock()
	return types.PidInfo{Pid: 4242}, nil
}

func (f *fakeRuntime) Kill(ctx context.Context, rec *types.Record, sig int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[rec.ID] {
		return notAliveErr
	}
	if f.killErr != nil {
		return f.killErr
	}
	delete(f.alive, rec.ID)
	return nil
}

func (f *fakeRuntime) Pause(ctx context.Context, rec *types.Record) error  { return nil }
func (f *fakeRuntime) Resume(ctx context.Context, rec *types.Record) error { return nil }

func (f *fakeRuntime) Exec(ctx context.Context, rec *types.Record, spec runtime.ExecSpec) (int, error) {
	if f.execFn != nil {
		return f.execFn(ctx, rec, spec)
	}
	return 0, nil
}

func (f *fakeRuntime) Wait(ctx context.Context, rec *types.Record, timeout time.Duration) (int, bool, error) {
	return 0, true, nil
}

func (f *fakeRuntime) CleanResource(ctx context.Context, rec *types.Record) error { return nil }

func (f *fakeRuntime) Rm(ctx context.Context, rec *types.Record) error { return nil }

func (f *fakeRuntime) isAlive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[id]
}

// fakeImage is an ImageModule double that never touches disk.
type fakeImage struct {
	mountErr error
}

func (f *fakeImage) MountContainerRootfs(rec *types.Record) error   { return f.mountErr }
func (f *fakeImage) UmountContainerRootfs(rec *types.Record) error  { return nil }
func (f *fakeImage) RemoveContainerRootfs(rec *types.Record) error  { return nil }
func (f *fakeImage) GetUserConf(rootfs, username string) (image.UserConf, error) {
	if username == "nobody" {
		return image.UserConf{}, errBadUser
	}
	return image.UserConf{UID: 0, GID: 0}, nil
}

// fakeVolumes is a VolumeModule double recording DelRef calls.
type fakeVolumes struct {
	mu      sync.Mutex
	delRefs []string
}

func (f *fakeVolumes) Mount(name string) (string, error) { return "/vol/" + name, nil }
func (f *fakeVolumes) DelRef(name string, anonymous bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delRefs = append(f.delRefs, name)
	return nil
}

// fakeEvents is an EventPublisher double recording every event type
// published, in order.
type fakeEvents struct {
	mu   sync.Mutex
	seen []events.EventType
}

func (f *fakeEvents) Publish(e *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, e.Type)
}

func (f *fakeEvents) types() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.EventType(nil), f.seen...)
}

func newTestEngine(t testingT) (*Engine, *fakeRuntime, *fakeImage, *fakeVolumes, *fakeEvents) {
	t.Helper()

	cfg := config.Default()
	cfg.RootPath = t.TempDir()
	cfg.StatePath = t.TempDir()

	rt := newFakeRuntime()
	img := &fakeImage{}
	vols := &fakeVolumes{}
	ev := &fakeEvents{}

	e, err := NewEngine(cfg, rt, img, vols, sandbox.None, restart.New(), ev, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })

	return e, rt, img, vols, ev
}

// testingT narrows *testing.T to what fakes_test.go needs, so it can be
// shared by every pipeline test file in this package.
type testingT interface {
	Helper()
	TempDir() string
	Fatal(args ...interface{})
	Cleanup(func())
}

func newTestRecord(e *Engine, id string) (*types.Record, error) {
	return e.Create(CreateRequest{
		ID:   id,
		Name: id + "-name",
		Common: &types.CommonConfig{
			BaseFS: e.Config.RootPath + "/" + id + "/rootfs",
			Env:    []string{"FOO=bar"},
		},
		Host: &types.HostConfig{
			IpcMode: "host",
		},
	})
}

// newRunningRecord creates a record and drives its state machine
// straight to Running, bypassing the real 18-step start pipeline (and
// the real epoll/exit-fifo plumbing it wires up) so stop/exec/delete
// pipeline tests can exercise their own logic in isolation.
func newRunningRecord(t testingT, e *Engine, rt *fakeRuntime, id string) *types.Record {
	t.Helper()

	rec, err := newTestRecord(e, id)
	if err != nil {
		t.Fatal(err)
	}

	_, machine, err := e.Store.Get(id)
	if err != nil {
		t.Fatal(err)
	}

	rec.Lock.Lock()
	if err := machine.Begin(); err != nil {
		rec.Lock.Unlock()
		t.Fatal(err)
	}
	if err := machine.SetRunning(types.PidInfo{Pid: 4242}, 0); err != nil {
		rec.Lock.Unlock()
		t.Fatal(err)
	}
	rec.Lock.Unlock()

	rt.mu.Lock()
	rt.alive[id] = true
	rt.mu.Unlock()

	return rec
}

// setStoppedAsync simulates the exit monitor observing the container's
// process die: after delay, it drives the state machine's own
// SetStopped transition directly, unblocking any WaitStopped call.
func setStoppedAsync(e *Engine, rec *types.Record, machine interface{ SetStopped(int) error }, delay time.Duration, exitCode int) {
	go func() {
		time.Sleep(delay)
		rec.Lock.Lock()
		machine.SetStopped(exitCode)
		rec.Lock.Unlock()
	}()
}
