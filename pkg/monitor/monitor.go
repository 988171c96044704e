// Package monitor implements the Exit Monitor (C9): a single
// epoll-based goroutine that owns every container's exit-FIFO fd and
// turns "fifo became readable" into a state-machine SetStopped/
// SetRestarting transition, without one goroutine per container.
package monitor

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/types"
)

// Handler is invoked from the monitor goroutine once a registered fd
// reports an exit. exitCode is the code read from the FIFO payload, or
// 137 (128+SIGKILL) if the writer closed the fifo without writing one,
// matching force-kill/OOM teardown where the runtime never gets to
// write a code.
type Handler func(rec *types.Record, machine *state.Machine, exitCode int)

type registration struct {
	id      string
	rec     *types.Record
	machine *state.Machine
}

// Monitor owns one epoll instance and the set of exit-FIFO fds
// registered against it.
type Monitor struct {
	epfd int

	mu    sync.Mutex
	byFd  map[int]*registration
	onFd  Handler
	stop  chan struct{}
	wake  int // pipe write end used to interrupt EpollWait on Close
	wakeR int
}

// New creates an epoll instance. Call Run in its own goroutine once,
// then Register each container's exit-FIFO fd as it starts.
func New(onExit Handler) (*Monitor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "epoll_create1", err)
	}
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		unix.Close(epfd)
		return nil, errs.Wrap(errs.KindRuntimeFailure, "pipe", err)
	}
	m := &Monitor{
		epfd:  epfd,
		byFd:  make(map[int]*registration),
		onFd:  onExit,
		stop:  make(chan struct{}),
		wakeR: fds[0],
		wake:  fds[1],
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, m.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(m.wakeR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(m.wakeR)
		unix.Close(m.wake)
		return nil, errs.Wrap(errs.KindRuntimeFailure, "epoll_ctl add wake fd", err)
	}
	return m, nil
}

// Register takes ownership of fd (the open exit-FIFO read end) for
// container id, arming it in the epoll set. The monitor closes fd
// itself once the exit is processed.
func (m *Monitor) Register(fd int, id string, rec *types.Record, machine *state.Machine) error {
	m.mu.Lock()
	m.byFd[fd] = &registration{id: id, rec: rec, machine: machine}
	m.mu.Unlock()

	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		m.mu.Lock()
		delete(m.byFd, fd)
		m.mu.Unlock()
		return errs.Wrap(errs.KindRuntimeFailure, "epoll_ctl add exit fifo", err)
	}
	return nil
}

// Unregister removes fd from the epoll set without closing it, used
// when a start pipeline fails after registering but before the
// container ever ran.
func (m *Monitor) Unregister(fd int) {
	m.mu.Lock()
	delete(m.byFd, fd)
	m.mu.Unlock()
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run is the monitor's single goroutine body: EpollWait in a loop
// until Close, dispatching each readable fd to onFd then closing and
// dropping it.
func (m *Monitor) Run() {
	events := make([]unix.EpollEvent, 32)
	for {
		n, err := unix.EpollWait(m.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Errorf("exit monitor epoll_wait failed", err)
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == m.wakeR {
				select {
				case <-m.stop:
					return
				default:
				}
				continue
			}
			m.handleFd(fd)
		}
	}
}

func (m *Monitor) handleFd(fd int) {
	m.mu.Lock()
	reg, ok := m.byFd[fd]
	if ok {
		delete(m.byFd, fd)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)

	exitCode := readExitCode(fd)
	unix.Close(fd)

	m.onFd(reg.rec, reg.machine, exitCode)
}

// readExitCode reads a little-endian uint32 exit code written by the
// runtime shim into the exit-FIFO. A short read (fd closed without
// data, e.g. after a force-kill) yields 137, the 128+SIGKILL
// convention the stop pipeline also uses directly.
func readExitCode(fd int) int {
	buf := make([]byte, 4)
	n, err := unix.Read(fd, buf)
	if err != nil || n < 4 {
		return 137
	}
	return int(binary.LittleEndian.Uint32(buf))
}

// Close interrupts Run and releases the epoll fd. Registered fds that
// never fired are left open for the caller to close themselves.
func (m *Monitor) Close() error {
	close(m.stop)
	unix.Write(m.wake, []byte{0})
	unix.Close(m.wakeR)
	unix.Close(m.wake)
	return unix.Close(m.epfd)
}
