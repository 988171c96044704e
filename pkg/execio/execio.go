// Package execio implements the exec pipeline's I/O transport (C7):
// a three-FIFO (stdin/stdout/stderr) implementation for ordinary
// containers, and a vsock implementation for sandboxes whose task
// address is a vsock:// URL. The container package's exec pipeline
// picks one with IsVsockAddress on the record's network settings.
package execio

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/containerd/fifo"
	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"

	"github.com/cuemby/cored/pkg/errs"
)

// IO is the triple of streams an exec process is wired to.
type IO struct {
	Stdin  fifoOrConn
	Stdout fifoOrConn
	Stderr fifoOrConn
}

// fifoOrConn is satisfied by both *os.File-backed FIFOs (via
// containerd/fifo) and a vsock.Conn, so pipeline code can treat both
// transports uniformly as io.ReadWriteClosers.
type fifoOrConn interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// Paths names the three FIFO nodes for one exec invocation.
type Paths struct {
	Stdin  string
	Stdout string
	Stderr string
}

// OpenFIFOs creates (if absent) and opens the three named pipes at
// paths, the transport used for the generic-OCI runtime family. Nodes
// are created with unix.Mkfifo first; containerd/fifo.OpenFifo only
// opens an existing node, it does not create one, matching how
// containerd's own cio subsystem wires stdio.
func OpenFIFOs(ctx context.Context, paths Paths) (*IO, error) {
	stdin, err := openFifo(ctx, paths.Stdin, unix.O_WRONLY|unix.O_CREAT|unix.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	stdout, err := openFifo(ctx, paths.Stdout, unix.O_RDONLY|unix.O_CREAT|unix.O_NONBLOCK)
	if err != nil {
		stdin.Close()
		return nil, err
	}
	stderr, err := openFifo(ctx, paths.Stderr, unix.O_RDONLY|unix.O_CREAT|unix.O_NONBLOCK)
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	return &IO{Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

func openFifo(ctx context.Context, path string, flags int) (fifoOrConn, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "mkfifo "+path, err)
	}
	f, err := fifo.OpenFifo(ctx, path, flags, 0o600)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "open fifo "+path, err)
	}
	return f, nil
}

// IsVsockAddress reports whether addr is a "vsock://cid:port" task
// address, the signal the exec pipeline uses to select the vsock
// transport over FIFOs.
func IsVsockAddress(addr string) bool {
	return strings.HasPrefix(addr, "vsock://")
}

// DialVsock opens three vsock streams multiplexed by port offset (the
// base port carries stdin, base+1 stdout, base+2 stderr), matching the
// convention kata-style sandbox agents use for exec I/O over a single
// vsock CID.
func DialVsock(addr string) (*IO, error) {
	cid, basePort, err := parseVsockAddr(addr)
	if err != nil {
		return nil, err
	}

	stdin, err := vsock.Dial(cid, basePort, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "dial vsock stdin", err)
	}
	stdout, err := vsock.Dial(cid, basePort+1, nil)
	if err != nil {
		stdin.Close()
		return nil, errs.Wrap(errs.KindRuntimeFailure, "dial vsock stdout", err)
	}
	stderr, err := vsock.Dial(cid, basePort+2, nil)
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, errs.Wrap(errs.KindRuntimeFailure, "dial vsock stderr", err)
	}

	return &IO{Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

func parseVsockAddr(addr string) (cid, port uint32, err error) {
	u, err := url.Parse(addr)
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindInvalidArgument, "invalid vsock address "+addr, err)
	}
	cidN, err := strconv.ParseUint(u.Hostname(), 10, 32)
	if err != nil {
		return 0, 0, errs.New(errs.KindInvalidArgument, fmt.Sprintf("invalid vsock cid in %q", addr))
	}
	portN, err := strconv.ParseUint(u.Port(), 10, 32)
	if err != nil {
		return 0, 0, errs.New(errs.KindInvalidArgument, fmt.Sprintf("invalid vsock port in %q", addr))
	}
	return uint32(cidN), uint32(portN), nil
}

// Close closes every stream in io that is non-nil, collecting the
// first error encountered (if any) but always attempting all three.
func (io *IO) Close() error {
	var firstErr error
	for _, s := range []fifoOrConn{io.Stdin, io.Stdout, io.Stderr} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
