/*
Package types defines the data model shared by the container lifecycle
engine: the Container Record and the configuration values it is built
from.

# Core Types

  - Record: the Container Record (C1) — id, name, runtime family, paths,
    CommonConfig, HostConfig and the RuntimeState tuple.
  - CommonConfig: the image-derived, largely immutable half of a
    container's configuration (image ref, env, hostname, mounts).
  - HostConfig: the runtime-affecting configuration (resource limits,
    cgroup parent, network/ipc mode, auto-remove, host channel).
  - RuntimeState: the mutable state-machine tuple (state, pid info,
    exit code, last error) guarded by Record.Lock.

# Thread Safety

Record.Lock guards every mutable field of a Record, RuntimeState
included. The state machine (pkg/state) takes no lock of its own; it
adds a broadcast-on-change wait mechanism on top of Record.Lock, and
callers hold Record.Lock to read or write RuntimeState.
*/
package types
