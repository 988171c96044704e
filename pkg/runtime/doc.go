/*
Package runtime defines the engine's low-level runtime contract (C5-C8's
create/start/kill/resume/exec/clean_resource/rm operations, spec.md §6)
and ships one concrete implementation, ContainerdRuntime, against a
containerd daemon for the generic-OCI runtime family.

# Architecture

	┌─────────────────── CONTAINERD RUNTIME ────────────────────┐
	│  ContainerdRuntime Client                                  │
	│  - Socket: /run/containerd/containerd.sock                 │
	│  - Namespace: cored                                        │
	│                                                             │
	│  Create  -> pull image, register OCI bundle, no task       │
	│  Start   -> NewTask + task.Start, returns pid               │
	│  Kill    -> task.Kill(signal)                              │
	│  Pause / Resume -> task.Pause / task.Resume                 │
	│  Exec    -> task.Exec against the container's process spec  │
	│  Wait    -> task.Wait with a caller-supplied timeout        │
	│  CleanResource -> task.Delete, bundle untouched             │
	│  Rm      -> container.Delete + snapshot cleanup             │
	└─────────────────────────────────────────────────────────────┘

Additional runtime families (e.g. a vsock-backed sandbox runtime) plug
in by implementing the same Runtime interface; C5/C6/C7 read
Runtime.Family() where their behavior branches on it.
*/
package runtime
