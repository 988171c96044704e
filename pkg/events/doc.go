// Package events provides an in-memory event broker used to notify
// plugins of container lifecycle hook points: pre-start, started,
// pre-stop, stopped, exited, pre-remove, post-remove, and exec-started.
// Publish is non-blocking and best-effort — a slow or absent
// subscriber never stalls the start, stop, exec, or delete pipeline
// that published the event.
package events
