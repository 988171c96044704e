// Package network implements network teardown for the delete pipeline
// (C8 step 5, do_delete_network). It removes a container's native
// bridge attachment (veth pair) or invokes the CNI binary to tear down
// a CNI-managed namespace, driving external commands directly the same
// way the teacher's host-port publisher drove iptables: short-lived
// exec.Command invocations, no long-lived client or daemon connection.
//
// Sandbox pod containers (CommonConfig.SandboxID set, NetworkMode
// "cni") share their sandbox's network namespace and skip teardown
// here; the sandbox's own deletion removes the shared namespace once.
// Host and none network modes have nothing to tear down. All paths are
// idempotent: deleting an already-gone veth or netns file is not an
// error, matching the delete pipeline's requirement to retry cleanly
// after a partial failure.
package network
