// Package network implements the delete pipeline's network teardown
// step (C8 step 5, do_delete_network): removing a container's native
// bridge attachment or CNI network namespace, in the same
// exec.Command-driven, no-heavyweight-client style the teacher's
// pkg/network/hostports.go uses for iptables rule management.
package network

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

// Teardown removes rec's network attachment. Native mode detaches the
// veth pair and drops the bridge-side interface; CNI mode invokes
// `cni-tool del` against the stored netns path. Both ignore
// already-gone state, matching the delete pipeline's idempotence
// requirement.
func Teardown(rec *types.Record) error {
	if rec.Network == nil || rec.Network.SandboxKey == "" {
		return nil
	}

	switch rec.Host.NetworkMode {
	case "", "bridge", "native":
		return teardownNative(rec)
	case "cni":
		if rec.Common.SandboxID != "" {
			// Sandbox pod containers share their sandbox's netns;
			// only the sandbox's own delete removes it.
			return nil
		}
		return teardownCNI(rec)
	case "host", "none":
		return nil
	default:
		return nil
	}
}

func teardownNative(rec *types.Record) error {
	veth := fmt.Sprintf("veth%s", shortID(rec.ID))
	cmd := exec.Command("ip", "link", "delete", veth)
	if out, err := cmd.CombinedOutput(); err != nil {
		if !alreadyGone(string(out)) {
			return errs.Wrap(errs.KindRuntimeFailure, "delete veth "+veth, err)
		}
	}
	return removeNetnsFile(rec)
}

func teardownCNI(rec *types.Record) error {
	cmd := exec.Command("cni-tool", "del", rec.ID, rec.Network.SandboxKey)
	if out, err := cmd.CombinedOutput(); err != nil {
		if !alreadyGone(string(out)) {
			return errs.Wrap(errs.KindRuntimeFailure, "cni del", err)
		}
	}
	return removeNetnsFile(rec)
}

func removeNetnsFile(rec *types.Record) error {
	if rec.Network.SandboxKey == "" {
		return nil
	}
	if err := os.Remove(rec.Network.SandboxKey); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindRuntimeFailure, "remove netns file", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 11 {
		return id[:11]
	}
	return id
}

func alreadyGone(output string) bool {
	out := strings.ToLower(output)
	return strings.Contains(out, "cannot find device") || strings.Contains(out, "no such")
}
