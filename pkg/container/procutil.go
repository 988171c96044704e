package container

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// processStillHasStartTime reports whether pid is still the same
// process that had startTime recorded at p_start_time, guarding the
// force-kill escalation fallback (spec.md §4.3) against signalling a
// reused pid once the original monitor process has already exited.
// A runtime family that never populates PStartTime (e.g. containerd,
// which has no separate monitor process) always reports false here,
// which is correct: there is nothing to fall back to.
func processStillHasStartTime(pid int, startTime uint64) bool {
	if startTime == 0 {
		return false
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// Field 22 (starttime) follows the comm field, which itself may
	// contain spaces and is parenthesized; split on the closing paren.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return false
	}
	fields := strings.Fields(string(data[idx+1:]))
	const starttimeFieldAfterComm = 19 // state is field 3, starttime is field 22
	if len(fields) <= starttimeFieldAfterComm {
		return false
	}
	actual, err := strconv.ParseUint(fields[starttimeFieldAfterComm], 10, 64)
	if err != nil {
		return false
	}
	return actual == startTime
}

// killPid sends SIGKILL directly to a raw pid, used only by the
// force-kill escalation fallback once processStillHasStartTime has
// confirmed it is safe to do so.
func killPid(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
