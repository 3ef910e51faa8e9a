// Package procinfo sanity-checks the PID pgtrace is about to attach to:
// does it look like a PostgreSQL backend at all? A mismatch is surfaced as
// a warning, never a hard failure — the operator may be intentionally
// tracing a pgbouncer or a custom-named backend.
//
// Grounded on lookupInstances in _examples/lesovsky-pgscv/discovery.go:
// process.NewProcess(pid) followed by proc.Name().
package procinfo

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/process"

	"github.com/tamentis/pgtrace/internal/log"
)

// CheckTarget looks up pid's process name and warns (without returning an
// error) if it doesn't look like a postgres backend.
func CheckTarget(pid int32) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		log.Warnf("procinfo: pid %d not found: %s", pid, err)
		return
	}

	name, err := proc.Name()
	if err != nil {
		log.Warnf("procinfo: could not read process name for pid %d: %s", pid, err)
		return
	}

	if !strings.Contains(name, "postgres") {
		log.Warnf("procinfo: pid %d is %q, doesn't look like a postgres backend", pid, name)
	}
}

// Exists reports whether pid is a live process, without judging its name.
func Exists(pid int32) error {
	running, err := process.PidExists(pid)
	if err != nil {
		return fmt.Errorf("procinfo: %w", err)
	}
	if !running {
		return fmt.Errorf("procinfo: no process with pid %d", pid)
	}
	return nil
}
