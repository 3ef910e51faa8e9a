// Package bootstrap resolves and drives the external collaborator
// processes pgtrace needs before it can start annotating a live backend:
// tool discovery on PATH, working-directory discovery via `ps`, the
// initial fd inventory via `lsof`, and spawning the syscall tracer itself.
//
// Ported from lsof_open/lsof_read_lines/lsof_resolve_path (src/lsof.c),
// ps_open/ps_get_pwd/ps_resolve_path (ps.c) and trace_open/trace_resolve_path
// (src/trace.c) in _examples/original_source. Tool-path resolution itself
// is delegated to exec.LookPath, the stdlib's equivalent of which.c.
package bootstrap

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tamentis/pgtrace/internal/pfdcache"
)

// RequireRoot returns an error unless the calling process is running as
// root: attaching strace/dtruss to an arbitrary backend needs it.
func RequireRoot() error {
	if unix.Geteuid() != 0 {
		return fmt.Errorf("bootstrap: pgtrace must run as root to attach to a live backend")
	}
	return nil
}

// Tools holds the resolved paths (and tracer flavor) of every external
// collaborator pgtrace shells out to.
type Tools struct {
	TracerPath string
	UseDtruss  bool
	LsofPath   string
	PsPath     string
}

// ResolveTools finds strace (or, failing that, dtruss), lsof and ps on
// PATH. It returns an error naming whichever tool is missing, exactly as
// the original tool's usage errors do.
func ResolveTools() (*Tools, error) {
	t := &Tools{}

	if p, err := exec.LookPath("strace"); err == nil {
		t.TracerPath = p
	} else if p, err := exec.LookPath("dtruss"); err == nil {
		t.TracerPath = p
		t.UseDtruss = true
	} else {
		return nil, fmt.Errorf("bootstrap: strace (or dtruss) is not in your PATH")
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: lsof is not in your PATH")
	}
	t.LsofPath = lsofPath

	psPath, err := exec.LookPath("ps")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ps is not in your PATH (good luck)")
	}
	t.PsPath = psPath

	return t, nil
}

// varBoundary matches the " VAR=" token that terminates an unescaped,
// space-containing PWD value in `ps e`'s environment dump.
var varBoundary = regexp.MustCompile(`\s[A-Za-z_][A-Za-z0-9_]*=`)

// GetPWD runs `ps e <pid>` and extracts the target's PWD environment
// variable. ps prints a header line followed by one record line.
func GetPWD(psPath string, pid int) (string, error) {
	out, err := exec.Command(psPath, "e", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", fmt.Errorf("bootstrap: ps e %d: %w", pid, err)
	}

	lines := strings.SplitN(string(out), "\n", 3)
	if len(lines) < 2 {
		return "", fmt.Errorf("bootstrap: ps e %d produced no record line", pid)
	}

	pwd, ok := parsePWD(lines[1])
	if !ok {
		return "", fmt.Errorf("bootstrap: PWD not found in ps output for pid %d", pid)
	}

	return pwd, nil
}

func parsePWD(record string) (string, bool) {
	idx := strings.Index(record, "PWD=")
	// Skip matches that are the tail of a longer name such as OLDPWD=.
	for idx > 0 && record[idx-1] != ' ' {
		next := strings.Index(record[idx+1:], "PWD=")
		if next < 0 {
			idx = -1
			break
		}
		idx += 1 + next
	}
	if idx < 0 {
		return "", false
	}

	rest := strings.TrimRight(record[idx+len("PWD="):], "\r\n")

	if loc := varBoundary.FindStringIndex(rest); loc != nil {
		return rest[:loc[0]], true
	}

	return rest, true
}

// PreloadFromLsof runs `lsof -Faftn -p <pid>` and seeds cache with every fd
// it reports, classifying paths as it goes.
func PreloadFromLsof(lsofPath string, pid int, cache *pfdcache.Cache) error {
	cache.Clear()

	cmd := exec.Command(lsofPath, "-Faftn", "-p", strconv.Itoa(pid))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("bootstrap: lsof stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bootstrap: lsof start: %w", err)
	}

	readLsofLines(stdout, cache)

	return cmd.Wait()
}

type pendingEntry struct {
	fd        int
	fdType    pfdcache.FDType
	filepath  string
	skip      bool
	sawFD     bool
	sawAccess bool
}

// readLsofLines parses lsof -Faftn's field-letter-prefixed output. lsof
// emits one of two record layouts depending on platform/version: the
// access-mode field ('a') first, or the fd-number field ('f') first —
// whichever comes first in a given record is the one that begins it, so a
// new record starts whenever a field type repeats for the entry currently
// being built. A blank access mode means the fd isn't I/O-specific and is
// skipped, matching lsof_read_lines.
func readLsofLines(r io.Reader, cache *pfdcache.Cache) {
	scanner := bufio.NewScanner(r)

	var cur *pendingEntry

	flush := func() {
		if cur != nil && !cur.skip {
			cache.PreloadEntry(cur.fd, cur.fdType, cur.filepath)
		}
		cur = nil
	}

	startNew := func() {
		flush()
		cur = &pendingEntry{fdType: pfdcache.Unknown}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		field, value := line[0], line[1:]

		switch field {
		case 'p':
			continue
		case 'a':
			if cur == nil || cur.sawAccess {
				startNew()
			}
			cur.sawAccess = true
			if value == "" || value[0] == ' ' {
				cur.skip = true
			}
		case 'f':
			if cur == nil || cur.sawFD {
				startNew()
			}
			cur.sawFD = true
			if fd, err := strconv.Atoi(value); err == nil {
				cur.fd = fd
			}
		case 't':
			if cur == nil {
				continue
			}
			cur.fdType = lsofFDType(value)
		case 'n':
			if cur == nil {
				continue
			}
			cur.filepath = value
		}
	}

	flush()
}

func lsofFDType(s string) pfdcache.FDType {
	switch s {
	case "CHR":
		return pfdcache.Char
	case "REG":
		return pfdcache.Reg
	case "DIR":
		return pfdcache.Dir
	case "FIFO":
		return pfdcache.Fifo
	case "IPv4":
		return pfdcache.IPv4
	case "IPv6":
		return pfdcache.IPv6
	default:
		return pfdcache.Unknown
	}
}

// SpawnTracer attaches strace or dtruss to pid and returns a pipe
// streaming its output line-by-line: strace writes its output to stderr,
// dtruss to stdout.
func SpawnTracer(t *Tools, pid int) (*exec.Cmd, io.ReadCloser, error) {
	var cmd *exec.Cmd
	if t.UseDtruss {
		cmd = exec.Command(t.TracerPath, "-p", strconv.Itoa(pid))
	} else {
		cmd = exec.Command(t.TracerPath, "-q", "-s", "8", "-p", strconv.Itoa(pid))
	}

	var (
		pipe io.ReadCloser
		err  error
	)
	if t.UseDtruss {
		pipe, err = cmd.StdoutPipe()
	} else {
		pipe, err = cmd.StderrPipe()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: tracer pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: tracer start: %w", err)
	}

	return cmd, pipe, nil
}
