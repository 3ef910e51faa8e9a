// Package dispatcher drives the fd cache and resolver from parsed trace
// events and prints the annotated line for each one.
//
// Ported from process_func and its per-syscall handlers
// (process_func_open, process_func_close, process_fd_func,
// process_func_seek, resolve_path) in _examples/original_source/src/main.c.
package dispatcher

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tamentis/pgtrace/internal/pfdcache"
	"github.com/tamentis/pgtrace/internal/traceparser"
)

// Dispatcher maps parsed trace events to the syscalls pgtrace understands,
// emitting one annotated line per event.
type Dispatcher struct {
	cache *pfdcache.Cache
	pwd   string
	out   io.Writer
}

// New returns a Dispatcher writing annotated output to out. pwd is used to
// make relative open() paths absolute; it may be empty when unknown (e.g.
// replay mode), in which case relative paths are emitted as-is.
func New(cache *pfdcache.Cache, pwd string, out io.Writer) *Dispatcher {
	return &Dispatcher{cache: cache, pwd: pwd, out: out}
}

// Dispatch handles one parsed event.
func (d *Dispatcher) Dispatch(ev traceparser.Event) {
	switch ev.FuncName {
	case "open":
		d.handleOpen(ev)
	case "close":
		d.handleClose(ev)
	case "read", "write":
		d.handleFDFunc(ev)
	case "lseek":
		d.handleSeek(ev)
	default:
		fmt.Fprintln(d.out, ev.Raw)
	}
}

func (d *Dispatcher) handleOpen(ev traceparser.Event) {
	if len(ev.Args) < 2 || !ev.HasResult {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	path := d.resolvePath(ev.Args[0])
	fd, err := strconv.Atoi(ev.Result)
	if err == nil {
		d.cache.OnOpen(fd, path)
		d.cache.Resolve()
	}

	fmt.Fprintf(d.out, "open(%s, ...) -> fd:%s\n", path, ev.Result)
}

func (d *Dispatcher) handleClose(ev traceparser.Event) {
	if len(ev.Args) < 1 {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	fd, err := strconv.Atoi(ev.Args[0])
	if err != nil {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	fmt.Fprintf(d.out, "close(%s)\n", d.reprFor(fd))
	d.cache.OnClose(fd)
}

func (d *Dispatcher) handleFDFunc(ev traceparser.Event) {
	if len(ev.Args) < 3 {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	fd, err := strconv.Atoi(ev.Args[0])
	if err != nil {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	d.cache.Resolve()
	fmt.Fprintf(d.out, "%s(%s, %s)\n", ev.FuncName, d.reprFor(fd), ev.Args[2])
}

func (d *Dispatcher) handleSeek(ev traceparser.Event) {
	if len(ev.Args) < 3 {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	fd, err := strconv.Atoi(ev.Args[0])
	if err != nil {
		fmt.Fprintln(d.out, ev.Raw)
		return
	}

	d.cache.Resolve()
	fmt.Fprintf(d.out, "lseek(%s, %s, %s)\n", d.reprFor(fd), ev.Args[1], ev.Args[2])
}

func (d *Dispatcher) reprFor(fd int) string {
	if p, ok := d.cache.Get(fd); ok {
		return p.Repr()
	}
	return fmt.Sprintf("fd=%d", fd)
}

// resolvePath makes a relative path absolute by prepending pwd, matching
// resolve_path()'s behavior. An already-absolute path is returned unchanged.
func (d *Dispatcher) resolvePath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") || d.pwd == "" {
		return path
	}
	return d.pwd + "/" + path
}
