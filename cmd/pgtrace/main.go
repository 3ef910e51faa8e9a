package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tamentis/pgtrace/internal/bootstrap"
	"github.com/tamentis/pgtrace/internal/clusterctx"
	"github.com/tamentis/pgtrace/internal/dispatcher"
	"github.com/tamentis/pgtrace/internal/log"
	"github.com/tamentis/pgtrace/internal/metrics"
	"github.com/tamentis/pgtrace/internal/pfdcache"
	"github.com/tamentis/pgtrace/internal/pgpath"
	"github.com/tamentis/pgtrace/internal/procinfo"
	"github.com/tamentis/pgtrace/internal/replay"
	"github.com/tamentis/pgtrace/internal/resolver"
	"github.com/tamentis/pgtrace/internal/traceparser"
	"github.com/tamentis/pgtrace/internal/verify"
)

var gitTag, gitCommit string

func main() {
	var (
		showVersion = kingpin.Flag("version", "show version and exit").Default().Bool()
		pid         = kingpin.Flag("pid", "pid of the postgres backend to trace").Short('p').Envar("PGTRACE_PID").Int()
		debug       = kingpin.Flag("debug", "enable debug logging").Short('d').Envar("PGTRACE_DEBUG").Bool()
		verifyDSN   = kingpin.Flag("verify-dsn", "postgres DSN to cross-check decoded relation names against").Envar("PGTRACE_VERIFY_DSN").String()
		metricsAddr = kingpin.Flag("metrics-addr", "listen address for a Prometheus /metrics endpoint").Envar("PGTRACE_METRICS_ADDR").String()
		replayFile  = kingpin.Flag("replay-file", "follow an on-disk tracer-output file instead of attaching live").Envar("PGTRACE_REPLAY_FILE").String()
	)
	kingpin.Parse()

	if *showVersion {
		fmt.Printf("pgtrace %s-%s\n", gitTag, gitCommit)
		os.Exit(0)
	}

	if *debug {
		log.SetLevel("debug")
	} else {
		log.SetLevel("info")
	}
	log.SetApplication("pgtrace")

	if *replayFile == "-" {
		log.Error("--replay-file - is not supported, pipe to stdin instead")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	doExit := make(chan error, 2)
	go func() {
		doExit <- listenSignals()
		cancel()
	}()

	go func() {
		err := run(ctx, runArgs{
			pid:         *pid,
			verifyDSN:   *verifyDSN,
			metricsAddr: *metricsAddr,
			replayFile:  *replayFile,
		})
		if err != nil {
			log.Errorf("%s", err)
			os.Exit(1)
		}
		doExit <- nil
		cancel()
	}()

	if err := <-doExit; err != nil {
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(1)
	}
}

func listenSignals() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	return fmt.Errorf("%s", <-c)
}

type runArgs struct {
	pid         int
	verifyDSN   string
	metricsAddr string
	replayFile  string
}

func run(ctx context.Context, a runArgs) error {
	clusterCtx := clusterctx.New()
	classifier := pgpath.New(clusterCtx)
	res := resolver.New(clusterCtx)
	cache := pfdcache.New(classifier, res)

	var v *verify.Verifier
	if a.verifyDSN != "" {
		v = verify.New(a.verifyDSN)
		defer v.Close(ctx)
	}

	if a.metricsAddr != "" {
		go func() {
			if err := metrics.Listen(ctx, a.metricsAddr); err != nil {
				log.Warnf("metrics listener stopped: %s", err)
			}
		}()
	}

	if a.replayFile != "" {
		d := dispatcher.New(cache, "", os.Stdout)
		return replay.Follow(ctx, a.replayFile, func(line string) {
			handleLine(line, false, d, cache, v)
		})
	}

	if !isTTY(os.Stdin) {
		d := dispatcher.New(cache, "", os.Stdout)
		return readLines(os.Stdin, func(line string) {
			handleLine(line, false, d, cache, v)
		})
	}

	if a.pid == 0 {
		return fmt.Errorf("-p/--pid is required when attached to a terminal")
	}

	if err := bootstrap.RequireRoot(); err != nil {
		return err
	}

	if err := procinfo.Exists(int32(a.pid)); err != nil {
		return err
	}
	procinfo.CheckTarget(int32(a.pid))

	tools, err := bootstrap.ResolveTools()
	if err != nil {
		return err
	}

	if err := bootstrap.PreloadFromLsof(tools.LsofPath, a.pid, cache); err != nil {
		log.Warnf("lsof preload failed: %s", err)
	}

	pwd, err := bootstrap.GetPWD(tools.PsPath, a.pid)
	if err != nil {
		log.Warnf("could not determine target's working directory: %s", err)
	}

	cmd, pipe, err := bootstrap.SpawnTracer(tools, a.pid)
	if err != nil {
		return err
	}
	defer pipe.Close()

	d := dispatcher.New(cache, pwd, os.Stdout)

	done := make(chan error, 1)
	go func() {
		done <- readLines(pipe, func(line string) {
			handleLine(line, tools.UseDtruss, d, cache, v)
		})
	}()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil
	case err := <-done:
		_ = cmd.Wait()
		return err
	}
}

func handleLine(line string, useDtruss bool, d *dispatcher.Dispatcher, cache *pfdcache.Cache, v *verify.Verifier) {
	ev, err := traceparser.ProcessLine(line, useDtruss)
	if err != nil {
		metrics.FatalLines.WithLabelValues(fatalLineReason(err)).Inc()
		log.Warnf("dropping trace line %q: %s", line, err)
		return
	}

	d.Dispatch(ev)
	metrics.SyscallsAnnotated.WithLabelValues(ev.FuncName).Inc()
	metrics.PFDCacheSize.Set(float64(cache.Len()))

	if v == nil {
		return
	}
	cache.Each(func(p pfdcache.Pfd) {
		if p.Relname != "" {
			v.Check(context.Background(), p.Filenode, p.Relname)
		}
	})
}

// fatalLineReason labels a pgtrace_fatal_lines_total increment per
// spec.md §7's fatal-to-line taxonomy.
func fatalLineReason(err error) string {
	switch {
	case errors.Is(err, traceparser.ErrNotAFunctionCall):
		return "not_a_function_call"
	case errors.Is(err, traceparser.ErrTooManyArgs):
		return "too_many_args"
	case errors.Is(err, traceparser.ErrUnterminatedQuote):
		return "unterminated_quote"
	default:
		return "unknown"
	}
}

func readLines(r io.Reader, handle func(string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		handle(scanner.Text())
	}
	return scanner.Err()
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
