package dispatcher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamentis/pgtrace/internal/clusterctx"
	"github.com/tamentis/pgtrace/internal/pfdcache"
	"github.com/tamentis/pgtrace/internal/pgpath"
	"github.com/tamentis/pgtrace/internal/resolver"
	"github.com/tamentis/pgtrace/internal/traceparser"
)

func newTestDispatcher(pwd string) (*Dispatcher, *bytes.Buffer) {
	ctx := clusterctx.New()
	cache := pfdcache.New(pgpath.New(ctx), resolver.New(ctx))
	var buf bytes.Buffer
	return New(cache, pwd, &buf), &buf
}

func TestDispatchOpenAndClose(t *testing.T) {
	d, buf := newTestDispatcher("/home/postgres")

	ev, err := traceparser.ProcessLine(`open("data/16384/1", O_RDWR) = 7`, false)
	require.NoError(t, err)
	d.Dispatch(ev)
	assert.Contains(t, buf.String(), "open(/home/postgres/data/16384/1, ...) -> fd:7")

	buf.Reset()
	ev, err = traceparser.ProcessLine(`close(7) = 0`, false)
	require.NoError(t, err)
	d.Dispatch(ev)
	assert.Contains(t, buf.String(), "close(filepath=/home/postgres/data/16384/1)")
}

func TestDispatchReadUnknownFD(t *testing.T) {
	d, buf := newTestDispatcher("")

	ev, err := traceparser.ProcessLine(`read(9, "x", 16) = 16`, false)
	require.NoError(t, err)
	d.Dispatch(ev)

	assert.Contains(t, buf.String(), "read(fd=9, 16)")
}

func TestDispatchUnknownFuncEchoesRaw(t *testing.T) {
	d, buf := newTestDispatcher("")

	ev, err := traceparser.ProcessLine(`getpid() = 1234`, false)
	require.NoError(t, err)
	d.Dispatch(ev)

	assert.Contains(t, buf.String(), ev.Raw)
}

func TestDispatchAbsoluteOpenPathUnchanged(t *testing.T) {
	d, buf := newTestDispatcher("/home/postgres")

	ev, err := traceparser.ProcessLine(`open("/data/16384/1", O_RDWR) = 7`, false)
	require.NoError(t, err)
	d.Dispatch(ev)

	assert.Contains(t, buf.String(), "open(/data/16384/1, ...) -> fd:7")
}
