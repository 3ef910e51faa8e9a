package pfdcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamentis/pgtrace/internal/clusterctx"
	"github.com/tamentis/pgtrace/internal/pgpath"
	"github.com/tamentis/pgtrace/internal/resolver"
)

func newTestCache() *Cache {
	ctx := clusterctx.New()
	return New(pgpath.New(ctx), resolver.New(ctx))
}

func TestOnOpenClassifiesPgPath(t *testing.T) {
	c := newTestCache()
	c.OnOpen(7, "/data/main/base/16384/24576")

	p, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, uint32(24576), p.Filenode)
	assert.Equal(t, pgpath.Table, p.FileType)
	assert.False(t, p.Shared)
}

func TestOnOpenNonPgPath(t *testing.T) {
	c := newTestCache()
	c.OnOpen(3, "/etc/hosts")

	p, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, uint32(0), p.Filenode)
	assert.Equal(t, "/etc/hosts", p.Filepath)
}

func TestOnClose(t *testing.T) {
	c := newTestCache()
	c.OnOpen(7, "/data/main/base/16384/24576")
	c.OnClose(7)

	_, ok := c.Get(7)
	assert.False(t, ok)
}

func TestPreloadEntryReusesTombstonedSlot(t *testing.T) {
	c := newTestCache()
	c.OnOpen(1, "/data/main/base/16384/1")
	c.OnClose(1)
	c.PreloadEntry(2, Reg, "/data/main/base/16384/2")

	assert.Equal(t, 1, c.Len())
	assert.Len(t, c.entries, 1)
}

func TestReprPrefersRelname(t *testing.T) {
	p := &Pfd{Filepath: "/data/main/base/16384/24576", Relname: "accounts"}
	assert.Equal(t, "relname=accounts", p.Repr())

	p.FileType = pgpath.VM
	assert.Equal(t, "relname=accounts(vm)", p.Repr())

	p.FileType = pgpath.FSM
	assert.Equal(t, "relname=accounts(fsm)", p.Repr())
}

func TestReprFallsBackToFilepathThenFD(t *testing.T) {
	p := &Pfd{Filepath: "/data/main/base/16384/24576"}
	assert.Equal(t, "filepath=/data/main/base/16384/24576", p.Repr())

	p2 := &Pfd{FD: 9}
	assert.Equal(t, "fd=9", p2.Repr())
}

func TestResolveAgainstMissingClusterLeavesRelnameEmpty(t *testing.T) {
	c := newTestCache()
	c.OnOpen(7, "/nonexistent-cluster/base/16384/24576")

	c.Resolve()
	p, _ := c.Get(7)
	assert.Empty(t, p.Relname, "resolution against a nonexistent cluster path should not fill relname")
}
