package pgpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tamentis/pgtrace/internal/clusterctx"
)

func TestClassifyNotPg(t *testing.T) {
	c := New(clusterctx.New())
	class, err := c.Classify("/etc/passwd")

	assert.NoError(t, err)
	assert.Equal(t, NotPg, class.Kind)
}

func TestClassifyGlobal(t *testing.T) {
	ctx := clusterctx.New()
	c := New(ctx)

	class, err := c.Classify("/data/main/global/1262")

	assert.NoError(t, err)
	assert.Equal(t, SharedGlobal, class.Kind)
	assert.Equal(t, uint32(1262), class.Filenode)
	assert.Equal(t, Table, class.Subtype)
	assert.Equal(t, "/data/main", ctx.ClusterPath())
}

func TestClassifyLocalBase(t *testing.T) {
	ctx := clusterctx.New()
	c := New(ctx)

	class, err := c.Classify("/data/main/base/16384/24576")

	assert.NoError(t, err)
	assert.Equal(t, LocalBase, class.Kind)
	assert.Equal(t, uint32(16384), class.DatabaseOID)
	assert.Equal(t, uint32(24576), class.Filenode)
	assert.Equal(t, "/data/main", ctx.ClusterPath())
	assert.Equal(t, uint32(16384), ctx.DatabaseOID())
}

func TestClassifyVisibilityMap(t *testing.T) {
	c := New(clusterctx.New())
	class, err := c.Classify("/data/main/base/16384/24576_vm")

	assert.NoError(t, err)
	assert.Equal(t, VM, class.Subtype)
	assert.Equal(t, uint32(24576), class.Filenode)
}

func TestClassifyFreeSpaceMap(t *testing.T) {
	c := New(clusterctx.New())
	class, err := c.Classify("/data/main/base/16384/24576_fsm")

	assert.NoError(t, err)
	assert.Equal(t, FSM, class.Subtype)
}

func TestClassifySegment(t *testing.T) {
	c := New(clusterctx.New())
	class, err := c.Classify("/data/main/base/16384/24576.3")

	assert.NoError(t, err)
	assert.Equal(t, uint32(24576), class.Filenode)
	assert.True(t, class.HasSegment)
	assert.Equal(t, 3, class.Segment)
}

func TestClassifyRightmostMarkerWins(t *testing.T) {
	// A cluster path that itself happens to contain "/base/" resolves
	// using the rightmost occurrence, per spec.
	c := New(clusterctx.New())
	class, err := c.Classify("/srv/base/archive/data/main/base/16384/24576")

	assert.NoError(t, err)
	assert.Equal(t, LocalBase, class.Kind)
	assert.Equal(t, uint32(16384), class.DatabaseOID)
}

func TestClassifySwitchedDatabase(t *testing.T) {
	c := New(clusterctx.New())
	_, err := c.Classify("/data/main/base/16384/24576")
	assert.NoError(t, err)

	_, err = c.Classify("/data/main/base/99999/1")
	assert.ErrorIs(t, err, clusterctx.ErrBackendSwitchedDatabase)
}

func TestClassifyMalformedBase(t *testing.T) {
	c := New(clusterctx.New())
	class, err := c.Classify("/data/main/base/notanumber/24576")

	assert.NoError(t, err)
	assert.Equal(t, NotPg, class.Kind)
}
