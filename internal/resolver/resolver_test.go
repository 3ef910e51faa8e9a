package resolver

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamentis/pgtrace/internal/clusterctx"
)

const (
	relmapFileSize  = 512
	relmapMagic     = 0x00592717
	relmapMapping   = 8
	relmapCRCOffset = 4 + 4 + 62*relmapMapping
	relnameSize     = 64
	pageHeaderSize  = 24
	pageSize        = 8192
)

func buildRelmap(t *testing.T, mappings ...[2]uint32) []byte {
	t.Helper()

	buf := make([]byte, relmapFileSize)
	binary.LittleEndian.PutUint32(buf[0:4], relmapMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(mappings)))
	for i, m := range mappings {
		off := 8 + i*relmapMapping
		binary.LittleEndian.PutUint32(buf[off:off+4], m[0])
		binary.LittleEndian.PutUint32(buf[off+4:off+8], m[1])
	}
	crc := crc32.ChecksumIEEE(buf[:relmapCRCOffset])
	binary.LittleEndian.PutUint32(buf[relmapCRCOffset:relmapCRCOffset+4], crc)
	return buf
}

// buildPgClassPage builds one pg_class page containing a single tuple, at
// the byte layout internal/pgclass expects.
func buildPgClassPage(oid, relfilenode uint32, relname string) []byte {
	page := make([]byte, pageSize)
	const tHoff = 32 // 23-byte tuple header plus the 4-byte oid, MAXALIGNed
	const offTInfomask = 20
	const offTHoff = 22
	const heapHasOid = 0x0008
	const relfilenodeOffset = relnameSize + 4 + 4 + 4 + 4

	tupleLen := tHoff + relfilenodeOffset + 4
	tupleStart := pageSize - tupleLen

	binary.LittleEndian.PutUint16(page[tupleStart+offTInfomask:], heapHasOid)
	page[tupleStart+offTHoff] = tHoff

	dataStart := tupleStart + tHoff
	binary.LittleEndian.PutUint32(page[dataStart-4:dataStart], oid)
	copy(page[dataStart:dataStart+relnameSize], []byte(relname))
	binary.LittleEndian.PutUint32(page[dataStart+relfilenodeOffset:dataStart+relfilenodeOffset+4], relfilenode)

	word := (uint32(tupleLen) << 17) | (uint32(1) << 15) | uint32(tupleStart)
	binary.LittleEndian.PutUint32(page[pageHeaderSize:pageHeaderSize+4], word)

	binary.LittleEndian.PutUint16(page[12:14], uint16(pageHeaderSize+4)) // pd_lower
	binary.LittleEndian.PutUint16(page[18:20], uint16(pageSize))         // pd_pagesize_version

	return page
}

func setupCluster(t *testing.T, dbOid uint32) string {
	t.Helper()
	cluster := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(cluster, "global"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cluster, "base", strconv.FormatUint(uint64(dbOid), 10)), 0o755))

	// pg_class is a nailed catalog but not a shared one: its own oid (1259)
	// maps to filenode 1259 in the local (per-database) relmap, not the
	// shared/global one.
	require.NoError(t, os.WriteFile(
		filepath.Join(cluster, "base", strconv.FormatUint(uint64(dbOid), 10), "pg_filenode.map"),
		buildRelmap(t, [2]uint32{1259, 1259}),
		0o644))

	// pg_class file (named after its own filenode) holds one user table row.
	require.NoError(t, os.WriteFile(
		filepath.Join(cluster, "base", strconv.FormatUint(uint64(dbOid), 10), "1259"),
		buildPgClassPage(16390, 16390, "accounts"),
		0o644))

	return cluster
}

func TestResolveFromPgClass(t *testing.T) {
	dbOid := uint32(16384)
	cluster := setupCluster(t, dbOid)

	ctx := clusterctx.New()
	require.NoError(t, ctx.SetLocal(cluster, dbOid))

	r := New(ctx)
	name, ok := r.Resolve(16390, false)

	assert.True(t, ok)
	assert.Equal(t, "accounts", name)
}

func TestResolveUnknownFilenode(t *testing.T) {
	dbOid := uint32(16384)
	cluster := setupCluster(t, dbOid)

	ctx := clusterctx.New()
	require.NoError(t, ctx.SetLocal(cluster, dbOid))

	r := New(ctx)
	_, ok := r.Resolve(999999, false)
	assert.False(t, ok)
}

func TestPgClassFilepathBeforeClusterKnown(t *testing.T) {
	r := New(clusterctx.New())
	_, err := r.PgClassFilepath()
	assert.Error(t, err)
}
