// Package relmap decodes PostgreSQL's pg_filenode.map: the out-of-catalog
// mapping from "nailed" and shared catalog OIDs to their on-disk filenode,
// used because pg_class itself (and the other mapped catalogs) can't look
// itself up in pg_class.
//
// Ported from the layout and CRC scheme in PostgreSQL 9.1's
// src/backend/utils/cache/relmapper.c (kept as _examples/original_source
// for this tool's ancestor, tamentis/pg_trace).
package relmap

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/tamentis/pgtrace/internal/clusterctx"
)

const (
	fileSize     = 512
	magic        = 0x00592717
	maxMappings  = 62
	mappingBytes = 8 // Oid + Oid, each 4 bytes
	crcOffset    = 4 + 4 + maxMappings*mappingBytes
	fileName     = "pg_filenode.map"
)

// Errors matching spec.md's fatal-to-process relmap taxonomy.
var (
	ErrTruncated    = fmt.Errorf("relmap: short read, file is not exactly %d bytes", fileSize)
	ErrBadMagic     = fmt.Errorf("relmap: bad magic number")
	ErrInvalidCount = fmt.Errorf("relmap: num_mappings out of range")
	ErrBadCRC       = fmt.Errorf("relmap: checksum mismatch")
)

type mapping struct {
	oid      uint32
	filenode uint32
}

type relMapFile struct {
	mappings []mapping // len == num_mappings, insertion order preserved
}

// Decoder holds the two maps a single database's backend can consult: the
// shared (global) map and its own local map. Both are loaded lazily and
// cached until the process exits.
//
// The cluster path and database OID aren't known until the first fd or
// catalog path has been classified, so Decoder reads them out of a shared
// clusterctx.Context at Load time rather than fixing them at construction.
type Decoder struct {
	ctx *clusterctx.Context

	sharedMap *relMapFile
	localMap  *relMapFile
}

// New returns a Decoder that resolves the cluster path and database OID
// from ctx as they become known.
func New(ctx *clusterctx.Context) *Decoder {
	return &Decoder{ctx: ctx}
}

// Load reads and verifies the shared or local pg_filenode.map, caching the
// result. It is a no-op if that map is already loaded. It returns an error
// if ctx has not yet been seeded by a classified path.
func (d *Decoder) Load(shared bool) error {
	if shared && d.sharedMap != nil {
		return nil
	}
	if !shared && d.localMap != nil {
		return nil
	}
	if d.ctx.ClusterPath() == "" {
		return fmt.Errorf("relmap: cluster path not yet known")
	}
	if !shared && !d.ctx.IsSet() {
		return fmt.Errorf("relmap: database OID not yet known")
	}

	path := d.path(shared)

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("relmap: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, fileSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("%w: %s", ErrTruncated, path)
	}

	m, err := decode(buf)
	if err != nil {
		return fmt.Errorf("%w: %s", err, path)
	}

	if shared {
		d.sharedMap = m
	} else {
		d.localMap = m
	}

	return nil
}

func (d *Decoder) path(shared bool) string {
	clusterPath := d.ctx.ClusterPath()
	if shared {
		return filepath.Join(clusterPath, "global", fileName)
	}
	return filepath.Join(clusterPath, "base", fmt.Sprintf("%d", d.ctx.DatabaseOID()), fileName)
}

func decode(buf []byte) (*relMapFile, error) {
	gotMagic := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if gotMagic != magic {
		return nil, ErrBadMagic
	}

	numMappings := int32(binary.LittleEndian.Uint32(buf[4:8]))
	if numMappings < 0 || numMappings > maxMappings {
		return nil, ErrInvalidCount
	}

	gotCRC := binary.LittleEndian.Uint32(buf[crcOffset : crcOffset+4])
	wantCRC := crc32.ChecksumIEEE(buf[:crcOffset])
	if gotCRC != wantCRC {
		return nil, ErrBadCRC
	}

	m := &relMapFile{mappings: make([]mapping, 0, numMappings)}
	for i := int32(0); i < numMappings; i++ {
		off := 8 + int(i)*mappingBytes
		m.mappings = append(m.mappings, mapping{
			oid:      binary.LittleEndian.Uint32(buf[off : off+4]),
			filenode: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		})
	}

	return m, nil
}

// OidToFilenode returns the filenode mapped to oid in the shared or local
// map, or 0 if not found. Load must have been called for that map first.
func (d *Decoder) OidToFilenode(oid uint32, shared bool) uint32 {
	m := d.mapOf(shared)
	if m == nil {
		return 0
	}
	for _, e := range m.mappings {
		if e.oid == oid {
			return e.filenode
		}
	}
	return 0
}

// FilenodeToOid is the inverse of OidToFilenode.
func (d *Decoder) FilenodeToOid(filenode uint32, shared bool) uint32 {
	m := d.mapOf(shared)
	if m == nil {
		return 0
	}
	for _, e := range m.mappings {
		if e.filenode == filenode {
			return e.oid
		}
	}
	return 0
}

func (d *Decoder) mapOf(shared bool) *relMapFile {
	if shared {
		return d.sharedMap
	}
	return d.localMap
}
