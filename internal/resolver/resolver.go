// Package resolver ties the relmap decoder, the pg_class page reader and
// the relation-name cache together into the single operation pgtrace's
// callers actually want: filenode (+shared bit) in, relation name out.
//
// Grounded on pg_get_pg_class_filepath / pg_load_rn_cache_from_pg_class /
// pg_get_relname_from_filepath in _examples/original_source/src/pg.c, and
// pfd_update_from_pg in src/pfd.c.
package resolver

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/tamentis/pgtrace/internal/clusterctx"
	"github.com/tamentis/pgtrace/internal/pgclass"
	"github.com/tamentis/pgtrace/internal/relmap"
	"github.com/tamentis/pgtrace/internal/rncache"
)

// pgClassRelationOid is RelationRelationId: pg_class's own fixed catalog
// OID (1259 since PostgreSQL 8.x), used to look its own filenode up in the
// local relmap, since pg_class can't list itself.
const pgClassRelationOid = 1259

// Resolver resolves a (filenode, shared) pair to a relation name, loading
// pg_class and the relmap files on demand and caching results across calls.
type Resolver struct {
	ctx    *clusterctx.Context
	relmap *relmap.Decoder
	rn     *rncache.Cache

	pgClassAttempted bool
}

// New returns a Resolver bound to ctx. It does no I/O until Resolve or
// PgClassFilepath is called.
func New(ctx *clusterctx.Context) *Resolver {
	return &Resolver{
		ctx:    ctx,
		relmap: relmap.New(ctx),
		rn:     rncache.New(),
	}
}

// PgClassFilepath returns the on-disk path of the current database's
// pg_class relation, found via pg_class's own entry in the local
// (per-database) relmap. pg_class is a nailed catalog but not a shared
// one, so its filenode lives in base/<db_oid>/pg_filenode.map, not
// global/pg_filenode.map.
func (r *Resolver) PgClassFilepath() (string, error) {
	if !r.ctx.IsSet() {
		return "", fmt.Errorf("resolver: cluster path/database oid not yet known")
	}

	if err := r.relmap.Load(false); err != nil {
		return "", err
	}

	filenode := r.relmap.OidToFilenode(pgClassRelationOid, false)
	if filenode == 0 {
		return "", fmt.Errorf("resolver: pg_class filenode not found in local relmap")
	}

	return filepath.Join(r.ctx.ClusterPath(), "base",
		strconv.FormatUint(uint64(r.ctx.DatabaseOID()), 10),
		strconv.FormatUint(uint64(filenode), 10)), nil
}

// loadPgClass walks pg_class once per process lifetime, feeding every tuple
// into the relation-name cache. Failures are swallowed: a pg_class we can't
// yet read just means resolution falls back to the relmap/rncache contents
// already known, exactly as the original C tool does by silently returning
// from pg_load_rn_cache_from_pg_class on a NULL path. No attempt is made,
// or recorded, until the cluster path and database OID are both known.
func (r *Resolver) loadPgClass() {
	if r.pgClassAttempted || !r.ctx.IsSet() {
		return
	}
	r.pgClassAttempted = true

	path, err := r.PgClassFilepath()
	if err != nil {
		return
	}

	tuples, err := pgclass.Load(path)
	if err != nil {
		return
	}

	for _, t := range tuples {
		r.rn.Add(rncache.PgClass, t.OID, t.Relfilenode, t.Relname)
	}
}

// Resolve returns the relation name for filenode, preferring the relmapper
// (for nailed/shared catalogs that have no pg_class row of their own) and
// falling back to a pg_class lookup by filenode.
func (r *Resolver) Resolve(filenode uint32, shared bool) (string, bool) {
	r.loadPgClass()

	if err := r.relmap.Load(shared); err == nil {
		if mappedOid := r.relmap.FilenodeToOid(filenode, shared); mappedOid != 0 {
			if name, ok := r.rn.GetByOid(mappedOid); ok {
				return name, true
			}
		}
	}

	return r.rn.GetByFilenode(filenode)
}

// CacheSize reports the live relation-name cache size, for metrics.
func (r *Resolver) CacheSize() int {
	return r.rn.Len()
}
