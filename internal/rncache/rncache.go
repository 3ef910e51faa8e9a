// Package rncache implements the relation-name cache: an in-memory,
// append-mostly table of (origin, oid, filenode, relname) records that
// avoids repeated linear scans of pg_filenode.map and pg_class on disk.
//
// Ported from the rn_cache facility in _examples/original_source
// (rn_cache.c / rn_cache.h): tombstone invalidation instead of compaction,
// first-free-slot reuse on insert, linear lookup by oid or by filenode.
package rncache

import "github.com/tamentis/pgtrace/internal/metrics"

// Origin identifies which on-disk source produced a record.
type Origin int

const (
	Relmap Origin = iota
	PgClass
)

// String names Origin for the rncache_hits_total metric label.
func (o Origin) String() string {
	switch o {
	case Relmap:
		return "relmap"
	case PgClass:
		return "pg_class"
	default:
		return "unknown"
	}
}

type record struct {
	origin   Origin
	oid      uint32
	filenode uint32
	relname  string
	valid    bool
}

// Cache is the relation-name cache. The zero value is ready to use.
type Cache struct {
	records []record
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Add inserts a record, reusing the first tombstoned slot if one exists.
// Per spec.md §4.4, collisions on the same OID from two origins keep the
// first: Add never overwrites an existing live record for the same oid.
func (c *Cache) Add(origin Origin, oid, filenode uint32, relname string) {
	if oid != 0 {
		if _, _, ok := c.lookupByOid(oid); ok {
			return
		}
	}

	for i := range c.records {
		if !c.records[i].valid {
			c.records[i] = record{origin: origin, oid: oid, filenode: filenode, relname: relname, valid: true}
			return
		}
	}

	c.records = append(c.records, record{origin: origin, oid: oid, filenode: filenode, relname: relname, valid: true})
}

// GetByOid returns the relname for oid, skipping tombstones and
// invalid (oid == 0) entries. Every lookup counts towards
// rncache_hits_total/rncache_misses_total.
func (c *Cache) GetByOid(oid uint32) (string, bool) {
	name, origin, ok := c.lookupByOid(oid)
	if !ok {
		metrics.RNCacheMisses.Inc()
		return "", false
	}
	metrics.RNCacheHits.WithLabelValues(origin.String()).Inc()
	return name, true
}

func (c *Cache) lookupByOid(oid uint32) (string, Origin, bool) {
	if oid == 0 {
		return "", 0, false
	}
	for _, r := range c.records {
		if r.valid && r.oid == oid {
			return r.relname, r.origin, true
		}
	}
	return "", 0, false
}

// GetByFilenode returns the relname for filenode, skipping tombstones and
// invalid (filenode == 0) entries. Every lookup counts towards
// rncache_hits_total/rncache_misses_total.
func (c *Cache) GetByFilenode(filenode uint32) (string, bool) {
	if filenode == 0 {
		metrics.RNCacheMisses.Inc()
		return "", false
	}
	for _, r := range c.records {
		if r.valid && r.filenode == filenode {
			metrics.RNCacheHits.WithLabelValues(r.origin.String()).Inc()
			return r.relname, true
		}
	}
	metrics.RNCacheMisses.Inc()
	return "", false
}

// Delete tombstones the record matching oid, if any.
func (c *Cache) Delete(oid uint32) {
	for i := range c.records {
		if c.records[i].valid && c.records[i].oid == oid {
			c.records[i] = record{}
			return
		}
	}
}

// Clear tombstones every record.
func (c *Cache) Clear() {
	for i := range c.records {
		c.records[i] = record{}
	}
}

// Len returns the number of live (non-tombstoned) records, for metrics.
func (c *Cache) Len() int {
	n := 0
	for _, r := range c.records {
		if r.valid {
			n++
		}
	}
	return n
}
