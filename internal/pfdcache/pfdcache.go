// Package pfdcache tracks every file descriptor a traced backend currently
// holds open, alongside whatever pgtrace has managed to learn about it: its
// PostgreSQL database/filenode, sub-type (table/vm/fsm), and resolved
// relation name.
//
// Ported from pfd_t and the pfd_cache_* family in _examples/original_source
// (src/pfd.c, src/pfd.h, src/pfd_cache.c, src/pfd_cache.h): a slot pool with
// tombstone invalidation and first-free-slot reuse, rather than the C
// original's manual realloc growth.
package pfdcache

import (
	"fmt"

	"github.com/tamentis/pgtrace/internal/pgpath"
	"github.com/tamentis/pgtrace/internal/resolver"
)

// FDType mirrors the lsof-derived file types the original tool tracks.
// Char..IPv6 come straight from an lsof listing; Reg is also used for fds
// learned from an open() trace event.
type FDType int

const (
	Char FDType = iota
	Reg
	Dir
	Fifo
	IPv4
	IPv6
	Unknown
	Invalid // tombstone: this slot is free.
)

// Pfd is one tracked file descriptor.
type Pfd struct {
	FD       int
	FDType   FDType
	Shared   bool
	FileType pgpath.Subtype
	Filepath string
	Filenode uint32
	Relname  string
}

func (p *Pfd) invalid() bool {
	return p.FDType == Invalid
}

// Repr renders the same three-tier human display the original tool prints
// per traced event: prefer a resolved relation name, fall back to the raw
// filepath, then to a bare fd number.
func (p *Pfd) Repr() string {
	if p.Relname != "" {
		switch p.FileType {
		case pgpath.VM:
			return fmt.Sprintf("relname=%s(vm)", p.Relname)
		case pgpath.FSM:
			return fmt.Sprintf("relname=%s(fsm)", p.Relname)
		case pgpath.Unknown:
			return fmt.Sprintf("relname=%s(?!?)", p.Relname)
		default:
			return fmt.Sprintf("relname=%s", p.Relname)
		}
	}

	if p.Filepath != "" {
		return fmt.Sprintf("filepath=%s", p.Filepath)
	}

	return fmt.Sprintf("fd=%d", p.FD)
}

// Cache is the live fd table for one traced backend. The zero value is not
// ready to use; construct with New.
type Cache struct {
	entries    []Pfd
	classifier *pgpath.Classifier
	resolver   *resolver.Resolver
}

// New returns an empty Cache that classifies paths through classifier and
// resolves relation names through res.
func New(classifier *pgpath.Classifier, res *resolver.Resolver) *Cache {
	return &Cache{classifier: classifier, resolver: res}
}

// Clear tombstones every entry, e.g. before a bulk lsof preload.
func (c *Cache) Clear() {
	for i := range c.entries {
		c.entries[i] = Pfd{FDType: Invalid}
	}
}

// next returns a free slot, reusing a tombstoned one if available.
func (c *Cache) next() *Pfd {
	for i := range c.entries {
		if c.entries[i].invalid() {
			return &c.entries[i]
		}
	}
	c.entries = append(c.entries, Pfd{FDType: Invalid})
	return &c.entries[len(c.entries)-1]
}

// Get returns the tracked entry for fd, if any.
func (c *Cache) Get(fd int) (*Pfd, bool) {
	for i := range c.entries {
		if !c.entries[i].invalid() && c.entries[i].FD == fd {
			return &c.entries[i], true
		}
	}
	return nil, false
}

// Delete tombstones the entry tracking fd, e.g. on a close() trace event.
func (c *Cache) Delete(fd int) {
	for i := range c.entries {
		if !c.entries[i].invalid() && c.entries[i].FD == fd {
			c.entries[i] = Pfd{FDType: Invalid}
			return
		}
	}
}

// PreloadEntry seeds the cache with one fd discovered during bootstrap
// (from an lsof-style listing), classifying its path if present.
func (c *Cache) PreloadEntry(fd int, fdType FDType, filepath string) {
	p := c.next()
	p.FD = fd
	p.FDType = fdType
	p.Filepath = filepath

	if filepath != "" {
		c.classify(p)
	}
}

// OnOpen records a successful open() trace event.
func (c *Cache) OnOpen(fd int, filepath string) {
	p := c.next()
	p.FD = fd
	p.FDType = Reg
	p.Filepath = filepath
	c.classify(p)
}

// OnClose records a close() trace event.
func (c *Cache) OnClose(fd int) {
	c.Delete(fd)
}

func (c *Cache) classify(p *Pfd) {
	class, err := c.classifier.Classify(p.Filepath)
	if err != nil || class.Kind == pgpath.NotPg {
		return
	}

	p.Shared = class.Kind == pgpath.SharedGlobal
	p.Filenode = class.Filenode
	p.FileType = class.Subtype
}

// Resolve fills in Relname for every entry that has a filenode but no
// resolved name yet. It is cheap to call repeatedly: already-resolved
// entries, and entries with no filenode at all, are skipped.
func (c *Cache) Resolve() {
	for i := range c.entries {
		p := &c.entries[i]
		if p.invalid() || p.Filenode == 0 || p.Relname != "" {
			continue
		}
		if name, ok := c.resolver.Resolve(p.Filenode, p.Shared); ok {
			p.Relname = name
		}
	}
}

// Each calls fn once per live (non-tombstoned) entry, for callers that only
// need to observe the cache (e.g. live-verification).
func (c *Cache) Each(fn func(Pfd)) {
	for _, p := range c.entries {
		if !p.invalid() {
			fn(p)
		}
	}
}

// Len reports the number of live (non-tombstoned) entries, for metrics.
func (c *Cache) Len() int {
	n := 0
	for _, p := range c.entries {
		if !p.invalid() {
			n++
		}
	}
	return n
}
