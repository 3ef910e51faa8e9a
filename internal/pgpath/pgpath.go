// Package pgpath classifies absolute filesystem paths against
// PostgreSQL's cluster directory conventions ("global/<filenode>" and
// "base/<db_oid>/<filenode>"), inferring the database OID, filenode and
// file sub-type (table/vm/fsm) a path refers to. A successful
// classification also seeds the shared clusterctx.Context the rest of
// pgtrace relies on to find pg_filenode.map and pg_class on disk.
package pgpath

import (
	"strconv"
	"strings"

	"github.com/tamentis/pgtrace/internal/clusterctx"
)

// Kind discriminates the three possible shapes a path can take.
type Kind int

const (
	NotPg Kind = iota
	SharedGlobal
	LocalBase
)

// Subtype identifies which on-disk file a relation path names.
type Subtype int

const (
	Table Subtype = iota
	VM
	FSM
	Unknown
)

// Class is the classification result for one path.
type Class struct {
	Kind        Kind
	DatabaseOID uint32 // valid only when Kind == LocalBase
	Filenode    uint32
	Subtype     Subtype
	Segment     int  // the ".N" segment suffix, if any
	HasSegment  bool
}

const (
	globalMarker = "/global/"
	baseMarker   = "/base/"
)

// Classifier classifies paths and feeds discoveries into a shared
// clusterctx.Context.
type Classifier struct {
	ctx *clusterctx.Context
}

// New returns a Classifier that updates ctx as paths are classified.
func New(ctx *clusterctx.Context) *Classifier {
	return &Classifier{ctx: ctx}
}

// Classify parses an absolute path and, on the first successful
// classification, seeds the cluster context. It returns
// clusterctx.ErrBackendSwitchedDatabase if a LocalBase path names a
// database OID that conflicts with one already recorded.
//
// The rightmost occurrence of "/base/" or "/global/" wins; a path whose
// database directory itself contains one of these literals is
// documented as unsupported (spec.md §4.1 / §9 Open Question (b)).
func (c *Classifier) Classify(path string) (Class, error) {
	globalIdx := strings.LastIndex(path, globalMarker)
	baseIdx := strings.LastIndex(path, baseMarker)

	switch {
	case globalIdx < 0 && baseIdx < 0:
		return Class{Kind: NotPg}, nil
	case globalIdx > baseIdx:
		return c.classifyGlobal(path, globalIdx)
	default:
		return c.classifyBase(path, baseIdx)
	}
}

func (c *Classifier) classifyGlobal(path string, markerIdx int) (Class, error) {
	clusterPath := path[:markerIdx]
	tail := path[markerIdx+len(globalMarker):]

	filenode, subtype, segment, hasSegment, ok := parseFilenodeTail(tail)
	if !ok {
		return Class{Kind: NotPg}, nil
	}

	c.ctx.SetShared(clusterPath)

	return Class{
		Kind:       SharedGlobal,
		Filenode:   filenode,
		Subtype:    subtype,
		Segment:    segment,
		HasSegment: hasSegment,
	}, nil
}

func (c *Classifier) classifyBase(path string, markerIdx int) (Class, error) {
	clusterPath := path[:markerIdx]
	tail := path[markerIdx+len(baseMarker):]

	slash := strings.IndexByte(tail, '/')
	if slash < 0 {
		return Class{Kind: NotPg}, nil
	}

	dbOidStr, rest := tail[:slash], tail[slash+1:]
	dbOid, err := strconv.ParseUint(dbOidStr, 10, 32)
	if err != nil || dbOid == 0 {
		return Class{Kind: NotPg}, nil
	}

	filenode, subtype, segment, hasSegment, ok := parseFilenodeTail(rest)
	if !ok {
		return Class{Kind: NotPg}, nil
	}

	if err := c.ctx.SetLocal(clusterPath, uint32(dbOid)); err != nil {
		return Class{}, err
	}

	return Class{
		Kind:        LocalBase,
		DatabaseOID: uint32(dbOid),
		Filenode:    filenode,
		Subtype:     subtype,
		Segment:     segment,
		HasSegment:  hasSegment,
	}, nil
}

// parseFilenodeTail strips an optional ".N" segment suffix, then an
// optional "_vm"/"_fsm" sub-type suffix, and requires what remains to be
// a positive decimal integer.
func parseFilenodeTail(tail string) (filenode uint32, subtype Subtype, segment int, hasSegment bool, ok bool) {
	if dot := strings.LastIndexByte(tail, '.'); dot >= 0 {
		if n, err := strconv.ParseUint(tail[dot+1:], 10, 32); err == nil {
			segment = int(n)
			hasSegment = true
			tail = tail[:dot]
		}
	}

	switch {
	case strings.HasSuffix(tail, "_vm"):
		subtype = VM
		tail = strings.TrimSuffix(tail, "_vm")
	case strings.HasSuffix(tail, "_fsm"):
		subtype = FSM
		tail = strings.TrimSuffix(tail, "_fsm")
	default:
		subtype = Table
	}

	n, err := strconv.ParseUint(tail, 10, 32)
	if err != nil || n == 0 {
		return 0, Unknown, 0, false, false
	}

	return uint32(n), subtype, segment, hasSegment, true
}
