// Package clusterctx holds the process-wide knowledge pgtrace accumulates
// about the single PostgreSQL cluster and database the traced backend
// belongs to. A pg_trace-observed backend never serves more than one
// database, so this context is set once and never mutated again, except
// to detect the one error case where that assumption breaks.
package clusterctx

import "fmt"

// ErrBackendSwitchedDatabase is returned when a second, different local
// database OID is observed after the context has already settled on one.
// The original C tool (tamentis/pg_trace) treats this as fatal because a
// single backend is never expected to \connect to a different database.
var ErrBackendSwitchedDatabase = fmt.Errorf("backend switched database mid-session")

// Context is the lazily-populated, process-lifetime cluster/database
// pairing. Its zero value is "unset".
type Context struct {
	clusterPath string
	databaseOID uint32
	set         bool
}

// New returns an empty, unset context.
func New() *Context {
	return &Context{}
}

// IsSet reports whether both cluster path and database OID are known.
func (c *Context) IsSet() bool {
	return c.set
}

// ClusterPath returns the discovered cluster data directory, or "" if unset.
func (c *Context) ClusterPath() string {
	return c.clusterPath
}

// DatabaseOID returns the discovered database OID, or 0 if unset.
func (c *Context) DatabaseOID() uint32 {
	return c.databaseOID
}

// SetShared records the cluster path learned from a SharedGlobal path.
// SharedGlobal observations never carry a database OID and never trigger
// the switched-database check.
func (c *Context) SetShared(clusterPath string) {
	if c.clusterPath == "" {
		c.clusterPath = clusterPath
	}
}

// SetLocal records the cluster path and database OID learned from a
// LocalBase path. If a database OID is already known and this one
// differs, it returns ErrBackendSwitchedDatabase and leaves the context
// untouched.
func (c *Context) SetLocal(clusterPath string, databaseOID uint32) error {
	if c.set && c.databaseOID != databaseOID {
		return ErrBackendSwitchedDatabase
	}

	if c.clusterPath == "" {
		c.clusterPath = clusterPath
	}
	c.databaseOID = databaseOID
	c.set = true

	return nil
}
