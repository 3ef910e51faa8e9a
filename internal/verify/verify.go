// Package verify cross-checks resolver's binary-decoded relation names
// against a live PostgreSQL connection, when one is available. It never
// changes what pgtrace prints; a mismatch is purely diagnostic.
//
// Grounded on internal/store.NewDB in _examples/lesovsky-pgscv (pgx/v4
// connection setup) for connection handling style.
package verify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/tamentis/pgtrace/internal/log"
)

const queryRelnameByFilenode = `SELECT relname FROM pg_class WHERE pg_relation_filenode(oid) = $1`

// Verifier lazily opens a single pgx connection to dsn on the first call
// to Check, and reuses it for the process lifetime.
type Verifier struct {
	dsn  string
	conn *pgx.Conn
}

// New returns a Verifier for dsn. No connection is made until Check runs.
func New(dsn string) *Verifier {
	return &Verifier{dsn: dsn}
}

func (v *Verifier) connect(ctx context.Context) error {
	if v.conn != nil {
		return nil
	}

	conn, err := pgx.Connect(ctx, v.dsn)
	if err != nil {
		return fmt.Errorf("verify: connect: %w", err)
	}
	v.conn = conn

	return nil
}

// Check looks up filenode live and logs a warning if it disagrees with
// decoded, the name the resolver already produced.
func (v *Verifier) Check(ctx context.Context, filenode uint32, decoded string) {
	if err := v.connect(ctx); err != nil {
		log.Warnf("verify: %s", err)
		return
	}

	var live string
	err := v.conn.QueryRow(ctx, queryRelnameByFilenode, filenode).Scan(&live)
	if err != nil {
		log.Debugf("verify: live lookup for filenode %d failed: %s", filenode, err)
		return
	}

	if live != decoded {
		log.Warnf("relname mismatch: decoded=%s live=%s", decoded, live)
	}
}

// Close releases the live connection, if one was opened.
func (v *Verifier) Close(ctx context.Context) error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close(ctx)
}
