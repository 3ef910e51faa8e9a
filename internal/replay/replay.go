// Package replay follows an on-disk tracer-output file being appended to,
// feeding each new line to a callback — the same role the live tracer pipe
// or stdin plays in the main trace loop, but sourced from a file written
// out-of-band (e.g. `strace -o /var/log/pg.trace ...`).
//
// Grounded on tailCollect in
// _examples/lesovsky-pgscv/internal/collector/postgres_logs.go: a
// tail.TailFile(Follow: true) loop selecting between new lines and
// ctx.Done.
package replay

import (
	"context"
	"fmt"

	"github.com/nxadm/tail"

	"github.com/tamentis/pgtrace/internal/log"
)

// Follow tails path from its beginning, calling handleLine for every line
// already in the file and every line appended later, until ctx is
// cancelled.
func Follow(ctx context.Context, path string, handleLine func(string)) error {
	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: true})
	if err != nil {
		return fmt.Errorf("replay: tail %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			t.Cleanup()
			if err := t.Stop(); err != nil {
				log.Warnf("replay: stop tailing %s: %s", path, err)
			}
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				log.Warnf("replay: %s", line.Err)
				continue
			}
			handleLine(line.Text)
		}
	}
}
