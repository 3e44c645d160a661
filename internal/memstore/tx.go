package memstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memTx satisfies pgx.Tx so the services layer can thread it through
// unchanged. Commit releases the store lock; Rollback restores the snapshot
// taken at Begin. SQL-level methods are never reached because every store
// method dispatches on the maps directly.
type memTx struct {
	s        *Store
	snapshot *state
	done     bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.st = *t.snapshot
	t.s.mu.Unlock()
	return nil
}

var errNotSQL = errors.New("memstore: raw SQL not supported")

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errNotSQL }
func (t *memTx) Conn() *pgx.Conn                           { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects            { return pgx.LargeObjects{} }

func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errNotSQL
}

func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errNotSQL
}

func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNotSQL
}

func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errNotSQL
}

func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{errNotSQL}
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }
