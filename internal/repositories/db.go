package repositories

import (
	"context"
	"errors"
	"sync"

	"tenantcore/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager runs fn inside a store transaction. Repositories called with the
// ctx handed to fn join that transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type pgxTxManager struct {
	db DB
}

func NewTxManager(db DB) TxManager {
	return &pgxTxManager{db: db}
}

func (m *pgxTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return storeError(err, "begin transaction")
	}
	txCtx, hooks := withAfterTx(context.WithValue(ctx, txKey{}, tx))
	defer hooks.run(ctx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, storeError(rbErr, "rollback transaction"))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError(err, "commit transaction")
	}
	return nil
}

// conn returns the transaction carried by ctx, or the pool.
func conn(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

const uniqueViolation = "23505"

// storeError classifies a pgx error into the core taxonomy.
func storeError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(err, apperr.CodeNotFound, op+": not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Wrap(err, apperr.CodeConflict, op+": "+pgErr.ConstraintName+" already exists")
	}
	return apperr.External(err, op)
}

// noopTxManager is used by stores without transactions.
type noopTxManager struct{}

// NewNoopTxManager returns a TxManager that simply runs fn.
func NewNoopTxManager() TxManager {
	return noopTxManager{}
}

func (noopTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	txCtx, hooks := withAfterTx(ctx)
	defer hooks.run(ctx)
	return fn(txCtx)
}

type afterTxKey struct{}

type afterTxHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// AfterTx runs fn once the transaction carried by ctx has ended, committed or
// rolled back. Outside a transaction fn runs at once.
func AfterTx(ctx context.Context, fn func(ctx context.Context)) {
	if h, ok := ctx.Value(afterTxKey{}).(*afterTxHooks); ok {
		h.mu.Lock()
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return
	}
	fn(ctx)
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(afterTxKey{}).(*afterTxHooks)
	return ok
}

func withAfterTx(ctx context.Context) (context.Context, *afterTxHooks) {
	h := &afterTxHooks{}
	return context.WithValue(ctx, afterTxKey{}, h), h
}

func (h *afterTxHooks) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}
