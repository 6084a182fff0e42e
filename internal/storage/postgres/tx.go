package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/domain/stock"
)

const setLockTimeoutSQL = `SELECT set_config('lock_timeout', $1, true)`

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

var _ order.Transactor = (*Store)(nil)

// InTx runs fn in a READ COMMITTED transaction with a local lock_timeout.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) (err error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(ctx, fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if s.lockTimeout > 0 {
		if _, err := pgTx.Exec(ctx, setLockTimeoutSQL, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
			return mapError(ctx, fmt.Errorf("setting lock timeout: %w", err))
		}
	}
	if err := fn(ctx, &tx{pg: pgTx}); err != nil {
		return mapError(ctx, err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return mapError(ctx, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// mapError turns lock wait failures into CONCURRENCY_TIMEOUT. Taxonomy
// errors pass through unchanged.
func mapError(ctx context.Context, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
			return concurrencyTimeout(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return concurrencyTimeout(err)
	}
	return err
}

func concurrencyTimeout(cause error) error {
	return &timeoutError{
		code:  apperr.New(apperr.ConcurrencyTimeout, "timed out waiting for a lock, retry the operation"),
		cause: cause,
	}
}

// timeoutError reports CONCURRENCY_TIMEOUT while keeping the driver error
// reachable for logging.
type timeoutError struct {
	code  *apperr.Error
	cause error
}

func (e *timeoutError) Error() string { return e.code.Error() + ": " + e.cause.Error() }
func (e *timeoutError) Unwrap() []error { return []error{e.code, e.cause} }

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isConstraint(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code && pgErr.ConstraintName == constraint
}

type tx struct {
	pg pgx.Tx
}

var _ order.Tx = (*tx)(nil)

func (t *tx) Products() stock.Store { return productTx{t.pg} }
func (t *tx) Promos() promo.Store { return promoTx{t.pg} }
func (t *tx) Claims() order.ClaimStore { return claimTx{t.pg} }
func (t *tx) Orders() order.Repository { return orderTx{t.pg} }
func (t *tx) Operations() order.OperationLog { return operationTx{t.pg} }
