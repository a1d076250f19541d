package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxConflict is returned once the retry allowance for a contended
// transaction is spent. Callers may retry the whole operation themselves.
var ErrTxConflict = errors.New("platform/db: transaction conflict unresolved after retries")

// RunnerConfig bounds the retry behaviour of a Runner.
type RunnerConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// TxBeginner opens transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Runner executes closures inside RepeatableRead transactions and replays
// them from scratch on transient failures (deadlock victim, serialization
// failure, dropped connection). A closure must therefore be free of side
// effects outside the transaction.
type Runner struct {
	pool        TxBeginner
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(pool TxBeginner, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	return &Runner{pool: pool, maxAttempts: cfg.MaxAttempts, backoff: cfg.Backoff, logger: logger}
}

// Run executes fn within a transaction. Cancellation is honoured between
// attempts; once a commit has started the attempt runs to completion.
func (r *Runner) Run(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if r == nil {
		return errors.New("platform/db: runner not initialised")
	}
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
		if r.logger != nil {
			r.logger.Warn("retrying transaction",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

func (r *Runner) runOnce(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

// WithTx executes fn within a single RepeatableRead transaction without
// retries. Used by read paths that only need snapshot consistency.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

// Retryable reports whether the error is transient and the whole
// transaction can safely be replayed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		// class 08: connection exceptions
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
