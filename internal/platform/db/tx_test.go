package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	require.False(t, Retryable(nil))
	require.False(t, Retryable(errors.New("boom")))

	require.True(t, Retryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, Retryable(&pgconn.PgError{Code: "40P01"}))
	require.True(t, Retryable(&pgconn.PgError{Code: "08006"}))

	// business/constraint errors must never be replayed
	require.False(t, Retryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, Retryable(&pgconn.PgError{Code: "22003"}))
}

func TestRetryableWrapped(t *testing.T) {
	wrapped := errors.Join(errors.New("exec failed"), &pgconn.PgError{Code: "40P01"})
	require.True(t, Retryable(wrapped))
}

// stubTx is the minimal pgx.Tx needed to drive Runner.Run.
type stubTx struct {
	commitErr error
	rollbacks int
}

func (s *stubTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errors.New("unused") }
func (s *stubTx) Commit(ctx context.Context) error          { return s.commitErr }
func (s *stubTx) Rollback(ctx context.Context) error {
	s.rollbacks++
	return nil
}
func (s *stubTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("unused")
}
func (s *stubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (s *stubTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (s *stubTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("unused")
}
func (s *stubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unused")
}
func (s *stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unused")
}
func (s *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (s *stubTx) Conn() *pgx.Conn { return nil }

type stubBeginner struct {
	tx     *stubTx
	begins int
}

func (b *stubBeginner) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	b.begins++
	return b.tx, nil
}

func newTestRunner(beginner *stubBeginner, attempts int) *Runner {
	return NewRunner(beginner, RunnerConfig{MaxAttempts: attempts, Backoff: time.Millisecond}, nil)
}

func TestRunReplaysTransientFailures(t *testing.T) {
	beginner := &stubBeginner{tx: &stubTx{}}
	runner := newTestRunner(beginner, 3)

	calls := 0
	err := runner.Run(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, beginner.begins)
}

func TestRunExhaustionReturnsConflict(t *testing.T) {
	beginner := &stubBeginner{tx: &stubTx{}}
	runner := newTestRunner(beginner, 3)

	calls := 0
	err := runner.Run(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.ErrorIs(t, err, ErrTxConflict)
	require.Contains(t, err.Error(), "40P01")
	require.Equal(t, 3, calls)
}

func TestRunNonRetryableFailsFast(t *testing.T) {
	beginner := &stubBeginner{tx: &stubTx{}}
	runner := newTestRunner(beginner, 5)

	boom := errors.New("unique constraint")
	calls := 0
	err := runner.Run(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, beginner.tx.rollbacks)
}

func TestRunHonoursCancelBetweenAttempts(t *testing.T) {
	beginner := &stubBeginner{tx: &stubTx{}}
	runner := newTestRunner(beginner, 5)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		calls++
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRunRetriesConflictedCommit(t *testing.T) {
	tx := &stubTx{commitErr: &pgconn.PgError{Code: "40001"}}
	beginner := &stubBeginner{tx: tx}
	runner := newTestRunner(beginner, 3)

	calls := 0
	err := runner.Run(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		calls++
		if calls == 2 {
			beginner.tx.commitErr = nil
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
