package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.commits++; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rollbacks++; return nil }

type fakeBeginner struct {
	tx     *fakeTx
	begins int
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.begins++
	return b.tx, nil
}

func TestWithTxCommitsAndExposesTx(t *testing.T) {
	pool := &fakeBeginner{tx: &fakeTx{}}

	err := WithTx(context.Background(), pool, func(ctx context.Context, tx pgx.Tx) error {
		ambient, ok := TxFromContext(ctx)
		require.True(t, ok)
		require.Same(t, tx.(*fakeTx), ambient)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, pool.begins)
	require.Equal(t, 1, pool.tx.commits)
}

func TestWithTxJoinsAmbientTransaction(t *testing.T) {
	pool := &fakeBeginner{tx: &fakeTx{}}

	err := WithTx(context.Background(), pool, func(ctx context.Context, outer pgx.Tx) error {
		return WithTx(ctx, pool, func(ctx context.Context, inner pgx.Tx) error {
			require.Same(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, pool.begins)
	require.Equal(t, 1, pool.tx.commits)
}

func TestWithTxNestedErrorRollsBackWholeUnit(t *testing.T) {
	pool := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("second line failed")

	err := WithTx(context.Background(), pool, func(ctx context.Context, _ pgx.Tx) error {
		if err := WithTx(ctx, pool, func(context.Context, pgx.Tx) error {
			return nil
		}); err != nil {
			return err
		}
		return WithTx(ctx, pool, func(context.Context, pgx.Tx) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, pool.begins)
	require.Equal(t, 0, pool.tx.commits)
	require.Equal(t, 1, pool.tx.rollbacks)
}
