package documents_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/consignhub/consignhub/internal/documents"
)

func TestScopeFormatting(t *testing.T) {
	scope := documents.ScopeAt("DELIVERY", time.Date(2024, time.January, 31, 23, 59, 0, 0, time.UTC))
	require.Equal(t, "DN-202401-", scope.Prefix())
	require.Equal(t, "DN-202401-0001", scope.Format(1))
	require.Equal(t, "DN-202401-0042", scope.Format(42))
}

func TestScopeNextAfter(t *testing.T) {
	scope := documents.ScopeAt("DELIVERY", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	cases := map[string]string{
		"":               "DN-202403-0001",
		"DN-202403-0001": "DN-202403-0002",
		"DN-202403-0099": "DN-202403-0100",
		"DN-202402-0007": "DN-202403-0001",
		"DN-202403-abcd": "DN-202403-0001",
		"DN-202403-9999": "DN-202403-10000",
	}
	for last, want := range cases {
		require.Equal(t, want, scope.NextAfter(last), "after %q", last)
	}
}

func TestNumbererIssuesSequentialNumbers(t *testing.T) {
	repo := newMemoryRepo()
	numberer := documents.NewNumberer(fixedClock())
	ctx := context.Background()

	want := []string{"DN-202403-0001", "DN-202403-0002", "DN-202403-0003"}
	for _, expected := range want {
		err := repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
			no, err := numberer.Next(ctx, tx, "DELIVERY")
			if err != nil {
				return err
			}
			require.Equal(t, expected, no)
			_, err = tx.Insert(ctx, documents.Document{Kind: documents.KindDelivery, DocType: "DELIVERY", DocNo: no, Status: documents.StatusDraft})
			return err
		})
		require.NoError(t, err)
	}
}

func TestNumbererScopesByDocType(t *testing.T) {
	repo := newMemoryRepo()
	repo.insert(documents.Document{DocType: "DELIVERY", DocNo: "DN-202403-0005"})
	numberer := documents.NewNumberer(fixedClock())

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx documents.TxRepository) error {
		no, err := numberer.Next(ctx, tx, "RETURN")
		require.NoError(t, err)
		require.Equal(t, "DN-202403-0001", no)
		no, err = numberer.Next(ctx, tx, "DELIVERY")
		require.NoError(t, err)
		require.Equal(t, "DN-202403-0006", no)
		return nil
	})
	require.NoError(t, err)
}

func TestNumbererRequiresDocType(t *testing.T) {
	repo := newMemoryRepo()
	numberer := documents.NewNumberer(nil)
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx documents.TxRepository) error {
		_, err := numberer.Next(ctx, tx, " ")
		return err
	})
	require.Error(t, err)
}

func newRedisLocker(t *testing.T) (*documents.RedisScopeLocker, *redislock.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rl := redislock.New(client)
	return documents.NewRedisScopeLocker(rl, time.Second), rl
}

func TestRedisScopeLockerSerialisesScope(t *testing.T) {
	locker, _ := newRedisLocker(t)
	ctx := context.Background()
	scope := documents.ScopeAt("DELIVERY", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))

	unlock, err := locker.Lock(ctx, scope)
	require.NoError(t, err)

	other := documents.ScopeAt("RETURN", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	unlockOther, err := locker.Lock(ctx, other)
	require.NoError(t, err)
	unlockOther(ctx)

	unlock(ctx)
	unlock, err = locker.Lock(ctx, scope)
	require.NoError(t, err)
	unlock(ctx)
}

func TestRedisScopeLockerReportsBusyScope(t *testing.T) {
	locker, rl := newRedisLocker(t)
	ctx := context.Background()
	now := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	scope := documents.ScopeAt("DELIVERY", now)

	held, err := rl.Obtain(ctx, "lock:docno:DELIVERY:202403", time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	_, err = locker.Lock(ctx, scope)
	require.True(t, errors.Is(err, documents.ErrScopeBusy))
}
