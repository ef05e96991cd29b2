package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"xrplbridge/types"
)

// newStore connects to TEST_DATABASE_URL and gives every test its own schema
func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()

	admin, err := Connect(ctx, dsn)
	require.NoError(t, err)
	schema := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	store := New(pool)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func newRequest(source string, createdAt time.Time) *types.BridgeRequest {
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return &types.BridgeRequest{
		RequestID:     uuid.New().String(),
		Direction:     types.DirectionXRPLToEVM,
		SourceAddress: source,
		Amount:        "123456789.123456789",
		Status:        types.StatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func finalized(req *types.BridgeRequest, status types.Status) *types.BridgeRequest {
	done := req.Clone()
	now := time.Now().UTC().Truncate(time.Microsecond)
	done.Status = status
	done.UpdatedAt = now
	done.CompletedAt = &now
	return done
}

func TestStoreMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	var applied int
	require.NoError(t, store.Pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&applied))
	require.Equal(t, 1, applied)
}

func TestStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Ping(ctx))

	req := newRequest("rSOURCE", time.Now())
	require.NoError(t, store.Create(ctx, req))
	require.Error(t, store.Create(ctx, req), "request ids are never reused")

	got, err := store.Get(ctx, req.RequestID)
	require.NoError(t, err)
	require.Equal(t, req.RequestID, got.RequestID)
	require.Equal(t, types.DirectionXRPLToEVM, got.Direction)
	require.Equal(t, "123456789.123456789", got.Amount)
	require.Equal(t, types.StatusPending, got.Status)
	require.True(t, req.CreatedAt.Equal(got.CreatedAt))
	require.Nil(t, got.CompletedAt)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestStoreFinalizeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	req := newRequest("rSOURCE", time.Now())
	require.NoError(t, store.Create(ctx, req))

	completed := finalized(req, types.StatusCompleted)
	completed.DestinationTxHash = "0xpaid"
	require.NoError(t, store.Finalize(ctx, completed))

	err := store.Finalize(ctx, finalized(req, types.StatusFailed))
	require.ErrorIs(t, err, types.ErrConflict)

	got, err := store.Get(ctx, req.RequestID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, got.Status)
	require.Equal(t, "0xpaid", got.DestinationTxHash)
	require.NotNil(t, got.CompletedAt)

	require.Error(t, store.Finalize(ctx, req), "pending is not terminal")
}

func TestStoreUpdatePendingErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	req := newRequest("rSOURCE", time.Now())
	require.NoError(t, store.Create(ctx, req))

	update := req.Clone()
	update.DestinationAddress = "0x00000000000000000000000000000000000000bb"
	require.NoError(t, store.UpdatePending(ctx, update))
	got, err := store.Get(ctx, req.RequestID)
	require.NoError(t, err)
	require.Equal(t, update.DestinationAddress, got.DestinationAddress)

	missing := newRequest("rSOURCE", time.Now())
	err = store.UpdatePending(ctx, missing)
	require.ErrorIs(t, err, types.ErrNotFound)
	require.NotErrorIs(t, err, types.ErrConflict)

	require.NoError(t, store.Finalize(ctx, finalized(req, types.StatusFailed)))
	err = store.UpdatePending(ctx, update)
	require.ErrorIs(t, err, types.ErrConflict)
	require.NotErrorIs(t, err, types.ErrNotFound)
}

func TestStoreClaimSourceTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	first := newRequest("rSOURCE", time.Now())
	second := newRequest("rSOURCE", time.Now())
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	first.SourceTxHash = "ABCDEF"
	ok, err := store.ClaimSourceTx(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ClaimSourceTx(ctx, first)
	require.NoError(t, err)
	require.True(t, ok, "claiming again for the same request is allowed")

	second.SourceTxHash = "abcdef"
	ok, err = store.ClaimSourceTx(ctx, second)
	require.NoError(t, err)
	require.False(t, ok, "hash is compared case-insensitively")

	owner, err := store.SourceTxClaimedBy(ctx, "AbCdEf")
	require.NoError(t, err)
	require.Equal(t, first.RequestID, owner)

	owner, err = store.SourceTxClaimedBy(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, owner)

	got, err := store.Get(ctx, second.RequestID)
	require.NoError(t, err)
	require.Empty(t, got.SourceTxHash)
}

func TestStoreListByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		req := newRequest(fmt.Sprintf("rSOURCE%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, req))
		ids = append(ids, req.RequestID)
	}
	done, err := store.Get(ctx, ids[2])
	require.NoError(t, err)
	require.NoError(t, store.Finalize(ctx, finalized(done, types.StatusCompleted)))

	pending, err := store.ListByStatus(ctx, types.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	require.Equal(t, []string{ids[4], ids[3], ids[1], ids[0]}, requestIDs(pending), "newest first")

	limited, err := store.ListByStatus(ctx, types.StatusPending, 2)
	require.NoError(t, err)
	require.Equal(t, []string{ids[4], ids[3]}, requestIDs(limited))

	completed, err := store.ListByStatus(ctx, types.StatusCompleted, 10)
	require.NoError(t, err)
	require.Equal(t, []string{ids[2]}, requestIDs(completed))

	_, err = store.ListByStatus(ctx, types.Status("lost"), 10)
	require.ErrorIs(t, err, types.ErrValidation)

	bySource, err := store.ListBySourceAddress(ctx, "RSOURCE1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{ids[1]}, requestIDs(bySource))

	count, err := store.CountCreatedSince(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func requestIDs(reqs []*types.BridgeRequest) []string {
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.RequestID)
	}
	return ids
}
