package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("create delivery: %w", NewValidationError("lines", "must not be empty"))
	require.ErrorIs(t, err, ErrValidation)
	require.EqualError(t, err, "create delivery: validation failed: lines must not be empty")

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "lines", ve.Field)

	require.EqualError(t, NewValidationError("", "bad input"), "validation failed: bad input")
}

func TestIdempotencyConflictIsConflict(t *testing.T) {
	require.ErrorIs(t, ErrIdempotencyConflict, ErrConflict)
}

func TestActorContext(t *testing.T) {
	require.Zero(t, ActorFromContext(context.Background()))
	ctx := ContextWithActor(context.Background(), 42)
	require.Equal(t, int64(42), ActorFromContext(ctx))
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("23505")))
	require.False(t, IsUniqueViolation(nil))
}

func TestDocNumberLockKey(t *testing.T) {
	require.Equal(t, "lock:docno:DELIVERY:202401", DocNumberLockKey("DELIVERY", "202401"))
}

func TestNilStoresFailSafely(t *testing.T) {
	var store *IdempotencyStore
	require.Error(t, store.CheckAndInsert(context.Background(), "k", "m"))
	n, err := store.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, n)

	var audit *AuditLogger
	require.Error(t, audit.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))
}

func TestAuditLogValidate(t *testing.T) {
	require.NoError(t, AuditLog{Action: "delivery:receive", Entity: "consignment_delivery", EntityID: "4"}.Validate())

	err := AuditLog{Action: "delivery:receive", EntityID: "4"}.Validate()
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "entity")
}
