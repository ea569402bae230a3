package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendwell/personalize/pkg/personalize"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func TestStoreInsertAssignmentIfAbsent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	experimentID := uuid.New()
	first := &personalize.Assignment{
		ExperimentID: experimentID,
		SessionID:    "session-1",
		VariantID:    uuid.New(),
		Persona:      personalize.PersonaDonor,
		FunnelStage:  personalize.StageDecision,
		AssignedAt:   time.Now().UTC().Truncate(time.Second),
	}

	got, inserted, err := store.InsertAssignmentIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, first.VariantID, got.VariantID)

	second := &personalize.Assignment{
		ExperimentID: experimentID,
		SessionID:    "session-1",
		VariantID:    uuid.New(),
	}
	got, inserted, err = store.InsertAssignmentIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.VariantID, got.VariantID, "losing insert returns the winning row")
	assert.Equal(t, first.Persona, got.Persona)
}

func TestStoreGetAssignment(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	experimentID := uuid.New()
	assignment := &personalize.Assignment{
		ExperimentID: experimentID,
		SessionID:    "session-1",
		VariantID:    uuid.New(),
		AssignedAt:   time.Now().UTC().Truncate(time.Second),
	}
	_, _, err := store.InsertAssignmentIfAbsent(ctx, assignment)
	require.NoError(t, err)

	got, err := store.GetAssignment(ctx, experimentID, "session-1")
	require.NoError(t, err)
	assert.Equal(t, assignment.VariantID, got.VariantID)
	assert.True(t, assignment.AssignedAt.Equal(got.AssignedAt))

	_, err = store.GetAssignment(ctx, experimentID, "unknown-session")
	assert.ErrorIs(t, err, personalize.ErrAssignmentNotFound)

	_, err = store.GetAssignment(ctx, uuid.New(), "session-1")
	assert.ErrorIs(t, err, personalize.ErrAssignmentNotFound)
}

func TestStoreCountAssignments(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	experimentID := uuid.New()
	variantA := uuid.New()
	variantB := uuid.New()

	for _, variantID := range []uuid.UUID{variantA, variantA, variantB} {
		_, inserted, err := store.InsertAssignmentIfAbsent(ctx, &personalize.Assignment{
			ExperimentID: experimentID,
			SessionID:    uuid.NewString(),
			VariantID:    variantID,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	// A losing insert must not bump the tally.
	existingSession := "session-sticky"
	_, _, err := store.InsertAssignmentIfAbsent(ctx, &personalize.Assignment{
		ExperimentID: experimentID,
		SessionID:    existingSession,
		VariantID:    variantA,
	})
	require.NoError(t, err)
	_, inserted, err := store.InsertAssignmentIfAbsent(ctx, &personalize.Assignment{
		ExperimentID: experimentID,
		SessionID:    existingSession,
		VariantID:    variantB,
	})
	require.NoError(t, err)
	require.False(t, inserted)

	counts, err := store.CountAssignments(ctx, experimentID)
	require.NoError(t, err)
	require.Len(t, counts, 2)

	byVariant := make(map[uuid.UUID]int64, len(counts))
	for _, c := range counts {
		byVariant[c.VariantID] = c.Count
	}
	assert.Equal(t, int64(3), byVariant[variantA])
	assert.Equal(t, int64(1), byVariant[variantB])

	empty, err := store.CountAssignments(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
