package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/storage"
	"agent-triggers/internal/storage/storetest"
)

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	sch := storetest.NewSchedule("agent-1", nil)
	require.NoError(t, s.CreateSchedule(ctx, sch))

	got, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	*got.InputDefaults.Input = "mutated"
	got.Name = "mutated"

	again, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, "daily report", *again.InputDefaults.Input)
	assert.Equal(t, sch.Name, again.Name)
}

func TestStore_NestedTxReusesOuter(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx storage.Store) error {
		return tx.WithTx(ctx, func(inner storage.Store) error {
			return inner.CompareAndSwapCursor(ctx, "gmail:nested", "", "7")
		})
	})
	require.NoError(t, err)

	c, err := s.GetCursor(ctx, "gmail:nested")
	require.NoError(t, err)
	assert.Equal(t, "7", c.Value)
}
