package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String()+":node-1", Key(id, "node-1"))
}

func TestMemoryStore_FirstSightThenDuplicate(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Hour)
	defer s.Close()
	ctx := context.Background()

	stepID := uuid.New()
	res, err := s.CheckAndSet(ctx, "k1", stepID)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = s.CheckAndSet(ctx, "k1", uuid.New())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, stepID, res.ExistingStepID)

	assert.Equal(t, 1, s.Size())
}

func TestMemoryStore_RemoveAllowsRepublish(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Hour)
	defer s.Close()
	ctx := context.Background()

	_, err := s.CheckAndSet(ctx, "k1", uuid.New())
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, "k1"))

	res, err := s.CheckAndSet(ctx, "k1", uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestMemoryStore_ExpiredEntryIsNotDuplicate(t *testing.T) {
	s := NewMemoryStore(10*time.Millisecond, time.Hour)
	defer s.Close()
	ctx := context.Background()

	_, err := s.CheckAndSet(ctx, "k1", uuid.New())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	res, err := s.CheckAndSet(ctx, "k1", uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestMemoryStore_SweepEvicts(t *testing.T) {
	s := NewMemoryStore(5*time.Millisecond, 10*time.Millisecond)
	defer s.Close()

	_, err := s.CheckAndSet(context.Background(), "k1", uuid.New())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Size() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Hour)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
