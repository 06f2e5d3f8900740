package dlq

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

func deadJob() models.WorkerJob {
	return models.WorkerJob{
		ID:          uuid.New(),
		ExecutionID: uuid.New(),
		Node:        models.Node{ID: "n1", Type: models.NodeAction},
	}
}

func TestSink_AddAndItems(t *testing.T) {
	s := New(logger.New("error", "text"))

	first := deadJob()
	s.Add(first, "connection refused", 3)
	s.Add(deadJob(), "timeout", 4)

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].Job.ID)
	assert.Equal(t, "connection refused", items[0].Error)
	assert.Equal(t, 3, items[0].Attempts)
}

func TestSink_Stats(t *testing.T) {
	s := New(logger.New("error", "text"))

	st := s.Stats()
	assert.Equal(t, 0, st.Size)
	assert.Nil(t, st.OldestAt)

	s.Add(deadJob(), "boom", 2)
	st = s.Stats()
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, int64(1), st.TotalAdded)
	require.NotNil(t, st.OldestAt)
	require.NotNil(t, st.NewestAt)
}

func TestSink_ClearKeepsTotal(t *testing.T) {
	s := New(logger.New("error", "text"))
	s.Add(deadJob(), "boom", 1)
	s.Clear()

	st := s.Stats()
	assert.Equal(t, 0, st.Size)
	assert.Equal(t, int64(1), st.TotalAdded)
	assert.Empty(t, s.Items())
}
