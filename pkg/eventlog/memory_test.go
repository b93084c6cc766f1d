package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegen/pagegen/pkg/models"
)

func TestMemoryLogAppendAndRead(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.Append(ctx, "s1", 0, models.SessionEvent("s1")))
	require.NoError(t, log.Append(ctx, "s1", 1, models.PatchesEvent([]models.Patch{models.SetText("#root", "hi")})))
	require.NoError(t, log.Append(ctx, "s1", 2, models.DoneEvent("<div>hi</div>")))
	require.NoError(t, log.Append(ctx, "s2", 0, models.SessionEvent("s2")))

	t.Run("read from beginning", func(t *testing.T) {
		rows, err := log.ReadFrom(ctx, "s1", -1)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		for i, r := range rows {
			assert.Equal(t, int64(i), r.Offset)
			assert.Equal(t, "s1", r.SessionID)
		}
	})

	t.Run("read with gap offset", func(t *testing.T) {
		rows, err := log.ReadFrom(ctx, "s1", 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(1), rows[0].Offset)
	})

	t.Run("read past head is empty", func(t *testing.T) {
		rows, err := log.ReadFrom(ctx, "s1", 99)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		rows, err := log.ReadFrom(ctx, "s2", -1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})
}

func TestMemoryLogDuplicateOffset(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.Append(ctx, "s", 0, models.SessionEvent("s")))
	err := log.Append(ctx, "s", 0, models.FullEvent("<div/>"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateOffset)
}

func TestMemoryLogLatestOffset(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	off, err := log.LatestOffset(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), off)

	require.NoError(t, log.Append(ctx, "s", 0, models.SessionEvent("s")))
	require.NoError(t, log.Append(ctx, "s", 1, models.FullEvent("<p/>")))

	off, err = log.LatestOffset(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), off)
}

func TestMemoryLogLastFullOrDone(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	row, err := log.LastFullOrDone(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, log.Append(ctx, "s", 0, models.FullEvent("<div>v1</div>")))
	require.NoError(t, log.Append(ctx, "s", 1, models.PatchesEvent([]models.Patch{models.SetText("#a", "x")})))
	require.NoError(t, log.Append(ctx, "s", 2, models.DoneEvent("<div>v2</div>")))
	require.NoError(t, log.Append(ctx, "s", 3, models.PatchesEvent([]models.Patch{models.SetText("#a", "y")})))

	row, err = log.LastFullOrDone(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(2), row.Offset)

	event, err := row.DecodeEvent()
	require.NoError(t, err)
	assert.Equal(t, "<div>v2</div>", event.HTML)
}

func TestMemoryLogCleanup(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.Append(ctx, "s", 0, models.SessionEvent("s")))
	require.NoError(t, log.Append(ctx, "s", 1, models.FullEvent("<p/>")))

	// Nothing is older than an hour ago.
	removed, err := log.Cleanup(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Everything is older than an hour from now.
	removed, err = log.Cleanup(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	off, err := log.LatestOffset(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), off)
}
