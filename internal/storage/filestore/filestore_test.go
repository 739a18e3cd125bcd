package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return NewMemory(zerolog.Nop())
	})
}

func TestFileStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
		return s
	})
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	s, err := New(root, zerolog.Nop())
	require.NoError(t, err)

	var evID int64
	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		calID, err := tx.CreateCalendar(ctx, &storage.Calendar{Name: "home", Visible: true, SyncEvents: true})
		if err != nil {
			return err
		}
		evID, err = tx.InsertEvent(ctx, &storage.Event{
			CalendarID: calID, SyncID: mo.Some("weekly"), DTStart: start,
			Duration: mo.Some("PT1H"), Timezone: "UTC", RRule: "FREQ=WEEKLY",
		})
		if err != nil {
			return err
		}
		if err := tx.UpsertInstances(ctx, []storage.Instance{{
			EventID: evID, Begin: start, End: start.Add(time.Hour),
			StartDay: 2460325, EndDay: 2460325, StartMinute: 600, EndMinute: 660,
		}}); err != nil {
			return err
		}
		return tx.PutExpansionWindow(ctx, storage.ExpansionWindow{
			Timezone: "UTC", MinInstant: start, MaxInstant: start.Add(62 * 24 * time.Hour),
		})
	}))
	s.Close()

	reopened, err := New(root, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, reopened.WithTx(ctx, func(tx storage.Tx) error {
		ev, err := tx.GetEvent(ctx, evID)
		require.NoError(t, err)
		assert.Equal(t, mo.Some("weekly"), ev.SyncID)
		assert.Equal(t, "FREQ=WEEKLY", ev.RRule)
		assert.True(t, ev.DTStart.Equal(start))

		insts, err := tx.ListInstances(ctx, start, start.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, insts, 1)
		assert.Equal(t, 600, insts[0].StartMinute)

		w, err := tx.GetExpansionWindow(ctx)
		require.NoError(t, err)
		assert.True(t, w.Expanded())
		assert.True(t, w.MinInstant.Equal(start))

		// Identifiers keep counting from the snapshot.
		next, err := tx.InsertEvent(ctx, &storage.Event{CalendarID: ev.CalendarID, DTStart: start, DTEnd: mo.Some(start)})
		require.NoError(t, err)
		assert.Greater(t, next, evID)
		return nil
	}))
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("", zerolog.Nop())
	assert.Error(t, err)
}
