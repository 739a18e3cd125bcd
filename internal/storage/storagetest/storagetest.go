// Package storagetest holds behaviour checks shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

// Run exercises store against the storage.Store contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CalendarsAndEvents", func(t *testing.T) { testCalendarsAndEvents(t, newStore(t)) })
	t.Run("CandidateQueries", func(t *testing.T) { testCandidateQueries(t, newStore(t)) })
	t.Run("Instances", func(t *testing.T) { testInstances(t, newStore(t)) })
	t.Run("ExpansionWindow", func(t *testing.T) { testExpansionWindow(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func mustCalendar(t *testing.T, s storage.Store, name string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		id, err = tx.CreateCalendar(context.Background(), &storage.Calendar{
			Name: name, Visible: true, SyncEvents: true,
		})
		return err
	}))
	return id
}

func mustEvent(t *testing.T, s storage.Store, ev storage.Event) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		id, err = tx.InsertEvent(context.Background(), &ev)
		return err
	}))
	return id
}

func testCalendarsAndEvents(t *testing.T, s storage.Store) {
	ctx := context.Background()
	calID := mustCalendar(t, s, "work")

	ev := storage.Event{
		SyncID:     mo.Some("abc"),
		CalendarID: calID,
		Title:      "standup",
		DTStart:    base,
		Duration:   mo.Some("PT15M"),
		Timezone:   "Europe/Paris",
		RRule:      "FREQ=DAILY;COUNT=3",
		Status:     storage.StatusConfirmed,
		LastDate:   mo.Some(base.Add(48*time.Hour + 15*time.Minute)),
	}
	id := mustEvent(t, s, ev)

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		got, err := tx.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "standup", got.Title)
		assert.True(t, got.DTStart.Equal(base))
		assert.Equal(t, mo.Some("abc"), got.SyncID)
		assert.Equal(t, mo.Some("PT15M"), got.Duration)
		assert.True(t, got.DTEnd.IsAbsent())
		assert.True(t, got.OriginalID.IsAbsent())
		last, ok := got.LastDate.Get()
		require.True(t, ok)
		assert.True(t, last.Equal(base.Add(48*time.Hour+15*time.Minute)))

		got.Title = "daily standup"
		require.NoError(t, tx.UpdateEvent(ctx, got))

		cals, err := tx.ListCalendars(ctx)
		require.NoError(t, err)
		require.Len(t, cals, 1)
		assert.Equal(t, "work", cals[0].Name)

		require.NoError(t, tx.SetCalendarSyncEvents(ctx, calID, false))
		cal, err := tx.GetCalendar(ctx, calID)
		require.NoError(t, err)
		assert.False(t, cal.SyncEvents)
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		got, err := tx.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "daily standup", got.Title)

		require.NoError(t, tx.DeleteEvent(ctx, id))
		_, err = tx.GetEvent(ctx, id)
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		_, err = tx.GetCalendar(ctx, calID+100)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		return nil
	}))
}

func testCandidateQueries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	work := mustCalendar(t, s, "work")
	home := mustCalendar(t, s, "home")

	baseID := mustEvent(t, s, storage.Event{
		SyncID: mo.Some("r1"), CalendarID: work, DTStart: base,
		Duration: mo.Some("PT1H"), RRule: "FREQ=DAILY",
	})
	excID := mustEvent(t, s, storage.Event{
		SyncID: mo.Some("r1-x"), CalendarID: work, DTStart: base.Add(30 * 24 * time.Hour),
		DTEnd:                mo.Some(base.Add(30*24*time.Hour + time.Hour)),
		OriginalSyncID:       mo.Some("r1"),
		OriginalInstanceTime: mo.Some(base.Add(29 * 24 * time.Hour)),
		LastDate:             mo.Some(base.Add(30*24*time.Hour + time.Hour)),
	})
	// Same sync id in another calendar is a different family.
	otherID := mustEvent(t, s, storage.Event{
		SyncID: mo.Some("r1"), CalendarID: home, DTStart: base,
		DTEnd: mo.Some(base.Add(time.Hour)), LastDate: mo.Some(base.Add(time.Hour)),
	})
	localID := mustEvent(t, s, storage.Event{
		CalendarID: home, DTStart: base, Duration: mo.Some("PT1H"), RRule: "FREQ=WEEKLY",
	})
	localExcID := mustEvent(t, s, storage.Event{
		CalendarID: home, DTStart: base.Add(24 * time.Hour), DTEnd: mo.Some(base.Add(25 * time.Hour)),
		OriginalID: mo.Some(localID), OriginalInstanceTime: mo.Some(base.Add(7 * 24 * time.Hour)),
		LastDate: mo.Some(base.Add(25 * time.Hour)),
	})
	oldID := mustEvent(t, s, storage.Event{
		CalendarID: home, DTStart: base.Add(-100 * 24 * time.Hour),
		DTEnd:    mo.Some(base.Add(-100*24*time.Hour + time.Hour)),
		LastDate: mo.Some(base.Add(-100*24*time.Hour + time.Hour)),
	})

	ids := func(entries []storage.CandidateEntry) []int64 {
		out := make([]int64, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		entries, err := tx.FetchCandidateEntries(ctx, storage.WindowQuery{
			Begin: base.Add(-24 * time.Hour), End: base.Add(2 * 24 * time.Hour), ExceptionSlack: 7 * 24 * time.Hour,
		})
		require.NoError(t, err)
		// excID starts after End and its original time is after End too.
		assert.ElementsMatch(t, []int64{baseID, otherID, localID, localExcID}, ids(entries))

		entries, err = tx.FetchCandidateEntries(ctx, storage.WindowQuery{
			Begin: base.Add(35 * 24 * time.Hour), End: base.Add(40 * 24 * time.Hour), ExceptionSlack: 7 * 24 * time.Hour,
		})
		require.NoError(t, err)
		// excID ends before Begin but its original time is within the slack.
		assert.ElementsMatch(t, []int64{baseID, excID, localID}, ids(entries))
		assert.NotContains(t, ids(entries), oldID)

		entries, err = tx.FetchCandidateEntries(ctx, storage.FamilyQuery{
			Family: storage.RecurrenceFamily{CalendarID: work, SyncID: mo.Some("r1")},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{baseID, excID}, ids(entries))

		entries, err = tx.FetchCandidateEntries(ctx, storage.FamilyQuery{
			Family: storage.RecurrenceFamily{CalendarID: home, LocalID: localID},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{localID, localExcID}, ids(entries))

		exc, err := tx.ListExceptions(ctx, storage.RecurrenceFamily{CalendarID: work, SyncID: mo.Some("r1")})
		require.NoError(t, err)
		require.Len(t, exc, 1)
		assert.Equal(t, excID, exc[0].ID)

		// Calendars that do not sync events are invisible to expansion.
		require.NoError(t, tx.SetCalendarSyncEvents(ctx, home, false))
		entries, err = tx.FetchCandidateEntries(ctx, storage.WindowQuery{
			Begin: base.Add(-24 * time.Hour), End: base.Add(2 * 24 * time.Hour), ExceptionSlack: 7 * 24 * time.Hour,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{baseID}, ids(entries))
		return nil
	}))
}

func testInstances(t *testing.T, s storage.Store) {
	ctx := context.Background()
	calID := mustCalendar(t, s, "work")
	evID := mustEvent(t, s, storage.Event{
		SyncID: mo.Some("r1"), CalendarID: calID, DTStart: base,
		Duration: mo.Some("PT1H"), RRule: "FREQ=DAILY",
	})

	inst := func(day int, startMinute int) storage.Instance {
		begin := base.Add(time.Duration(day) * 24 * time.Hour)
		return storage.Instance{
			EventID: evID, Begin: begin, End: begin.Add(time.Hour),
			StartDay: 2460371 + day, EndDay: 2460371 + day,
			StartMinute: startMinute, EndMinute: startMinute + 60,
		}
	}

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.UpsertInstances(ctx, []storage.Instance{inst(0, 540), inst(1, 540), inst(2, 540)}))
		// Re-inserting the same key replaces the row.
		require.NoError(t, tx.UpsertInstances(ctx, []storage.Instance{inst(1, 600)}))

		got, err := tx.ListInstances(ctx, base, base.Add(3*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 600, got[1].StartMinute)
		assert.True(t, got[0].Begin.Before(got[1].Begin))

		byDay, err := tx.ListInstancesByDay(ctx, 2460372, 2460372)
		require.NoError(t, err)
		require.Len(t, byDay, 1)
		assert.True(t, byDay[0].Begin.Equal(base.Add(24*time.Hour)))

		require.NoError(t, tx.DeleteInstancesByFamily(ctx, storage.RecurrenceFamily{CalendarID: calID, SyncID: mo.Some("r1")}))
		got, err = tx.ListInstances(ctx, base, base.Add(3*24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, tx.UpsertInstances(ctx, []storage.Instance{inst(0, 540)}))
		require.NoError(t, tx.DeleteInstancesByEvent(ctx, evID))
		got, err = tx.ListInstances(ctx, base, base.Add(3*24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, tx.UpsertInstances(ctx, []storage.Instance{inst(0, 540)}))
		require.NoError(t, tx.DeleteAllInstances(ctx))
		got, err = tx.ListInstances(ctx, base, base.Add(3*24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	}))
}

func testExpansionWindow(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		w, err := tx.GetExpansionWindow(ctx)
		require.NoError(t, err)
		assert.False(t, w.Expanded())

		want := storage.ExpansionWindow{
			Timezone:   "America/Los_Angeles",
			MinInstant: base,
			MaxInstant: base.Add(62 * 24 * time.Hour),
		}
		require.NoError(t, tx.PutExpansionWindow(ctx, want))

		w, err = tx.GetExpansionWindow(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Timezone, w.Timezone)
		assert.True(t, w.MinInstant.Equal(want.MinInstant))
		assert.True(t, w.MaxInstant.Equal(want.MaxInstant))
		return nil
	}))
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	calID := mustCalendar(t, s, "work")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertEvent(ctx, &storage.Event{CalendarID: calID, DTStart: base, DTEnd: mo.Some(base)})
		require.NoError(t, err)
		require.NoError(t, tx.PutExpansionWindow(ctx, storage.ExpansionWindow{
			Timezone: "UTC", MinInstant: base, MaxInstant: base.Add(time.Hour),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		w, err := tx.GetExpansionWindow(ctx)
		require.NoError(t, err)
		assert.False(t, w.Expanded())

		entries, err := tx.FetchCandidateEntries(ctx, storage.WindowQuery{
			Begin: base.Add(-time.Hour), End: base.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}
