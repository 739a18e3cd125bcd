package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

type tx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*tx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

const eventColumns = `e.id, e.sync_id, e.calendar_id, e.title, e.dtstart, e.dtend, e.duration,
	e.event_timezone, e.all_day, e.rrule, e.rdate, e.exrule, e.exdate, e.original_sync_id,
	e.original_id, e.original_instance_time, e.status, e.last_date, e.deleted`

func scanEvent(row scanner) (*storage.Event, error) {
	var (
		e                                storage.Event
		syncID, duration, originalSyncID sql.NullString
		dtend, originalID, oit, lastDate sql.NullInt64
		dtstart                          int64
		status                           int
	)
	if err := row.Scan(&e.ID, &syncID, &e.CalendarID, &e.Title, &dtstart, &dtend, &duration,
		&e.Timezone, &e.AllDay, &e.RRule, &e.RDate, &e.ExRule, &e.ExDate, &originalSyncID,
		&originalID, &oit, &status, &lastDate, &e.Deleted); err != nil {
		return nil, err
	}
	e.SyncID = nullString(syncID)
	e.DTStart = storage.FromMillis(dtstart)
	e.DTEnd = nullTime(dtend)
	e.Duration = nullString(duration)
	e.OriginalSyncID = nullString(originalSyncID)
	if originalID.Valid {
		e.OriginalID = mo.Some(originalID.Int64)
	}
	e.OriginalInstanceTime = nullTime(oit)
	e.Status = storage.EventStatus(status)
	e.LastDate = nullTime(lastDate)
	return &e, nil
}

func nullString(ns sql.NullString) mo.Option[string] {
	if !ns.Valid {
		return mo.None[string]()
	}
	return mo.Some(ns.String)
}

func nullTime(ni sql.NullInt64) mo.Option[time.Time] {
	if !ni.Valid {
		return mo.None[time.Time]()
	}
	return mo.Some(storage.FromMillis(ni.Int64))
}

func (t *tx) queryEvents(ctx context.Context, query string, args ...any) ([]*storage.Event, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Calendars

func (t *tx) CreateCalendar(ctx context.Context, c *storage.Calendar) (int64, error) {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO calendars (
			account_name, account_type, name, display_name, color,
			visible, sync_events, deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.AccountName, c.AccountType, c.Name, c.DisplayName, c.Color,
		c.Visible, c.SyncEvents, c.Deleted, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const calendarColumns = `id, account_name, account_type, name, display_name, color,
	visible, sync_events, deleted, created_at, updated_at`

func scanCalendar(row scanner) (*storage.Calendar, error) {
	var c storage.Calendar
	if err := row.Scan(&c.ID, &c.AccountName, &c.AccountType, &c.Name, &c.DisplayName, &c.Color,
		&c.Visible, &c.SyncEvents, &c.Deleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) GetCalendar(ctx context.Context, id int64) (*storage.Calendar, error) {
	c, err := scanCalendar(t.tx.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calendar %d: %w", id, storage.ErrNotFound)
	}
	return c, err
}

func (t *tx) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+calendarColumns+` FROM calendars ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *tx) SetCalendarSyncEvents(ctx context.Context, id int64, sync bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE calendars SET sync_events = ?, updated_at = ? WHERE id = ?
	`, sync, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return affected(res, "calendar", id)
}

func affected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, storage.ErrNotFound)
	}
	return nil
}

// Events

func eventArgs(e *storage.Event) []any {
	return []any{
		storage.OptionPtr(e.SyncID), e.CalendarID, e.Title, storage.Millis(e.DTStart),
		storage.MillisPtr(e.DTEnd), storage.OptionPtr(e.Duration), e.Timezone, e.AllDay,
		e.RRule, e.RDate, e.ExRule, e.ExDate, storage.OptionPtr(e.OriginalSyncID),
		storage.OptionPtr(e.OriginalID), storage.MillisPtr(e.OriginalInstanceTime),
		int(e.Status), storage.MillisPtr(e.LastDate), e.Deleted,
	}
}

func (t *tx) InsertEvent(ctx context.Context, ev *storage.Event) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (
			sync_id, calendar_id, title, dtstart, dtend, duration, event_timezone, all_day,
			rrule, rdate, exrule, exdate, original_sync_id, original_id, original_instance_time,
			status, last_date, deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventArgs(ev)...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *tx) UpdateEvent(ctx context.Context, ev *storage.Event) error {
	args := append(eventArgs(ev), ev.ID)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE events SET
			sync_id = ?, calendar_id = ?, title = ?, dtstart = ?, dtend = ?, duration = ?,
			event_timezone = ?, all_day = ?, rrule = ?, rdate = ?, exrule = ?, exdate = ?,
			original_sync_id = ?, original_id = ?, original_instance_time = ?, status = ?,
			last_date = ?, deleted = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return err
	}
	return affected(res, "event", ev.ID)
}

func (t *tx) GetEvent(ctx context.Context, id int64) (*storage.Event, error) {
	e, err := scanEvent(t.tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	return e, err
}

func (t *tx) DeleteEvent(ctx context.Context, id int64) error {
	if err := t.DeleteInstancesByEvent(ctx, id); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res, "event", id)
}

func (t *tx) ListExceptions(ctx context.Context, family storage.RecurrenceFamily) ([]*storage.Event, error) {
	if sid, ok := family.SyncID.Get(); ok {
		return t.queryEvents(ctx, `
			SELECT `+eventColumns+` FROM events e
			WHERE e.calendar_id = ? AND (e.original_sync_id = ? OR e.original_id = ?)
				AND e.original_instance_time IS NOT NULL
			ORDER BY e.id
		`, family.CalendarID, sid, family.LocalID)
	}
	return t.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events e
		WHERE e.original_id = ? AND e.original_instance_time IS NOT NULL
		ORDER BY e.id
	`, family.LocalID)
}

// Instances

func familyPredicate(f storage.RecurrenceFamily) (string, []any) {
	if sid, ok := f.SyncID.Get(); ok {
		return `e.calendar_id = ? AND (e.sync_id = ? OR e.original_sync_id = ? OR e.original_id = ?)`,
			[]any{f.CalendarID, sid, sid, f.LocalID}
	}
	return `(e.id = ? OR e.original_id = ?)`, []any{f.LocalID, f.LocalID}
}

func (t *tx) FetchCandidateEntries(ctx context.Context, q storage.CandidateQuery) ([]storage.CandidateEntry, error) {
	var (
		where string
		args  []any
	)
	switch q := q.(type) {
	case storage.WindowQuery:
		where = `((e.dtstart <= ? AND (e.last_date IS NULL OR e.last_date >= ?))
			OR (e.original_instance_time IS NOT NULL
				AND e.original_instance_time <= ? AND e.original_instance_time >= ?))`
		args = []any{
			storage.Millis(q.End), storage.Millis(q.Begin),
			storage.Millis(q.End), storage.Millis(q.Begin.Add(-q.ExceptionSlack)),
		}
	case storage.FamilyQuery:
		where, args = familyPredicate(q.Family)
	default:
		return nil, fmt.Errorf("unsupported candidate query %T", q)
	}

	events, err := t.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events e JOIN calendars c ON c.id = e.calendar_id
		WHERE c.deleted = 0 AND c.sync_events = 1 AND `+where+`
		ORDER BY e.id
	`, args...)
	if err != nil {
		return nil, err
	}
	out := make([]storage.CandidateEntry, 0, len(events))
	for _, e := range events {
		out = append(out, e.Candidate())
	}
	return out, nil
}

func (t *tx) DeleteAllInstances(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM instances`)
	return err
}

func (t *tx) DeleteInstancesByEvent(ctx context.Context, eventID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM instances WHERE event_id = ?`, eventID)
	return err
}

func (t *tx) DeleteInstancesByFamily(ctx context.Context, family storage.RecurrenceFamily) error {
	where, args := familyPredicate(family)
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM instances WHERE event_id IN (SELECT e.id FROM events e WHERE `+where+`)
	`, args...)
	return err
}

func (t *tx) UpsertInstances(ctx context.Context, instances []storage.Instance) error {
	if len(instances) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO instances (event_id, begin_ms, end_ms, start_day, end_day, start_minute, end_minute)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, begin_ms, end_ms) DO UPDATE SET
			start_day = excluded.start_day,
			end_day = excluded.end_day,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inst := range instances {
		if _, err := stmt.ExecContext(ctx, inst.EventID, storage.Millis(inst.Begin), storage.Millis(inst.End),
			inst.StartDay, inst.EndDay, inst.StartMinute, inst.EndMinute); err != nil {
			return fmt.Errorf("upsert instance of event %d: %w", inst.EventID, err)
		}
	}
	return nil
}

func (t *tx) GetExpansionWindow(ctx context.Context) (storage.ExpansionWindow, error) {
	var (
		w      storage.ExpansionWindow
		lo, hi int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT timezone, min_instance, max_instance FROM expansion_window WHERE id = 1
	`).Scan(&w.Timezone, &lo, &hi)
	if err != nil {
		return w, err
	}
	w.MinInstant = storage.WindowFromMillis(lo)
	w.MaxInstant = storage.WindowFromMillis(hi)
	return w, nil
}

func (t *tx) PutExpansionWindow(ctx context.Context, w storage.ExpansionWindow) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE expansion_window SET timezone = ?, min_instance = ?, max_instance = ? WHERE id = 1
	`, w.Timezone, storage.WindowMillis(w.MinInstant), storage.WindowMillis(w.MaxInstant))
	return err
}

const instanceColumns = `i.id, i.event_id, i.begin_ms, i.end_ms, i.start_day, i.end_day, i.start_minute, i.end_minute`

func (t *tx) queryInstances(ctx context.Context, where string, args ...any) ([]storage.Instance, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instances i
		JOIN events e ON e.id = i.event_id
		JOIN calendars c ON c.id = e.calendar_id
		WHERE c.visible = 1 AND `+where+`
		ORDER BY i.begin_ms, i.event_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Instance
	for rows.Next() {
		var (
			inst       storage.Instance
			begin, end int64
		)
		if err := rows.Scan(&inst.ID, &inst.EventID, &begin, &end,
			&inst.StartDay, &inst.EndDay, &inst.StartMinute, &inst.EndMinute); err != nil {
			return nil, err
		}
		inst.Begin = storage.FromMillis(begin)
		inst.End = storage.FromMillis(end)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (t *tx) ListInstances(ctx context.Context, begin, end time.Time) ([]storage.Instance, error) {
	return t.queryInstances(ctx, `i.begin_ms <= ? AND i.end_ms >= ?`, storage.Millis(end), storage.Millis(begin))
}

func (t *tx) ListInstancesByDay(ctx context.Context, startDay, endDay int) ([]storage.Instance, error) {
	return t.queryInstances(ctx, `i.start_day <= ? AND i.end_day >= ?`, endDay, startDay)
}
