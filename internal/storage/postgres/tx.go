package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

type tx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*tx)(nil)

const eventColumns = `e.id, e.sync_id, e.calendar_id, e.title, e.dtstart, e.dtend, e.duration,
	e.event_timezone, e.all_day, e.rrule, e.rdate, e.exrule, e.exdate, e.original_sync_id,
	e.original_id, e.original_instance_time, e.status, e.last_date, e.deleted`

func scanEvent(row pgx.Row) (*storage.Event, error) {
	var (
		e                                storage.Event
		syncID, duration, originalSyncID *string
		dtend, originalID, oit, lastDate *int64
		dtstart                          int64
		status                           int32
	)
	if err := row.Scan(&e.ID, &syncID, &e.CalendarID, &e.Title, &dtstart, &dtend, &duration,
		&e.Timezone, &e.AllDay, &e.RRule, &e.RDate, &e.ExRule, &e.ExDate, &originalSyncID,
		&originalID, &oit, &status, &lastDate, &e.Deleted); err != nil {
		return nil, err
	}
	e.SyncID = storage.OptionFromPtr(syncID)
	e.DTStart = storage.FromMillis(dtstart)
	e.DTEnd = storage.TimeOptionFromMillis(dtend)
	e.Duration = storage.OptionFromPtr(duration)
	e.OriginalSyncID = storage.OptionFromPtr(originalSyncID)
	e.OriginalID = storage.OptionFromPtr(originalID)
	e.OriginalInstanceTime = storage.TimeOptionFromMillis(oit)
	e.Status = storage.EventStatus(status)
	e.LastDate = storage.TimeOptionFromMillis(lastDate)
	return &e, nil
}

func (t *tx) queryEvents(ctx context.Context, query string, args ...any) ([]*storage.Event, error) {
	rows, err := t.tx.Query(ctx, query, args...)
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

func notFound(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// Calendars

func (t *tx) CreateCalendar(ctx context.Context, c *storage.Calendar) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := t.tx.QueryRow(ctx, `
		insert into calendars (
			account_name, account_type, name, display_name, color,
			visible, sync_events, deleted, created_at, updated_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		returning id
	`, c.AccountName, c.AccountType, c.Name, c.DisplayName, c.Color,
		c.Visible, c.SyncEvents, c.Deleted, now).Scan(&id)
	return id, err
}

const calendarColumns = `id, account_name, account_type, name, display_name, color,
	visible, sync_events, deleted, created_at, updated_at`

func scanCalendar(row pgx.Row) (*storage.Calendar, error) {
	var c storage.Calendar
	if err := row.Scan(&c.ID, &c.AccountName, &c.AccountType, &c.Name, &c.DisplayName, &c.Color,
		&c.Visible, &c.SyncEvents, &c.Deleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) GetCalendar(ctx context.Context, id int64) (*storage.Calendar, error) {
	c, err := scanCalendar(t.tx.QueryRow(ctx, `select `+calendarColumns+` from calendars where id = $1`, id))
	if err != nil {
		return nil, notFound(err, "calendar", id)
	}
	return c, nil
}

func (t *tx) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	rows, err := t.tx.Query(ctx, `select `+calendarColumns+` from calendars order by id`)
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
	tag, err := t.tx.Exec(ctx, `
		update calendars set sync_events = $1, updated_at = now() where id = $2
	`, sync, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("calendar %d: %w", id, storage.ErrNotFound)
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
		int32(e.Status), storage.MillisPtr(e.LastDate), e.Deleted,
	}
}

func (t *tx) InsertEvent(ctx context.Context, ev *storage.Event) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		insert into events (
			sync_id, calendar_id, title, dtstart, dtend, duration, event_timezone, all_day,
			rrule, rdate, exrule, exdate, original_sync_id, original_id, original_instance_time,
			status, last_date, deleted
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		returning id
	`, eventArgs(ev)...).Scan(&id)
	return id, err
}

func (t *tx) UpdateEvent(ctx context.Context, ev *storage.Event) error {
	args := append(eventArgs(ev), ev.ID)
	tag, err := t.tx.Exec(ctx, `
		update events set
			sync_id = $1, calendar_id = $2, title = $3, dtstart = $4, dtend = $5, duration = $6,
			event_timezone = $7, all_day = $8, rrule = $9, rdate = $10, exrule = $11, exdate = $12,
			original_sync_id = $13, original_id = $14, original_instance_time = $15, status = $16,
			last_date = $17, deleted = $18
		where id = $19
	`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", ev.ID, storage.ErrNotFound)
	}
	return nil
}

func (t *tx) GetEvent(ctx context.Context, id int64) (*storage.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx, `select `+eventColumns+` from events e where e.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "event", id)
	}
	return e, nil
}

func (t *tx) DeleteEvent(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `delete from events where id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (t *tx) ListExceptions(ctx context.Context, family storage.RecurrenceFamily) ([]*storage.Event, error) {
	if sid, ok := family.SyncID.Get(); ok {
		return t.queryEvents(ctx, `
			select `+eventColumns+` from events e
			where e.calendar_id = $1 and (e.original_sync_id = $2 or e.original_id = $3)
				and e.original_instance_time is not null
			order by e.id
		`, family.CalendarID, sid, family.LocalID)
	}
	return t.queryEvents(ctx, `
		select `+eventColumns+` from events e
		where e.original_id = $1 and e.original_instance_time is not null
		order by e.id
	`, family.LocalID)
}

// Instances

// familyPredicate numbers its placeholders from $1.
func familyPredicate(f storage.RecurrenceFamily) (string, []any) {
	if sid, ok := f.SyncID.Get(); ok {
		return `e.calendar_id = $1 and (e.sync_id = $2 or e.original_sync_id = $2 or e.original_id = $3)`,
			[]any{f.CalendarID, sid, f.LocalID}
	}
	return `(e.id = $1 or e.original_id = $1)`, []any{f.LocalID}
}

func (t *tx) FetchCandidateEntries(ctx context.Context, q storage.CandidateQuery) ([]storage.CandidateEntry, error) {
	var (
		where string
		args  []any
	)
	switch q := q.(type) {
	case storage.WindowQuery:
		where = `((e.dtstart <= $1 and (e.last_date is null or e.last_date >= $2))
			or (e.original_instance_time is not null
				and e.original_instance_time <= $1 and e.original_instance_time >= $3))`
		args = []any{
			storage.Millis(q.End), storage.Millis(q.Begin), storage.Millis(q.Begin.Add(-q.ExceptionSlack)),
		}
	case storage.FamilyQuery:
		where, args = familyPredicate(q.Family)
	default:
		return nil, fmt.Errorf("unsupported candidate query %T", q)
	}

	events, err := t.queryEvents(ctx, `
		select `+eventColumns+`
		from events e join calendars c on c.id = e.calendar_id
		where not c.deleted and c.sync_events and `+where+`
		order by e.id
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
	_, err := t.tx.Exec(ctx, `delete from instances`)
	return err
}

func (t *tx) DeleteInstancesByEvent(ctx context.Context, eventID int64) error {
	_, err := t.tx.Exec(ctx, `delete from instances where event_id = $1`, eventID)
	return err
}

func (t *tx) DeleteInstancesByFamily(ctx context.Context, family storage.RecurrenceFamily) error {
	where, args := familyPredicate(family)
	_, err := t.tx.Exec(ctx, `
		delete from instances where event_id in (select e.id from events e where `+where+`)
	`, args...)
	return err
}

func (t *tx) UpsertInstances(ctx context.Context, instances []storage.Instance) error {
	if len(instances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, inst := range instances {
		batch.Queue(`
			insert into instances (event_id, begin_ms, end_ms, start_day, end_day, start_minute, end_minute)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (event_id, begin_ms, end_ms) do update set
				start_day = excluded.start_day,
				end_day = excluded.end_day,
				start_minute = excluded.start_minute,
				end_minute = excluded.end_minute
		`, inst.EventID, storage.Millis(inst.Begin), storage.Millis(inst.End),
			inst.StartDay, inst.EndDay, inst.StartMinute, inst.EndMinute)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *tx) GetExpansionWindow(ctx context.Context) (storage.ExpansionWindow, error) {
	var (
		w      storage.ExpansionWindow
		lo, hi int64
	)
	err := t.tx.QueryRow(ctx, `
		select timezone, min_instance, max_instance from expansion_window where id = 1
	`).Scan(&w.Timezone, &lo, &hi)
	if err != nil {
		return w, err
	}
	w.MinInstant = storage.WindowFromMillis(lo)
	w.MaxInstant = storage.WindowFromMillis(hi)
	return w, nil
}

func (t *tx) PutExpansionWindow(ctx context.Context, w storage.ExpansionWindow) error {
	_, err := t.tx.Exec(ctx, `
		update expansion_window set timezone = $1, min_instance = $2, max_instance = $3 where id = 1
	`, w.Timezone, storage.WindowMillis(w.MinInstant), storage.WindowMillis(w.MaxInstant))
	return err
}

const instanceColumns = `i.id, i.event_id, i.begin_ms, i.end_ms, i.start_day, i.end_day, i.start_minute, i.end_minute`

func (t *tx) queryInstances(ctx context.Context, where string, args ...any) ([]storage.Instance, error) {
	rows, err := t.tx.Query(ctx, `
		select `+instanceColumns+`
		from instances i
		join events e on e.id = i.event_id
		join calendars c on c.id = e.calendar_id
		where c.visible and `+where+`
		order by i.begin_ms, i.event_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Instance
	for rows.Next() {
		var (
			inst                                     storage.Instance
			begin, end                               int64
			startDay, endDay, startMinute, endMinute int32
		)
		if err := rows.Scan(&inst.ID, &inst.EventID, &begin, &end,
			&startDay, &endDay, &startMinute, &endMinute); err != nil {
			return nil, err
		}
		inst.Begin = storage.FromMillis(begin)
		inst.End = storage.FromMillis(end)
		inst.StartDay, inst.EndDay = int(startDay), int(endDay)
		inst.StartMinute, inst.EndMinute = int(startMinute), int(endMinute)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (t *tx) ListInstances(ctx context.Context, begin, end time.Time) ([]storage.Instance, error) {
	return t.queryInstances(ctx, `i.begin_ms <= $1 and i.end_ms >= $2`, storage.Millis(end), storage.Millis(begin))
}

func (t *tx) ListInstancesByDay(ctx context.Context, startDay, endDay int) ([]storage.Instance, error) {
	return t.queryInstances(ctx, `i.start_day <= $1 and i.end_day >= $2`, int32(endDay), int32(startDay))
}
