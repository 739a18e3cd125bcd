package filestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

type tx struct {
	st *state
}

var _ storage.Tx = (*tx)(nil)

// Calendars

func (t *tx) CreateCalendar(_ context.Context, c *storage.Calendar) (int64, error) {
	t.st.nextCalendarID++
	now := time.Now().UTC()
	cal := *c
	cal.ID = t.st.nextCalendarID
	cal.CreatedAt = now
	cal.UpdatedAt = now
	t.st.calendars[cal.ID] = cal
	return cal.ID, nil
}

func (t *tx) GetCalendar(_ context.Context, id int64) (*storage.Calendar, error) {
	c, ok := t.st.calendars[id]
	if !ok {
		return nil, fmt.Errorf("calendar %d: %w", id, storage.ErrNotFound)
	}
	return &c, nil
}

func (t *tx) ListCalendars(_ context.Context) ([]*storage.Calendar, error) {
	out := make([]*storage.Calendar, 0, len(t.st.calendars))
	for _, c := range t.st.calendars {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) SetCalendarSyncEvents(_ context.Context, id int64, sync bool) error {
	c, ok := t.st.calendars[id]
	if !ok {
		return fmt.Errorf("calendar %d: %w", id, storage.ErrNotFound)
	}
	c.SyncEvents = sync
	c.UpdatedAt = time.Now().UTC()
	t.st.calendars[id] = c
	return nil
}

// Events

func (t *tx) InsertEvent(_ context.Context, ev *storage.Event) (int64, error) {
	if _, ok := t.st.calendars[ev.CalendarID]; !ok {
		return 0, fmt.Errorf("calendar %d: %w", ev.CalendarID, storage.ErrNotFound)
	}
	t.st.nextEventID++
	e := *ev
	e.ID = t.st.nextEventID
	t.st.events[e.ID] = e
	return e.ID, nil
}

func (t *tx) UpdateEvent(_ context.Context, ev *storage.Event) error {
	if _, ok := t.st.events[ev.ID]; !ok {
		return fmt.Errorf("event %d: %w", ev.ID, storage.ErrNotFound)
	}
	t.st.events[ev.ID] = *ev
	return nil
}

func (t *tx) GetEvent(_ context.Context, id int64) (*storage.Event, error) {
	e, ok := t.st.events[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	return &e, nil
}

func (t *tx) DeleteEvent(ctx context.Context, id int64) error {
	if _, ok := t.st.events[id]; !ok {
		return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	delete(t.st.events, id)
	return t.DeleteInstancesByEvent(ctx, id)
}

func (t *tx) ListExceptions(_ context.Context, family storage.RecurrenceFamily) ([]*storage.Event, error) {
	var out []*storage.Event
	for _, e := range t.st.events {
		if !e.IsException() || !isExceptionOf(e, family) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func isExceptionOf(e storage.Event, f storage.RecurrenceFamily) bool {
	oid, ok := e.OriginalID.Get()
	byLocal := ok && f.LocalID != 0 && oid == f.LocalID
	if sid, ok := f.SyncID.Get(); ok {
		return e.CalendarID == f.CalendarID && (e.OriginalSyncID.OrEmpty() == sid || byLocal)
	}
	return byLocal
}

func inFamily(e storage.Event, f storage.RecurrenceFamily) bool {
	if sid, ok := f.SyncID.Get(); ok {
		if e.CalendarID != f.CalendarID {
			return false
		}
		if e.SyncID.OrEmpty() == sid || e.OriginalSyncID.OrEmpty() == sid {
			return true
		}
		oid, ok := e.OriginalID.Get()
		return ok && f.LocalID != 0 && oid == f.LocalID
	}
	if e.ID == f.LocalID {
		return true
	}
	oid, ok := e.OriginalID.Get()
	return ok && oid == f.LocalID
}

// Instances

func (t *tx) FetchCandidateEntries(_ context.Context, q storage.CandidateQuery) ([]storage.CandidateEntry, error) {
	var match func(e storage.Event) bool
	switch q := q.(type) {
	case storage.WindowQuery:
		match = func(e storage.Event) bool {
			c, ok := t.st.calendars[e.CalendarID]
			if !ok || c.Deleted || !c.SyncEvents {
				return false
			}
			if !e.DTStart.After(q.End) {
				if last, ok := e.LastDate.Get(); !ok || !last.Before(q.Begin) {
					return true
				}
			}
			oit, ok := e.OriginalInstanceTime.Get()
			return ok && !oit.After(q.End) && !oit.Before(q.Begin.Add(-q.ExceptionSlack))
		}
	case storage.FamilyQuery:
		match = func(e storage.Event) bool {
			c, ok := t.st.calendars[e.CalendarID]
			if !ok || c.Deleted || !c.SyncEvents {
				return false
			}
			return inFamily(e, q.Family)
		}
	default:
		return nil, fmt.Errorf("unsupported candidate query %T", q)
	}

	var out []storage.CandidateEntry
	for _, e := range t.st.events {
		if match(e) {
			out = append(out, e.Candidate())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteAllInstances(_ context.Context) error {
	t.st.instances = make(map[instanceKey]storage.Instance)
	return nil
}

func (t *tx) DeleteInstancesByEvent(_ context.Context, eventID int64) error {
	for k := range t.st.instances {
		if k.eventID == eventID {
			delete(t.st.instances, k)
		}
	}
	return nil
}

func (t *tx) DeleteInstancesByFamily(_ context.Context, family storage.RecurrenceFamily) error {
	for k := range t.st.instances {
		e, ok := t.st.events[k.eventID]
		if ok && inFamily(e, family) {
			delete(t.st.instances, k)
		}
	}
	return nil
}

func (t *tx) UpsertInstances(_ context.Context, instances []storage.Instance) error {
	for _, inst := range instances {
		k := keyOf(inst)
		if old, ok := t.st.instances[k]; ok {
			inst.ID = old.ID
		} else {
			t.st.nextInstanceID++
			inst.ID = t.st.nextInstanceID
		}
		t.st.instances[k] = inst
	}
	return nil
}

func (t *tx) GetExpansionWindow(_ context.Context) (storage.ExpansionWindow, error) {
	return t.st.window, nil
}

func (t *tx) PutExpansionWindow(_ context.Context, w storage.ExpansionWindow) error {
	t.st.window = w
	return nil
}

func (t *tx) ListInstances(_ context.Context, begin, end time.Time) ([]storage.Instance, error) {
	return t.visibleInstances(func(i storage.Instance) bool {
		return !i.Begin.After(end) && !i.End.Before(begin)
	}), nil
}

func (t *tx) ListInstancesByDay(_ context.Context, startDay, endDay int) ([]storage.Instance, error) {
	return t.visibleInstances(func(i storage.Instance) bool {
		return i.StartDay <= endDay && i.EndDay >= startDay
	}), nil
}

func (t *tx) visibleInstances(match func(storage.Instance) bool) []storage.Instance {
	var out []storage.Instance
	for _, inst := range t.st.instances {
		if !match(inst) {
			continue
		}
		e, ok := t.st.events[inst.EventID]
		if !ok {
			continue
		}
		if c, ok := t.st.calendars[e.CalendarID]; !ok || !c.Visible {
			continue
		}
		out = append(out, inst)
	}
	sortInstances(out)
	return out
}

func sortInstances(out []storage.Instance) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Begin.Equal(out[j].Begin) {
			return out[i].Begin.Before(out[j].Begin)
		}
		return out[i].EventID < out[j].EventID
	})
}
