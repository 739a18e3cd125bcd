package filestore

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

type instanceKey struct {
	eventID int64
	begin   int64
	end     int64
}

type state struct {
	nextCalendarID int64
	nextEventID    int64
	nextInstanceID int64
	calendars      map[int64]storage.Calendar
	events         map[int64]storage.Event
	instances      map[instanceKey]storage.Instance
	window         storage.ExpansionWindow
}

func newState() *state {
	return &state{
		calendars: make(map[int64]storage.Calendar),
		events:    make(map[int64]storage.Event),
		instances: make(map[instanceKey]storage.Instance),
	}
}

// clone copies the maps; the values hold no shared mutable data.
func (st *state) clone() *state {
	c := &state{
		nextCalendarID: st.nextCalendarID,
		nextEventID:    st.nextEventID,
		nextInstanceID: st.nextInstanceID,
		calendars:      make(map[int64]storage.Calendar, len(st.calendars)),
		events:         make(map[int64]storage.Event, len(st.events)),
		instances:      make(map[instanceKey]storage.Instance, len(st.instances)),
		window:         st.window,
	}
	for k, v := range st.calendars {
		c.calendars[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.instances {
		c.instances[k] = v
	}
	return c
}

type snapshot struct {
	NextCalendarID int64          `json:"next_calendar_id"`
	NextEventID    int64          `json:"next_event_id"`
	NextInstanceID int64          `json:"next_instance_id"`
	Calendars      []calendarFile `json:"calendars"`
	Events         []eventFile    `json:"events"`
	Instances      []instanceFile `json:"instances"`
	Window         windowFile     `json:"window"`
}

type calendarFile struct {
	ID          int64     `json:"id"`
	AccountName string    `json:"account_name"`
	AccountType string    `json:"account_type"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	Visible     bool      `json:"visible"`
	SyncEvents  bool      `json:"sync_events"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type eventFile struct {
	ID                   int64   `json:"id"`
	SyncID               *string `json:"sync_id,omitempty"`
	CalendarID           int64   `json:"calendar_id"`
	Title                string  `json:"title"`
	DTStart              int64   `json:"dtstart"`
	DTEnd                *int64  `json:"dtend,omitempty"`
	Duration             *string `json:"duration,omitempty"`
	Timezone             string  `json:"timezone"`
	AllDay               bool    `json:"all_day"`
	RRule                string  `json:"rrule,omitempty"`
	RDate                string  `json:"rdate,omitempty"`
	ExRule               string  `json:"exrule,omitempty"`
	ExDate               string  `json:"exdate,omitempty"`
	OriginalSyncID       *string `json:"original_sync_id,omitempty"`
	OriginalID           *int64  `json:"original_id,omitempty"`
	OriginalInstanceTime *int64  `json:"original_instance_time,omitempty"`
	Status               int     `json:"status"`
	LastDate             *int64  `json:"last_date,omitempty"`
	Deleted              bool    `json:"deleted"`
}

type instanceFile struct {
	ID          int64 `json:"id"`
	EventID     int64 `json:"event_id"`
	Begin       int64 `json:"begin"`
	End         int64 `json:"end"`
	StartDay    int   `json:"start_day"`
	EndDay      int   `json:"end_day"`
	StartMinute int   `json:"start_minute"`
	EndMinute   int   `json:"end_minute"`
}

type windowFile struct {
	Timezone   string `json:"timezone"`
	MinInstant int64  `json:"min_instant"`
	MaxInstant int64  `json:"max_instant"`
}

func (st *state) toSnapshot() snapshot {
	snap := snapshot{
		NextCalendarID: st.nextCalendarID,
		NextEventID:    st.nextEventID,
		NextInstanceID: st.nextInstanceID,
		Window: windowFile{
			Timezone:   st.window.Timezone,
			MinInstant: storage.WindowMillis(st.window.MinInstant),
			MaxInstant: storage.WindowMillis(st.window.MaxInstant),
		},
	}
	for _, c := range st.calendars {
		snap.Calendars = append(snap.Calendars, calendarFile(c))
	}
	for _, e := range st.events {
		snap.Events = append(snap.Events, eventFile{
			ID:                   e.ID,
			SyncID:               storage.OptionPtr(e.SyncID),
			CalendarID:           e.CalendarID,
			Title:                e.Title,
			DTStart:              storage.Millis(e.DTStart),
			DTEnd:                storage.MillisPtr(e.DTEnd),
			Duration:             storage.OptionPtr(e.Duration),
			Timezone:             e.Timezone,
			AllDay:               e.AllDay,
			RRule:                e.RRule,
			RDate:                e.RDate,
			ExRule:               e.ExRule,
			ExDate:               e.ExDate,
			OriginalSyncID:       storage.OptionPtr(e.OriginalSyncID),
			OriginalID:           storage.OptionPtr(e.OriginalID),
			OriginalInstanceTime: storage.MillisPtr(e.OriginalInstanceTime),
			Status:               int(e.Status),
			LastDate:             storage.MillisPtr(e.LastDate),
			Deleted:              e.Deleted,
		})
	}
	for _, i := range st.instances {
		snap.Instances = append(snap.Instances, instanceFile{
			ID:          i.ID,
			EventID:     i.EventID,
			Begin:       storage.Millis(i.Begin),
			End:         storage.Millis(i.End),
			StartDay:    i.StartDay,
			EndDay:      i.EndDay,
			StartMinute: i.StartMinute,
			EndMinute:   i.EndMinute,
		})
	}
	return snap
}

func (snap snapshot) toState() *state {
	st := newState()
	st.nextCalendarID = snap.NextCalendarID
	st.nextEventID = snap.NextEventID
	st.nextInstanceID = snap.NextInstanceID
	st.window = storage.ExpansionWindow{
		Timezone:   snap.Window.Timezone,
		MinInstant: storage.WindowFromMillis(snap.Window.MinInstant),
		MaxInstant: storage.WindowFromMillis(snap.Window.MaxInstant),
	}
	for _, c := range snap.Calendars {
		st.calendars[c.ID] = storage.Calendar(c)
	}
	for _, e := range snap.Events {
		st.events[e.ID] = storage.Event{
			ID:                   e.ID,
			SyncID:               storage.OptionFromPtr(e.SyncID),
			CalendarID:           e.CalendarID,
			Title:                e.Title,
			DTStart:              storage.FromMillis(e.DTStart),
			DTEnd:                storage.TimeOptionFromMillis(e.DTEnd),
			Duration:             storage.OptionFromPtr(e.Duration),
			Timezone:             e.Timezone,
			AllDay:               e.AllDay,
			RRule:                e.RRule,
			RDate:                e.RDate,
			ExRule:               e.ExRule,
			ExDate:               e.ExDate,
			OriginalSyncID:       storage.OptionFromPtr(e.OriginalSyncID),
			OriginalID:           storage.OptionFromPtr(e.OriginalID),
			OriginalInstanceTime: storage.TimeOptionFromMillis(e.OriginalInstanceTime),
			Status:               storage.EventStatus(e.Status),
			LastDate:             storage.TimeOptionFromMillis(e.LastDate),
			Deleted:              e.Deleted,
		}
	}
	for _, i := range snap.Instances {
		inst := storage.Instance{
			ID:          i.ID,
			EventID:     i.EventID,
			Begin:       storage.FromMillis(i.Begin),
			End:         storage.FromMillis(i.End),
			StartDay:    i.StartDay,
			EndDay:      i.EndDay,
			StartMinute: i.StartMinute,
			EndMinute:   i.EndMinute,
		}
		st.instances[keyOf(inst)] = inst
	}
	return st
}

func keyOf(i storage.Instance) instanceKey {
	return instanceKey{eventID: i.EventID, begin: storage.Millis(i.Begin), end: storage.Millis(i.End)}
}

func readJSON[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSON(path string, v any) error {
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
