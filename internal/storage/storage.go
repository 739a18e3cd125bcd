package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/samber/mo"
)

var ErrNotFound = errors.New("not found")

type EventStatus int

const (
	StatusTentative EventStatus = iota
	StatusConfirmed
	StatusCanceled
)

type Calendar struct {
	ID          int64
	AccountName string
	AccountType string
	Name        string
	DisplayName string
	Color       string
	Visible     bool
	SyncEvents  bool
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Event is a stored calendar item. It is exactly one of: non-recurring,
// base recurrence (RRule or RDate set) or recurrence exception
// (OriginalInstanceTime set together with OriginalSyncID or OriginalID).
type Event struct {
	ID                   int64
	SyncID               mo.Option[string]
	CalendarID           int64
	Title                string
	DTStart              time.Time
	DTEnd                mo.Option[time.Time]
	Duration             mo.Option[string]
	Timezone             string
	AllDay               bool
	RRule                string
	RDate                string
	ExRule               string
	ExDate               string
	OriginalSyncID       mo.Option[string]
	OriginalID           mo.Option[int64]
	OriginalInstanceTime mo.Option[time.Time]
	Status               EventStatus
	LastDate             mo.Option[time.Time]
	Deleted              bool
}

// CandidateEntry is the subset of an event read as expansion input.
type CandidateEntry struct {
	ID                   int64
	SyncID               mo.Option[string]
	CalendarID           int64
	Status               EventStatus
	DTStart              time.Time
	DTEnd                mo.Option[time.Time]
	Duration             mo.Option[string]
	Timezone             string
	AllDay               bool
	RRule                string
	RDate                string
	ExRule               string
	ExDate               string
	OriginalSyncID       mo.Option[string]
	OriginalID           mo.Option[int64]
	OriginalInstanceTime mo.Option[time.Time]
	Deleted              bool
}

func (e *Event) Candidate() CandidateEntry {
	return CandidateEntry{
		ID:                   e.ID,
		SyncID:               e.SyncID,
		CalendarID:           e.CalendarID,
		Status:               e.Status,
		DTStart:              e.DTStart,
		DTEnd:                e.DTEnd,
		Duration:             e.Duration,
		Timezone:             e.Timezone,
		AllDay:               e.AllDay,
		RRule:                e.RRule,
		RDate:                e.RDate,
		ExRule:               e.ExRule,
		ExDate:               e.ExDate,
		OriginalSyncID:       e.OriginalSyncID,
		OriginalID:           e.OriginalID,
		OriginalInstanceTime: e.OriginalInstanceTime,
		Deleted:              e.Deleted,
	}
}

// IsRecurring reports whether the entry carries a recurrence rule or dates.
func (c *CandidateEntry) IsRecurring() bool {
	return c.RRule != "" || c.RDate != ""
}

// IsException reports whether the entry overrides an occurrence of another
// event.
func (c *CandidateEntry) IsException() bool {
	if c.OriginalInstanceTime.IsAbsent() {
		return false
	}
	return c.OriginalSyncID.OrEmpty() != "" || c.OriginalID.IsPresent()
}

func (e *Event) IsRecurring() bool {
	return e.RRule != "" || e.RDate != ""
}

func (e *Event) IsException() bool {
	c := e.Candidate()
	return c.IsException()
}

// Family returns the recurrence family the event belongs to. LocalID is
// the base event's local id when known, 0 otherwise.
func (e *Event) Family() RecurrenceFamily {
	if orig := e.OriginalSyncID.OrEmpty(); orig != "" {
		return RecurrenceFamily{CalendarID: e.CalendarID, SyncID: mo.Some(orig), LocalID: e.OriginalID.OrEmpty()}
	}
	if oid, ok := e.OriginalID.Get(); ok && e.OriginalInstanceTime.IsPresent() {
		return RecurrenceFamily{CalendarID: e.CalendarID, LocalID: oid}
	}
	if sid := e.SyncID.OrEmpty(); sid != "" {
		return RecurrenceFamily{CalendarID: e.CalendarID, SyncID: mo.Some(sid), LocalID: e.ID}
	}
	return RecurrenceFamily{CalendarID: e.CalendarID, LocalID: e.ID}
}

// Instance is one materialized occurrence. (EventID, Begin, End) is unique.
type Instance struct {
	ID          int64
	EventID     int64
	Begin       time.Time
	End         time.Time
	StartDay    int
	EndDay      int
	StartMinute int
	EndMinute   int
}

// ExpansionWindow describes the materialized instance range. A zero
// MaxInstant means nothing has been expanded yet.
type ExpansionWindow struct {
	Timezone   string
	MinInstant time.Time
	MaxInstant time.Time
}

func (w ExpansionWindow) Expanded() bool {
	return !w.MaxInstant.IsZero()
}

// RecurrenceFamily identifies a base recurrence together with its
// exceptions. Synced families match on sync id within a calendar, and also
// on exceptions that point at the base's local id. Unsynced families match
// on the base event's local id only.
type RecurrenceFamily struct {
	CalendarID int64
	SyncID     mo.Option[string]
	LocalID    int64
}

// CandidateQuery selects expansion input rows.
type CandidateQuery interface {
	candidateQuery()
}

// WindowQuery selects events whose span may intersect [Begin, End], plus
// exceptions whose original instance time lies in
// [Begin-ExceptionSlack, End]. Deleted or non-syncing calendars are skipped.
type WindowQuery struct {
	Begin          time.Time
	End            time.Time
	ExceptionSlack time.Duration
}

// FamilyQuery selects every event of one recurrence family.
type FamilyQuery struct {
	Family RecurrenceFamily
}

func (WindowQuery) candidateQuery() {}
func (FamilyQuery) candidateQuery() {}

// InstanceTx is the transactional surface consumed by instance expansion.
type InstanceTx interface {
	FetchCandidateEntries(ctx context.Context, q CandidateQuery) ([]CandidateEntry, error)
	DeleteAllInstances(ctx context.Context) error
	DeleteInstancesByEvent(ctx context.Context, eventID int64) error
	DeleteInstancesByFamily(ctx context.Context, family RecurrenceFamily) error
	// UpsertInstances replaces rows that share (EventID, Begin, End).
	UpsertInstances(ctx context.Context, instances []Instance) error
	GetExpansionWindow(ctx context.Context) (ExpansionWindow, error)
	PutExpansionWindow(ctx context.Context, w ExpansionWindow) error
}

type EventTx interface {
	InsertEvent(ctx context.Context, ev *Event) (int64, error)
	UpdateEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id int64) (*Event, error)
	// DeleteEvent removes the row and its instances.
	DeleteEvent(ctx context.Context, id int64) error
	ListExceptions(ctx context.Context, family RecurrenceFamily) ([]*Event, error)
	ListInstances(ctx context.Context, begin, end time.Time) ([]Instance, error)
	ListInstancesByDay(ctx context.Context, startDay, endDay int) ([]Instance, error)
}

type CalendarTx interface {
	CreateCalendar(ctx context.Context, c *Calendar) (int64, error)
	GetCalendar(ctx context.Context, id int64) (*Calendar, error)
	ListCalendars(ctx context.Context) ([]*Calendar, error)
	SetCalendarSyncEvents(ctx context.Context, id int64, sync bool) error
}

type Tx interface {
	InstanceTx
	EventTx
	CalendarTx
}

type Store interface {
	// WithTx runs fn in a single write transaction. Nothing fn wrote is
	// visible if it returns an error or the commit fails.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// SyncIDKey qualifies a sync id with its calendar so that equal sync ids in
// different calendars never match.
func SyncIDKey(calendarID int64, syncID string) string {
	return strconv.FormatInt(calendarID, 10) + ":" + syncID
}

// LocalKey is the family key of an event that has no sync id yet.
func LocalKey(calendarID, eventID int64) string {
	return strconv.FormatInt(calendarID, 10) + ":#" + strconv.FormatInt(eventID, 10)
}
