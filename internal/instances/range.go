package instances

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/pkg/duration"
)

const (
	DefaultMinExpansionSpan = 2 * 31 * 24 * time.Hour
	DefaultMaxExceptionSpan = 7 * 24 * time.Hour
)

type Options struct {
	// MinExpansionSpan is the smallest range expanded when the caller asks
	// for the minimum span.
	MinExpansionSpan time.Duration
	// MaxExceptionSpan is how far before the window an exception's original
	// time may lie and still affect instances inside it.
	MaxExceptionSpan time.Duration
}

// RangeManager owns the expanded window. All methods must be called inside
// the transaction that also writes the instances.
type RangeManager struct {
	expander  *Expander
	locations *Locations
	opts      Options
	logger    zerolog.Logger
}

func NewRangeManager(expander *Expander, locations *Locations, opts Options, logger zerolog.Logger) *RangeManager {
	if opts.MinExpansionSpan <= 0 {
		opts.MinExpansionSpan = DefaultMinExpansionSpan
	}
	if opts.MaxExceptionSpan <= 0 {
		opts.MaxExceptionSpan = DefaultMaxExceptionSpan
	}
	return &RangeManager{expander: expander, locations: locations, opts: opts, logger: logger}
}

// EnsureRange makes sure every instance in [begin, end] is materialized in
// timezone. A timezone change, an empty window or forceRebuild discards all
// instances and expands from scratch.
func (m *RangeManager) EnsureRange(ctx context.Context, tx storage.InstanceTx, begin, end time.Time, useMinimumSpan, forceRebuild bool, timezone string) error {
	if end.Before(begin) {
		return fmt.Errorf("invalid range: end %s before begin %s", end, begin)
	}
	display, err := m.locations.Load(timezone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}

	expandBegin, expandEnd := begin, end
	if span := end.Sub(begin); useMinimumSpan && span < m.opts.MinExpansionSpan {
		pad := (m.opts.MinExpansionSpan - span) / 2
		expandBegin = begin.Add(-pad)
		expandEnd = end.Add(pad)
	}

	w, err := tx.GetExpansionWindow(ctx)
	if err != nil {
		return fmt.Errorf("failed to read expansion window: %w", err)
	}

	if forceRebuild || !w.Expanded() || w.Timezone != timezone {
		m.logger.Debug().
			Bool("forced", forceRebuild).
			Str("old_timezone", w.Timezone).
			Str("timezone", timezone).
			Time("begin", expandBegin).
			Time("end", expandEnd).
			Msg("rebuilding instances")

		if err := tx.DeleteAllInstances(ctx); err != nil {
			return fmt.Errorf("failed to clear instances: %w", err)
		}
		if err := m.expandRange(ctx, tx, expandBegin, expandEnd, display); err != nil {
			return err
		}
		return m.putWindow(ctx, tx, storage.ExpansionWindow{
			Timezone:   timezone,
			MinInstant: expandBegin,
			MaxInstant: expandEnd,
		})
	}

	if !begin.Before(w.MinInstant) && !end.After(w.MaxInstant) {
		return nil
	}

	// Extending from the old bound keeps the window contiguous even when the
	// request does not touch it.
	if begin.Before(w.MinInstant) {
		m.logger.Debug().Time("from", expandBegin).Time("to", w.MinInstant).Msg("extending window backwards")
		if err := m.expandRange(ctx, tx, expandBegin, w.MinInstant, display); err != nil {
			return err
		}
		w.MinInstant = expandBegin
	}
	if end.After(w.MaxInstant) {
		m.logger.Debug().Time("from", w.MaxInstant).Time("to", expandEnd).Msg("extending window forwards")
		if err := m.expandRange(ctx, tx, w.MaxInstant, expandEnd, display); err != nil {
			return err
		}
		w.MaxInstant = expandEnd
	}
	return m.putWindow(ctx, tx, w)
}

func (m *RangeManager) putWindow(ctx context.Context, tx storage.InstanceTx, w storage.ExpansionWindow) error {
	if err := tx.PutExpansionWindow(ctx, w); err != nil {
		return fmt.Errorf("failed to write expansion window: %w", err)
	}
	return nil
}

func (m *RangeManager) expandRange(ctx context.Context, tx storage.InstanceTx, begin, end time.Time, display *time.Location) error {
	entries, err := tx.FetchCandidateEntries(ctx, storage.WindowQuery{
		Begin:          begin,
		End:            end,
		ExceptionSlack: m.opts.MaxExceptionSpan,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch candidate entries: %w", err)
	}
	instances := m.expander.Expand(begin, end, display, entries)
	if err := tx.UpsertInstances(ctx, instances); err != nil {
		return fmt.Errorf("failed to write instances: %w", err)
	}
	m.logger.Debug().
		Int("entries", len(entries)).
		Int("instances", len(instances)).
		Msg("expanded range")
	return nil
}

// ReexpandRecurrence refreshes the instances of the recurrence family ev
// belongs to, ev being a base recurrence or one of its exceptions stored
// under eventID. Nothing is expanded unless ev's span intersects the window
// or, for an exception, its original time is within the exception slack of
// it; ev's own stale rows are dropped either way.
func (m *RangeManager) ReexpandRecurrence(ctx context.Context, tx storage.InstanceTx, ev *storage.Event, eventID int64) error {
	w, err := tx.GetExpansionWindow(ctx)
	if err != nil {
		return fmt.Errorf("failed to read expansion window: %w", err)
	}
	if !w.Expanded() {
		return nil
	}

	if !m.affectsWindow(ev, w) {
		return tx.DeleteInstancesByEvent(ctx, eventID)
	}

	e := *ev
	e.ID = eventID
	return m.refreshFamily(ctx, tx, e.Family(), w)
}

// RefreshFamily re-expands one family over the cached window. Used after a
// family member was removed.
func (m *RangeManager) RefreshFamily(ctx context.Context, tx storage.InstanceTx, family storage.RecurrenceFamily) error {
	w, err := tx.GetExpansionWindow(ctx)
	if err != nil {
		return fmt.Errorf("failed to read expansion window: %w", err)
	}
	if !w.Expanded() {
		return nil
	}
	return m.refreshFamily(ctx, tx, family, w)
}

func (m *RangeManager) refreshFamily(ctx context.Context, tx storage.InstanceTx, family storage.RecurrenceFamily, w storage.ExpansionWindow) error {
	display, err := m.locations.Load(w.Timezone)
	if err != nil {
		return fmt.Errorf("unknown window timezone %q: %w", w.Timezone, err)
	}
	family, err = resolveFamily(ctx, tx, family)
	if err != nil {
		return err
	}
	if err := tx.DeleteInstancesByFamily(ctx, family); err != nil {
		return fmt.Errorf("failed to delete family instances: %w", err)
	}
	entries, err := tx.FetchCandidateEntries(ctx, storage.FamilyQuery{Family: family})
	if err != nil {
		return fmt.Errorf("failed to fetch family entries: %w", err)
	}
	instances := m.expander.Expand(w.MinInstant, w.MaxInstant, display, entries)
	if err := tx.UpsertInstances(ctx, instances); err != nil {
		return fmt.Errorf("failed to write instances: %w", err)
	}
	m.logger.Debug().
		Int64("calendar_id", family.CalendarID).
		Str("sync_id", family.SyncID.OrEmpty()).
		Int64("local_id", family.LocalID).
		Int("instances", len(instances)).
		Msg("re-expanded recurrence")
	return nil
}

// resolveFamily fills in the base event's sync id and local id. An
// exception may name its base by either one, so a family known by a single
// key would miss the siblings linked by the other.
func resolveFamily(ctx context.Context, tx storage.InstanceTx, family storage.RecurrenceFamily) (storage.RecurrenceFamily, error) {
	entries, err := tx.FetchCandidateEntries(ctx, storage.FamilyQuery{Family: family})
	if err != nil {
		return family, fmt.Errorf("failed to resolve recurrence family: %w", err)
	}
	for _, e := range entries {
		if e.IsException() {
			continue
		}
		if sid, ok := family.SyncID.Get(); ok && e.SyncID.OrEmpty() != sid {
			continue
		}
		if !family.SyncID.IsPresent() && e.ID != family.LocalID {
			continue
		}
		resolved := storage.RecurrenceFamily{CalendarID: e.CalendarID, LocalID: e.ID}
		if sid := e.SyncID.OrEmpty(); sid != "" {
			resolved.SyncID = mo.Some(sid)
		}
		return resolved, nil
	}
	return family, nil
}

func (m *RangeManager) affectsWindow(ev *storage.Event, w storage.ExpansionWindow) bool {
	inside := !ev.DTStart.After(w.MaxInstant)
	if last, ok := ev.LastDate.Get(); ok && last.Before(w.MinInstant) {
		inside = false
	}
	if inside {
		return true
	}
	oit, ok := ev.OriginalInstanceTime.Get()
	if !ok || !ev.IsException() {
		return false
	}
	return !oit.Before(w.MinInstant.Add(-m.opts.MaxExceptionSpan)) && !oit.After(w.MaxInstant)
}

// UpdateInstances brings the instances of a just written event in line with
// it. Recurrences and exceptions go through ReexpandRecurrence, other events
// get their single instance replaced when it intersects the window.
func (m *RangeManager) UpdateInstances(ctx context.Context, tx storage.InstanceTx, ev *storage.Event, eventID int64) error {
	if ev.IsRecurring() || ev.IsException() {
		return m.ReexpandRecurrence(ctx, tx, ev, eventID)
	}

	if err := tx.DeleteInstancesByEvent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to delete event instances: %w", err)
	}
	if ev.Deleted || ev.Status == storage.StatusCanceled {
		return nil
	}

	w, err := tx.GetExpansionWindow(ctx)
	if err != nil {
		return fmt.Errorf("failed to read expansion window: %w", err)
	}
	if !w.Expanded() {
		return nil
	}

	begin := ev.DTStart.UTC()
	end := EventEnd(ev, m.logger)
	if begin.After(w.MaxInstant) || end.Before(w.MinInstant) {
		return nil
	}

	// Only events of calendars that window expansion reads get a row.
	self := *ev
	self.ID = eventID
	entries, err := tx.FetchCandidateEntries(ctx, storage.FamilyQuery{Family: self.Family()})
	if err != nil {
		return fmt.Errorf("failed to fetch event entry: %w", err)
	}
	if !slices.ContainsFunc(entries, func(e storage.CandidateEntry) bool { return e.ID == eventID }) {
		return nil
	}

	loc := time.UTC
	if !ev.AllDay {
		if loc, err = m.locations.Load(w.Timezone); err != nil {
			return fmt.Errorf("unknown window timezone %q: %w", w.Timezone, err)
		}
	}
	return tx.UpsertInstances(ctx, []storage.Instance{newInstance(eventID, begin, end, loc)})
}

// EventEnd is the end of a single occurrence of a non-recurring event.
func EventEnd(ev *storage.Event, logger zerolog.Logger) time.Time {
	start := ev.DTStart.UTC()
	if end, ok := ev.DTEnd.Get(); ok {
		return end.UTC()
	}
	if text := ev.Duration.OrEmpty(); text != "" {
		d, err := duration.Parse(text)
		if err != nil {
			logger.Warn().Err(err).Int64("event_id", ev.ID).Msg("bad duration, treating event as zero length")
			return start
		}
		return d.AddTo(start)
	}
	return start
}
