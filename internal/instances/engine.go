// Package instances materializes the occurrences of calendar events into the
// instances table and keeps the expanded window up to date.
package instances

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/pkg/duration"
	"github.com/sonroyaalmerol/calinstances/pkg/recurrence"
	"github.com/sonroyaalmerol/calinstances/pkg/timefields"
)

// Expander turns candidate entries into instance rows.
type Expander struct {
	evaluator recurrence.Evaluator
	locations *Locations
	logger    zerolog.Logger
}

func NewExpander(evaluator recurrence.Evaluator, locations *Locations, logger zerolog.Logger) *Expander {
	return &Expander{evaluator: evaluator, locations: locations, logger: logger}
}

// pending is an instance plus the bookkeeping needed until emission.
type pending struct {
	instance storage.Instance

	// set for recurrence exceptions
	originalKey          string
	originalInstanceTime time.Time
	isException          bool

	canceled bool
	deleted  bool
}

// expansion accumulates instances per recurrence family key.
type expansion struct {
	byKey map[string][]*pending
	// local key -> primary key, so exceptions that only know the base's
	// local id find a base that has a sync id.
	aliases map[string]string
}

// Expand returns the instances of entries that start within [begin, end].
// Instance day and minute fields are computed in display, except for all-day
// events which always use UTC. Problems with a single entry are logged and
// the entry is skipped.
func (x *Expander) Expand(begin, end time.Time, display *time.Location, entries []storage.CandidateEntry) []storage.Instance {
	if display == nil {
		display = time.UTC
	}
	exp := &expansion{
		byKey:   make(map[string][]*pending),
		aliases: make(map[string]string),
	}

	for i := range entries {
		x.expandEntry(exp, &entries[i], begin, end, display)
	}

	exp.applyExceptions()
	return exp.emit()
}

func familyKey(e *storage.CandidateEntry) string {
	if sid := e.SyncID.OrEmpty(); sid != "" {
		return storage.SyncIDKey(e.CalendarID, sid)
	}
	return storage.LocalKey(e.CalendarID, e.ID)
}

func originalKey(e *storage.CandidateEntry) string {
	if sid := e.OriginalSyncID.OrEmpty(); sid != "" {
		return storage.SyncIDKey(e.CalendarID, sid)
	}
	return storage.LocalKey(e.CalendarID, e.OriginalID.OrEmpty())
}

// ruleLocation is the zone recurrence rules are evaluated in.
func (x *Expander) ruleLocation(e *storage.CandidateEntry) *time.Location {
	if e.AllDay || e.Timezone == "" {
		return time.UTC
	}
	loc, err := x.locations.Load(e.Timezone)
	if err != nil {
		x.logger.Warn().
			Err(err).
			Int64("event_id", e.ID).
			Str("timezone", e.Timezone).
			Msg("unknown event timezone, evaluating in UTC")
		return time.UTC
	}
	return loc
}

func (x *Expander) parseDuration(e *storage.CandidateEntry) (duration.Duration, bool) {
	text, ok := e.Duration.Get()
	if !ok || text == "" {
		return duration.Zero, false
	}
	d, err := duration.Parse(text)
	if err != nil {
		x.logger.Warn().
			Err(err).
			Int64("event_id", e.ID).
			Msg("bad duration, treating event as zero length")
		return duration.Zero, true
	}
	return d, true
}

func (x *Expander) expandEntry(exp *expansion, e *storage.CandidateEntry, begin, end time.Time, display *time.Location) {
	key := familyKey(e)
	exp.aliases[storage.LocalKey(e.CalendarID, e.ID)] = key

	fieldLoc := display
	if e.AllDay {
		fieldLoc = time.UTC
	}
	dur, hasDuration := x.parseDuration(e)

	if e.IsRecurring() {
		if e.Status == storage.StatusCanceled {
			x.logger.Warn().
				Int64("event_id", e.ID).
				Str("sync_id", e.SyncID.OrEmpty()).
				Msg("canceled recurring event, not expanding")
			return
		}
		if e.Deleted {
			return
		}

		if !hasDuration {
			switch {
			case e.AllDay:
				dur = duration.Days(1)
			case e.DTEnd.IsPresent():
				dur = duration.Between(e.DTStart, e.DTEnd.MustGet())
			}
		}

		anchor := recurrence.Anchor{Start: e.DTStart.In(x.ruleLocation(e)), AllDay: e.AllDay}
		rules := recurrence.Rules{RRule: e.RRule, RDate: e.RDate, ExRule: e.ExRule, ExDate: e.ExDate}
		starts, err := x.evaluator.Expand(anchor, rules, begin, end)
		if err != nil {
			ev := x.logger.Warn().Err(err).Int64("event_id", e.ID)
			var rpe *recurrence.RuleParseError
			if errors.As(err, &rpe) {
				ev = ev.Str("field", rpe.Field)
			}
			ev.Msg("failed to expand recurrence, skipping event")
			return
		}

		for _, start := range starts {
			start = start.UTC()
			stop := dur.AddTo(start)
			exp.add(key, &pending{instance: newInstance(e.ID, start, stop, fieldLoc)})
		}
		return
	}

	start := e.DTStart.UTC()
	var stop time.Time
	switch {
	case e.DTEnd.IsPresent():
		stop = e.DTEnd.MustGet().UTC()
	case hasDuration:
		stop = dur.AddTo(start)
	default:
		stop = start
	}

	p := &pending{
		instance: newInstance(e.ID, start, stop, fieldLoc),
		canceled: e.Status == storage.StatusCanceled,
		deleted:  e.Deleted,
	}
	if e.IsException() {
		p.isException = true
		p.originalKey = originalKey(e)
		p.originalInstanceTime = e.OriginalInstanceTime.MustGet().UTC()
	}

	// Exceptions are fetched when their original time is in the window even
	// if they moved out of it; they then only cancel the original.
	if stop.Before(begin) || start.After(end) {
		if !p.isException {
			x.logger.Error().
				Int64("event_id", e.ID).
				Str("sync_id", e.SyncID.OrEmpty()).
				Time("begin", start).
				Time("end", stop).
				Msg("unexpected event outside expansion window")
			return
		}
		p.canceled = true
	}
	exp.add(key, p)
}

func newInstance(eventID int64, begin, end time.Time, loc *time.Location) storage.Instance {
	f := timefields.Compute(begin, end, loc)
	return storage.Instance{
		EventID:     eventID,
		Begin:       begin,
		End:         end,
		StartDay:    f.StartDay,
		EndDay:      f.EndDay,
		StartMinute: f.StartMinute,
		EndMinute:   f.EndMinute,
	}
}

func (exp *expansion) add(key string, p *pending) {
	exp.byKey[key] = append(exp.byKey[key], p)
}

// applyExceptions removes every base occurrence that an exception replaces.
// It must see all entries first since exceptions may precede their base.
func (exp *expansion) applyExceptions() {
	for _, list := range exp.byKey {
		for _, p := range list {
			if !p.isException {
				continue
			}
			exp.removeOccurrence(p.originalKey, p.originalInstanceTime)
		}
	}
}

func (exp *expansion) removeOccurrence(key string, at time.Time) {
	list, ok := exp.byKey[key]
	if !ok {
		primary, aliased := exp.aliases[key]
		if !aliased {
			return
		}
		key = primary
		if list, ok = exp.byKey[key]; !ok {
			return
		}
	}
	for i, p := range list {
		if !p.isException && p.instance.Begin.Equal(at) {
			exp.byKey[key] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (exp *expansion) emit() []storage.Instance {
	var out []storage.Instance
	for _, list := range exp.byKey {
		for _, p := range list {
			if p.canceled || p.deleted {
				continue
			}
			out = append(out, p.instance)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Begin.Equal(out[j].Begin) {
			return out[i].Begin.Before(out[j].Begin)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}
