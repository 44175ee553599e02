package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/teambition/rrule-go"
)

// Engine expands recurring invites into instances. It holds no per-query
// state; the optional cache only memoizes results for identical inputs.
type Engine struct {
	cache  *RecurrenceCache
	config EngineConfig
}

// NewEngine creates an engine without cache using the default limits.
func NewEngine() *Engine {
	return NewEngineWithConfig(DisabledCacheConfig)
}

// Close releases the cache, if any.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// CacheStats returns statistics of the engine cache. The zero value is
// returned for engines without cache.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}

// Expand returns the instances of a calendar item overlapping [rangeStart,
// rangeEnd), sorted ascending by start. Instances without start sort first.
//
// series may be nil, and may lack a rule: then its own occurrence and the
// exceptions are evaluated directly against the range. Exceptions replace the
// occurrence with the same recurrence identity; cancellations and series
// EXDATEs remove it.
func (e *Engine) Expand(series *invite.Invite, exceptions, cancellations []*invite.Invite, rangeStart, rangeEnd time.Time) ([]Instance, error) {
	if !rangeEnd.After(rangeStart) {
		return nil, fault.Invalid("empty range %s - %s", rangeStart, rangeEnd)
	}
	if span := e.config.Expansion.MaxTimeSpan; span > 0 && rangeEnd.Sub(rangeStart) > span {
		return nil, fault.Invalid("range exceeds %s", span)
	}

	var key string
	if e.cache != nil {
		key = fingerprint("expand", series, exceptions, cancellations, rangeStart, rangeEnd)
		if v, ok := e.cache.Get(key); ok {
			return append([]Instance(nil), v.([]Instance)...), nil
		}
	}

	l, err := e.expand(series, exceptions, cancellations, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, append([]Instance(nil), l...))
	}
	return l, nil
}

func (e *Engine) expand(series *invite.Invite, exceptions, cancellations []*invite.Invite, rangeStart, rangeEnd time.Time) ([]Instance, error) {
	cancelled := map[string]bool{}
	for _, c := range cancellations {
		cancelled[c.SlotKey()] = true
	}
	overrides := map[string]*invite.Invite{}
	for _, x := range exceptions {
		k := x.SlotKey()
		if k == "" || cancelled[k] {
			continue
		}
		overrides[k] = x
	}
	used := map[string]bool{}

	var out []Instance
	add := func(in Instance) {
		if in.Overlaps(rangeStart, rangeEnd) {
			out = append(out, in)
		}
	}

	switch {
	case series != nil && series.IsRecurring():
		if !series.HasStart() {
			return nil, fault.Invalid("recurring series %s without start", series.UID)
		}
		starts, err := e.occurrences(series, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		excluded := map[string]bool{}
		for _, t := range series.ExDates {
			excluded[invite.RecurKey(t, series.AllDay)] = true
		}
		for _, t := range starts {
			k := invite.RecurKey(t, series.AllDay)
			if excluded[k] || cancelled[k] {
				continue
			}
			if x, ok := overrides[k]; ok {
				used[k] = true
				add(newInstance(x, x.Start, x.EffectiveEnd(), k, true))
				continue
			}
			add(newInstance(series, t, series.EndFor(t), k, false))
		}

	case series != nil:
		if !series.HasStart() {
			add(newInstance(series, time.Time{}, time.Time{}, "", false))
			break
		}
		k := invite.RecurKey(series.Start, series.AllDay)
		if !cancelled[k] && overrides[k] == nil {
			add(newInstance(series, series.Start, series.EffectiveEnd(), "", false))
		}
	}

	// Exceptions whose original occurrence was not generated in the window,
	// e.g. moved into it from elsewhere, or items without a series rule.
	for _, x := range exceptions {
		k := x.SlotKey()
		if used[k] || overrides[k] != x {
			continue
		}
		used[k] = true
		if !x.HasStart() {
			add(newInstance(x, time.Time{}, time.Time{}, k, true))
			continue
		}
		add(newInstance(x, x.Start, x.EffectiveEnd(), k, true))
	}

	sortInstances(out)
	if limit := e.config.Expansion.MaxOccurrences; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// occurrences returns the original starts of the series that can overlap the
// range. DTSTART always counts as an occurrence.
func (e *Engine) occurrences(series *invite.Invite, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	var set rrule.Set
	if series.Rule != "" {
		r, err := rrule.StrToRRule(series.Rule)
		if err != nil {
			return nil, fault.Wrap(fault.TypeInvalidRequest, err, "failed to parse RRULE %q", series.Rule)
		}
		r.DTStart(series.Start)
		set.RRule(r)
	}
	set.RDate(series.Start)
	for _, t := range series.RDates {
		set.RDate(t.In(series.Start.Location()))
	}

	// Occurrences starting before the range may still reach into it.
	lookback := series.EndFor(series.Start).Sub(series.Start) + time.Hour
	from := rangeStart.Add(-lookback).In(series.Start.Location())
	to := rangeEnd.In(series.Start.Location())

	seen := map[int64]bool{}
	var l []time.Time
	for _, t := range set.Between(from, to, true) {
		if seen[t.Unix()] {
			continue
		}
		seen[t.Unix()] = true
		l = append(l, t)
	}
	return l, nil
}

func sortInstances(l []Instance) {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := l[i], l[j]
		if !a.HasStart() || !b.HasStart() {
			return !a.HasStart() && b.HasStart()
		}
		return a.Start.Before(b.Start)
	})
}

// OccursAfter reports whether an occurrence starting at start lies after t.
// All-day occurrences are compared against t minus 24 hours, absorbing the
// skew between server and client day boundaries.
func OccursAfter(start time.Time, allDay bool, t time.Time) bool {
	if allDay {
		t = t.Add(-24 * time.Hour)
	}
	return start.After(t)
}

// HasOccurrenceInRange checks whether the item has any instance in the range.
// Large ranges are first checked against a limited window.
func (e *Engine) HasOccurrenceInRange(series *invite.Invite, exceptions, cancellations []*invite.Invite, rangeStart, rangeEnd time.Time) (bool, error) {
	var key string
	if e.cache != nil {
		key = fingerprint("has", series, exceptions, cancellations, rangeStart, rangeEnd)
		if v, ok := e.cache.Get(key); ok {
			return v.(bool), nil
		}
	}

	found, err := e.hasOccurrence(series, exceptions, cancellations, rangeStart, rangeEnd)
	if err != nil {
		return false, fmt.Errorf("failed to check occurrences: %w", err)
	}
	if e.cache != nil {
		e.cache.Set(key, found)
	}
	return found, nil
}

func (e *Engine) hasOccurrence(series *invite.Invite, exceptions, cancellations []*invite.Invite, rangeStart, rangeEnd time.Time) (bool, error) {
	// Plain expansion windows are bounded by MaxTimeSpan; probing walks the
	// range in chunks instead.
	step := rangeEnd.Sub(rangeStart)
	if e.config.LargeRangeThreshold > 0 && step > e.config.LargeRangeThreshold {
		step = e.config.LargeRangeLimit
	}
	if span := e.config.Expansion.MaxTimeSpan; span > 0 && step > span {
		step = span
	}
	if step <= 0 {
		step = rangeEnd.Sub(rangeStart)
	}
	for from := rangeStart; from.Before(rangeEnd); from = from.Add(step) {
		to := from.Add(step)
		if to.After(rangeEnd) {
			to = rangeEnd
		}
		l, err := e.expand(series, exceptions, cancellations, from, to)
		if err != nil {
			return false, err
		}
		if len(l) > 0 {
			return true, nil
		}
	}
	return false, nil
}
