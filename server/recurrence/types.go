package recurrence

import (
	"time"

	"github.com/cyp0633/calsched/server/invite"
)

// Instance is one occurrence produced by an expansion. Instances are never
// stored; they are recomputed for every query.
type Instance struct {
	Start       time.Time // Zero for an open placeholder without concrete start
	End         time.Time
	StartOffset int // Seconds east of UTC at Start
	EndOffset   int // Seconds east of UTC at End
	AllDay      bool
	IsException bool           // True if an exception invite produced this instance
	Invite      *invite.Invite // Invite that produced the instance
	RecurID     string         // Recurrence identity handed back to clients, empty for non-recurring items
}

// HasStart reports whether the instance has a concrete start.
func (i Instance) HasStart() bool {
	return !i.Start.IsZero()
}

// Overlaps reports whether the instance falls into [rangeStart, rangeEnd).
// Instances without start always do.
func (i Instance) Overlaps(rangeStart, rangeEnd time.Time) bool {
	if !i.HasStart() {
		return true
	}
	return i.Start.Before(rangeEnd) && i.End.After(rangeStart)
}

// ExpansionOptions controls how recurrence expansion behaves
type ExpansionOptions struct {
	MaxOccurrences int           // Maximum number of instances returned per expansion (0 = unlimited)
	MaxTimeSpan    time.Duration // Maximum query window (0 = unlimited)
}

// DefaultExpansionOptions provides sensible defaults for expansion
var DefaultExpansionOptions = ExpansionOptions{
	MaxOccurrences: 1000,
	MaxTimeSpan:    365 * 24 * time.Hour * 2, // 2 years
}

func newInstance(inv *invite.Invite, start, end time.Time, rid string, exception bool) Instance {
	in := Instance{
		Start:       start,
		End:         end,
		AllDay:      inv.AllDay,
		IsException: exception,
		Invite:      inv,
		RecurID:     rid,
	}
	if !start.IsZero() {
		_, in.StartOffset = start.Zone()
	}
	if !end.IsZero() {
		_, in.EndOffset = end.Zone()
	}
	return in
}
