package storage

import (
	"slices"
	"time"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/recurrence"
)

// TimeRange restricts a listing to items with an instance in [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Filter selects calendar items for ListCalendarItems. The zero value matches
// every item.
type Filter struct {
	FolderID  int64             // 0 for all folders
	Types     []invite.ItemType // empty for all types
	TimeRange *TimeRange
}

// Match reports whether ci passes the filter. Time ranges are evaluated by
// expanding the item with engine.
func (f *Filter) Match(ci *CalendarItem, engine *recurrence.Engine) (bool, error) {
	if f == nil {
		return true, nil
	}
	if f.FolderID != 0 && ci.FolderID != f.FolderID {
		return false, nil
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ci.Type) {
		return false, nil
	}
	if f.TimeRange == nil {
		return true, nil
	}
	series, exceptions, cancellations := recurrence.Group(ci.InviteList())
	return engine.HasOccurrenceInRange(series, exceptions, cancellations, f.TimeRange.Start, f.TimeRange.End)
}
