package invite

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

const (
	dateFormat        = "20060102"
	dateTimeFormat    = "20060102T150405"
	dateTimeFormatUTC = "20060102T150405Z"
)

// Range is the RANGE marker of a recurrence identity.
type Range int

const (
	RangeThisOnly Range = iota
	RangeThisAndFuture
	RangeThisAndPrior
)

func (r Range) String() string {
	switch r {
	case RangeThisAndFuture:
		return "THISANDFUTURE"
	case RangeThisAndPrior:
		return "THISANDPRIOR"
	default:
		return ""
	}
}

func parseRange(s string) Range {
	switch strings.ToUpper(s) {
	case "THISANDFUTURE":
		return RangeThisAndFuture
	case "THISANDPRIOR":
		return RangeThisAndPrior
	default:
		return RangeThisOnly
	}
}

// RecurID identifies one occurrence of a recurring series by its original start.
type RecurID struct {
	Time   time.Time
	AllDay bool
	Range  Range
}

// NewRecurID returns the recurrence identity of the occurrence originally starting at t.
func NewRecurID(t time.Time, allDay bool) RecurID {
	if allDay {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return RecurID{Time: t, AllDay: allDay}
}

// IsZero reports whether r is unset.
func (r RecurID) IsZero() bool {
	return r.Time.IsZero()
}

// Key is the canonical form used to match occurrences. Timed identities are
// compared as UTC instants, all-day identities as calendar dates.
func (r RecurID) Key() string {
	return RecurKey(r.Time, r.AllDay)
}

// String returns the identifier handed to clients; ParseRecurID reverses it.
func (r RecurID) String() string {
	return r.Key()
}

// Equal reports whether both identities name the same occurrence.
func (r RecurID) Equal(o RecurID) bool {
	return r.Key() == o.Key()
}

// RecurKey computes the occurrence key for a start time.
func RecurKey(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(dateFormat)
	}
	return t.UTC().Format(dateTimeFormatUTC)
}

// ParseRecurID parses a client supplied identity. Floating values are
// interpreted in loc.
func ParseRecurID(s string, loc *time.Location) (RecurID, error) {
	p := ical.NewProp(ical.PropRecurrenceID)
	p.Value = strings.TrimSpace(s)
	t, allDay, err := propDateTime(p, loc)
	if err != nil {
		return RecurID{}, fmt.Errorf("parsing recurrence id %q: %w", s, err)
	}
	return RecurID{Time: t, AllDay: allDay}, nil
}

// KindTag discriminates the Kind variant.
type KindTag int

const (
	KindSeries KindTag = iota
	KindException
	KindCancellation
)

func (t KindTag) String() string {
	switch t {
	case KindException:
		return "exception"
	case KindCancellation:
		return "cancellation"
	default:
		return "series"
	}
}

// Kind says which slot of a calendar item an invite occupies. Only exceptions
// and cancellations carry a recurrence identity.
type Kind struct {
	tag KindTag
	rid RecurID
}

// Series is the kind of the default invite.
func Series() Kind {
	return Kind{tag: KindSeries}
}

// Exception is the kind of a modified single occurrence.
func Exception(rid RecurID) Kind {
	return Kind{tag: KindException, rid: rid}
}

// Cancellation is the kind of a cancelled single occurrence.
func Cancellation(rid RecurID) Kind {
	return Kind{tag: KindCancellation, rid: rid}
}

func (k Kind) Tag() KindTag { return k.tag }

func (k Kind) IsSeries() bool { return k.tag == KindSeries }

func (k Kind) IsException() bool { return k.tag == KindException }

func (k Kind) IsCancellation() bool { return k.tag == KindCancellation }

// RecurID returns the recurrence identity, absent for the series.
func (k Kind) RecurID() mo.Option[RecurID] {
	if k.tag == KindSeries {
		return mo.None[RecurID]()
	}
	return mo.Some(k.rid)
}

// SlotKey is the key under which the invite is stored in its calendar item.
// The series uses the empty key.
func (k Kind) SlotKey() string {
	if k.tag == KindSeries {
		return ""
	}
	return k.rid.Key()
}

func (k Kind) String() string {
	if k.tag == KindSeries {
		return k.tag.String()
	}
	return k.tag.String() + "(" + k.rid.Key() + ")"
}
