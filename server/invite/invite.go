// Package invite models one revision of a calendar component. Invites are
// values: every modifying helper returns a new Invite and leaves the receiver
// untouched, so a stored invite can be shared between goroutines.
package invite

import (
	"time"

	"github.com/samber/mo"
)

// Method is the iTIP method of an invite.
type Method string

const (
	MethodPublish        Method = "PUBLISH"
	MethodRequest        Method = "REQUEST"
	MethodReply          Method = "REPLY"
	MethodCancel         Method = "CANCEL"
	MethodCounter        Method = "COUNTER"
	MethodDeclineCounter Method = "DECLINECOUNTER"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodPublish, MethodRequest, MethodReply, MethodCancel, MethodCounter, MethodDeclineCounter:
		return true
	}
	return false
}

// ItemType is the component type of an invite.
type ItemType int

const (
	TypeEvent ItemType = iota
	TypeTodo
)

func (t ItemType) String() string {
	if t == TypeTodo {
		return "VTODO"
	}
	return "VEVENT"
}

// PartStat is an attendee participation status.
type PartStat string

const (
	PartStatNeedsAction PartStat = "NEEDS-ACTION"
	PartStatAccepted    PartStat = "ACCEPTED"
	PartStatDeclined    PartStat = "DECLINED"
	PartStatTentative   PartStat = "TENTATIVE"
	PartStatDelegated   PartStat = "DELEGATED"
)

// Role is an attendee role.
type Role string

const (
	RoleRequired    Role = "REQ-PARTICIPANT"
	RoleOptional    Role = "OPT-PARTICIPANT"
	RoleNonPart     Role = "NON-PARTICIPANT"
	RoleChair       Role = "CHAIR"
	defaultAttendee      = RoleRequired
)

// Organizer of a meeting.
type Organizer struct {
	Address string
	Name    string
	SentBy  string
}

// Attendee of a meeting.
type Attendee struct {
	Address  string
	Name     string
	Role     Role
	PartStat PartStat
	RSVP     bool
	SentBy   string
}

// Alarm is a reminder relative to the start of an occurrence.
type Alarm struct {
	Trigger time.Duration // Negative values fire before the start.
	Action  string
}

// Invite is one revision of an event or task, either the series (default)
// invite or an exception/cancellation of one occurrence.
type Invite struct {
	UID       string
	Kind      Kind
	Type      ItemType
	Method    Method
	Organizer mo.Option[Organizer]
	Attendees []Attendee

	// Start is zero for components without a start, e.g. undated tasks.
	Start    time.Time
	End      time.Time
	Duration time.Duration
	AllDay   bool

	// Recurrence, only meaningful on the series invite.
	Rule    string
	RDates  []time.Time
	ExDates []time.Time

	Sequence int
	DTStamp  time.Time

	Summary     string
	Description string
	Location    string
	Status      string
	Alarms      []Alarm

	Draft     bool
	NeverSent bool
}

// Clone returns a deep copy.
func (inv Invite) Clone() Invite {
	n := inv
	n.Attendees = append([]Attendee(nil), inv.Attendees...)
	n.RDates = append([]time.Time(nil), inv.RDates...)
	n.ExDates = append([]time.Time(nil), inv.ExDates...)
	n.Alarms = append([]Alarm(nil), inv.Alarms...)
	return n
}

func (inv Invite) WithMethod(m Method) Invite {
	n := inv.Clone()
	n.Method = m
	return n
}

func (inv Invite) WithKind(k Kind) Invite {
	n := inv.Clone()
	n.Kind = k
	if !k.IsSeries() {
		n.Rule = ""
		n.RDates = nil
		n.ExDates = nil
	}
	return n
}

func (inv Invite) WithOrganizer(o Organizer) Invite {
	n := inv.Clone()
	n.Organizer = mo.Some(o)
	return n
}

func (inv Invite) WithoutOrganizer() Invite {
	n := inv.Clone()
	n.Organizer = mo.None[Organizer]()
	return n
}

func (inv Invite) WithAttendees(l []Attendee) Invite {
	n := inv.Clone()
	n.Attendees = append([]Attendee(nil), l...)
	return n
}

func (inv Invite) WithDTStamp(t time.Time) Invite {
	n := inv.Clone()
	n.DTStamp = t
	return n
}

func (inv Invite) WithSequence(seq int) Invite {
	n := inv.Clone()
	n.Sequence = seq
	return n
}

func (inv Invite) WithNeverSent(b bool) Invite {
	n := inv.Clone()
	n.NeverSent = b
	return n
}

// WithExDates returns the invite with additional excluded occurrences.
func (inv Invite) WithExDates(l ...time.Time) Invite {
	n := inv.Clone()
	n.ExDates = append(n.ExDates, l...)
	return n
}

// AddAttendees returns the invite with attendees added that were not yet
// present, and whether anything changed.
func (inv Invite) AddAttendees(l ...Attendee) (Invite, bool) {
	n := inv.Clone()
	changed := false
	for _, a := range l {
		if _, ok := n.Attendee(a.Address); ok {
			continue
		}
		if a.Role == "" {
			a.Role = defaultAttendee
		}
		if a.PartStat == "" {
			a.PartStat = PartStatNeedsAction
		}
		n.Attendees = append(n.Attendees, a)
		changed = true
	}
	return n, changed
}

// RemoveAttendees returns the invite without the given addresses, and whether
// anything changed.
func (inv Invite) RemoveAttendees(addrs ...string) (Invite, bool) {
	rm := NewAddressSet(addrs...)
	n := inv.Clone()
	n.Attendees = n.Attendees[:0]
	for _, a := range inv.Attendees {
		if rm.Contains(a.Address) {
			continue
		}
		n.Attendees = append(n.Attendees, a)
	}
	return n, len(n.Attendees) != len(inv.Attendees)
}

// Attendee looks up an attendee by address.
func (inv Invite) Attendee(addr string) (Attendee, bool) {
	for _, a := range inv.Attendees {
		if SameAddress(a.Address, addr) {
			return a, true
		}
	}
	return Attendee{}, false
}

// AttendeeAddresses returns the addresses of all attendees.
func (inv Invite) AttendeeAddresses() []string {
	l := make([]string, 0, len(inv.Attendees))
	for _, a := range inv.Attendees {
		l = append(l, a.Address)
	}
	return l
}

// OrganizerAddress returns the organizer address, or the empty string.
func (inv Invite) OrganizerAddress() string {
	if o, ok := inv.Organizer.Get(); ok {
		return o.Address
	}
	return ""
}

// IsOrganizer reports whether the owner of self organizes this invite. An
// invite without organizer belongs to the mailbox it lives in.
func (inv Invite) IsOrganizer(self AddressSet) bool {
	o, ok := inv.Organizer.Get()
	if !ok {
		return true
	}
	return self.Contains(o.Address) || self.Contains(o.SentBy)
}

// HasOtherAttendees reports whether any attendee is not in self.
func (inv Invite) HasOtherAttendees(self AddressSet) bool {
	for _, a := range inv.Attendees {
		if !self.Contains(a.Address) {
			return true
		}
	}
	return false
}

// IsCancel reports whether the invite cancels its slot.
func (inv Invite) IsCancel() bool {
	return inv.Method == MethodCancel || inv.Kind.IsCancellation()
}

// IsRecurring reports whether the invite describes a recurring series.
func (inv Invite) IsRecurring() bool {
	return inv.Kind.IsSeries() && (inv.Rule != "" || len(inv.RDates) > 0)
}

// HasStart reports whether the invite has a concrete start.
func (inv Invite) HasStart() bool {
	return !inv.Start.IsZero()
}

// RecurID is the recurrence identity, absent for the series.
func (inv Invite) RecurID() mo.Option[RecurID] {
	return inv.Kind.RecurID()
}

// SlotKey is the key of the invite within its calendar item.
func (inv Invite) SlotKey() string {
	return inv.Kind.SlotKey()
}

// EndFor returns the end of an occurrence of this invite starting at start.
//
// Without end and duration, occurrences last 1 day for all-day invites and 1
// second for timed invites. Legacy clients depend on these exact values.
func (inv Invite) EndFor(start time.Time) time.Time {
	switch {
	case !inv.End.IsZero() && inv.HasStart():
		if inv.AllDay {
			return start.AddDate(0, 0, daysBetween(inv.Start, inv.End))
		}
		return start.Add(inv.End.Sub(inv.Start))
	case inv.Duration > 0:
		return start.Add(inv.Duration)
	case inv.AllDay:
		return start.AddDate(0, 0, 1)
	default:
		return start.Add(time.Second)
	}
}

// EffectiveEnd is the end of the invite's own occurrence.
func (inv Invite) EffectiveEnd() time.Time {
	if !inv.HasStart() {
		return inv.End
	}
	return inv.EndFor(inv.Start)
}

func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	n := int(bd.Sub(ad).Hours() / 24)
	if n < 1 {
		n = 1
	}
	return n
}
