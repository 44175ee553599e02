package invite

import (
	"github.com/cyp0633/calsched/server/fault"
	"github.com/teambition/rrule-go"
)

// Validate checks the request shape of a freshly parsed invite.
func (inv Invite) Validate() error {
	if inv.UID == "" {
		return fault.Invalid("missing UID")
	}
	if !inv.Method.Valid() {
		return fault.Invalid("unknown method %q", inv.Method)
	}
	if !inv.Kind.IsSeries() {
		rid, _ := inv.RecurID().Get()
		if rid.IsZero() {
			return fault.Invalid("malformed recurrence id on %s", inv.Kind.Tag())
		}
		if inv.Rule != "" || len(inv.RDates) > 0 {
			return fault.Invalid("recurrence rule on %s", inv.Kind)
		}
	}
	if inv.Rule != "" {
		if err := ValidateRule(inv.Rule); err != nil {
			return err
		}
		if !inv.HasStart() {
			return fault.Invalid("recurrence rule without start")
		}
	}
	if inv.HasStart() && !inv.End.IsZero() && inv.End.Before(inv.Start) {
		return fault.Invalid("end %s before start %s", inv.End, inv.Start)
	}
	if inv.Duration < 0 {
		return fault.Invalid("negative duration")
	}
	return nil
}

// ValidateRule checks that an RRULE value parses.
func ValidateRule(rule string) error {
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fault.Wrap(fault.TypeInvalidRequest, err, "invalid recurrence rule %q", rule)
	}
	return nil
}

// Provenance describes the message an invite arrived in.
type Provenance struct {
	// From is the address of the sending mail.
	From string
	// IntendedFor is the explicit intended-recipient marker of the message, if any.
	IntendedFor string
}

// OrganizerDecision is the outcome of InferOrganizer.
type OrganizerDecision int

const (
	// OrganizerKept: the invite already had an organizer, or no attendees.
	OrganizerKept OrganizerDecision = iota
	// OrganizerInferred: the sender was made organizer.
	OrganizerInferred
	// AttendeesCleared: provenance was unclear; attendees were dropped
	// instead of guessing an organizer.
	AttendeesCleared
)

func (d OrganizerDecision) String() string {
	switch d {
	case OrganizerInferred:
		return "inferred"
	case AttendeesCleared:
		return "attendees-cleared"
	default:
		return "kept"
	}
}

// InferOrganizer settles organizer/attendee consistency for an invite with
// attendees but no organizer.
//
// The sender becomes organizer, except when the sender is one of the target
// mailbox's own addresses, when the message is explicitly intended for the
// sender, or when there is no sender at all. In those cases the invite fails
// safe to attendee-less: assigning an organizer there could make this copy
// cancel other users' copies of the meeting.
func InferOrganizer(inv Invite, src Provenance, self AddressSet) (Invite, OrganizerDecision) {
	if inv.Organizer.IsPresent() || len(inv.Attendees) == 0 {
		return inv, OrganizerKept
	}
	if src.From == "" || self.Contains(src.From) || SameAddress(src.IntendedFor, src.From) {
		return inv.WithAttendees(nil), AttendeesCleared
	}
	return inv.WithOrganizer(Organizer{Address: src.From}), OrganizerInferred
}

// CheckOrganizer rejects notifying attendees from a mailbox that does not
// organize the invite.
func CheckOrganizer(inv Invite, self AddressSet, recipients []string) error {
	if len(inv.Attendees) == 0 || len(recipients) == 0 {
		return nil
	}
	if !inv.IsOrganizer(self) {
		return fault.New(fault.TypeMustBeOrganizer, "only organizer %s may notify attendees of %s", inv.OrganizerAddress(), inv.UID)
	}
	return nil
}

// NeverSent is true only when the organizer saved attendees without
// notifying them.
func NeverSent(isOrganizer, hasOtherAttendees, notified bool) bool {
	return isOrganizer && hasOtherAttendees && !notified
}
