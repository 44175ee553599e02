package calendar

import (
	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/storage"
)

// State is the state of one recurrence identity slot of a calendar item.
type State int

const (
	StateNone State = iota
	StateDefault
	StateException
	StateCancelled
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateException:
		return "exception"
	case StateCancelled:
		return "cancelled"
	case StateDeleted:
		return "deleted"
	default:
		return "none"
	}
}

// SlotState returns the state of the slot with key in ci. A nil item has
// only empty slots.
func SlotState(ci *storage.CalendarItem, key string) State {
	if ci == nil {
		return StateNone
	}
	si := ci.Slot(key)
	if si == nil {
		return StateNone
	}
	switch {
	case si.Invite.Kind.IsCancellation():
		return StateCancelled
	case si.Invite.Kind.IsException():
		return StateException
	default:
		return StateDefault
	}
}

// NextState returns the state storing inv moves its slot into, or an error
// if the transition is not allowed. item is the stored calendar item, nil if
// there is none yet.
func NextState(item *storage.CalendarItem, inv invite.Invite) (State, error) {
	switch {
	case inv.Kind.IsSeries() && inv.IsCancel():
		if item == nil {
			return StateNone, fault.New(fault.TypeNotFound, "calendar item %s not found", inv.UID)
		}
		return StateDeleted, nil
	case inv.Kind.IsSeries():
		return StateDefault, nil
	case inv.Kind.IsException():
		return StateException, nil
	default:
		// Cancelling an occurrence needs something to cancel: the series it
		// was generated from or an exception of it.
		if item == nil {
			return StateNone, fault.New(fault.TypeNotFound, "calendar item %s not found", inv.UID)
		}
		if item.Series() == nil && SlotState(item, inv.SlotKey()) == StateNone {
			return StateNone, fault.New(fault.TypeNotFound, "occurrence %s of %s not found", inv.SlotKey(), inv.UID)
		}
		return StateCancelled, nil
	}
}
