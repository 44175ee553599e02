package recurrence

import (
	"fmt"
	"io"
	"time"

	"github.com/cyp0633/calsched/server/invite"
)

// Group sorts the invites of one calendar item into its series, exceptions
// and cancellations. The series is nil for items created from a single
// exception.
func Group(invites []invite.Invite) (series *invite.Invite, exceptions, cancellations []*invite.Invite) {
	for i := range invites {
		inv := &invites[i]
		switch inv.Kind.Tag() {
		case invite.KindSeries:
			series = inv
		case invite.KindException:
			exceptions = append(exceptions, inv)
		case invite.KindCancellation:
			cancellations = append(cancellations, inv)
		}
	}
	return series, exceptions, cancellations
}

// ExpandInvites expands the invites of one calendar item.
func (e *Engine) ExpandInvites(invites []invite.Invite, rangeStart, rangeEnd time.Time) ([]Instance, error) {
	series, exceptions, cancellations := Group(invites)
	return e.Expand(series, exceptions, cancellations, rangeStart, rangeEnd)
}

// ExpandCalendar parses an iCalendar stream and expands every UID it holds.
// Instances of all UIDs are merged in start order.
func (e *Engine) ExpandCalendar(r io.Reader, loc *time.Location, rangeStart, rangeEnd time.Time) ([]Instance, error) {
	_, invites, err := invite.ParseCalendar(r, loc)
	if err != nil {
		return nil, err
	}

	var order []string
	byUID := map[string][]invite.Invite{}
	for _, inv := range invites {
		if _, ok := byUID[inv.UID]; !ok {
			order = append(order, inv.UID)
		}
		byUID[inv.UID] = append(byUID[inv.UID], inv)
	}

	var out []Instance
	for _, uid := range order {
		l, err := e.ExpandInvites(byUID[uid], rangeStart, rangeEnd)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", uid, err)
		}
		out = append(out, l...)
	}
	sortInstances(out)
	return out, nil
}
