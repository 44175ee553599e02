package storage

import (
	"fmt"
	"strings"

	"github.com/cyp0633/calsched/server/invite"
)

// InviteToICS renders a stored invite as a one-component iCalendar document.
func InviteToICS(inv invite.Invite) (string, error) {
	data, err := invite.Encode(inv.Method, inv)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ICSToInvite parses a document written by InviteToICS. Floating times are
// read as UTC.
func ICSToInvite(ics string) (invite.Invite, error) {
	_, invites, err := invite.ParseCalendar(strings.NewReader(ics), nil)
	if err != nil {
		return invite.Invite{}, err
	}
	if len(invites) > 1 {
		return invite.Invite{}, fmt.Errorf("multiple components found in calendar")
	}
	return invites[0], nil
}
