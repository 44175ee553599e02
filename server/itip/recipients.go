package itip

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

// Recipients returns who a message about inv goes to: the explicit list if
// given, the attendees otherwise. The mailbox's own addresses are left out,
// except on delegated requests, where the owner is copied if the account asks
// for it.
func Recipients(op opctx.Op, acct *storage.Account, inv invite.Invite, explicit []string) []string {
	src := explicit
	if len(src) == 0 {
		src = inv.AttendeeAddresses()
	}
	self := acct.Addresses()
	seen := invite.NewAddressSet()
	var l []string
	for _, addr := range src {
		if addr == "" || seen.Contains(addr) {
			continue
		}
		if !op.OnBehalfOf && self.Contains(addr) {
			continue
		}
		seen.Add(addr)
		l = append(l, addr)
	}
	if op.OnBehalfOf && acct.NotifyOnBehalfOf && !seen.Contains(acct.Address) {
		l = append(l, acct.Address)
	}
	return l
}

// Validator checks recipient addresses against the outbound relay.
type Validator interface {
	// ValidateAddresses returns the addresses the relay will not accept.
	ValidateAddresses(ctx context.Context, addrs []string) (invalid []string, err error)
}

// AddressError is returned when some recipients are invalid. Nothing was sent
// to any of them.
type AddressError struct {
	Invalid     []string
	ValidUnsent []string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid recipient addresses: %s (not sent to: %s)",
		strings.Join(e.Invalid, ", "), strings.Join(e.ValidUnsent, ", "))
}

// ValidateRecipients checks rcpts for syntax and, if relay is not nil,
// against the relay. Invalid addresses yield an *AddressError.
func ValidateRecipients(ctx context.Context, relay Validator, rcpts []string) error {
	bad := invite.NewAddressSet()
	var candidates []string
	for _, addr := range rcpts {
		if _, err := mail.ParseAddress(addr); err != nil {
			bad.Add(addr)
			continue
		}
		candidates = append(candidates, addr)
	}
	if relay != nil && len(candidates) > 0 {
		invalid, err := relay.ValidateAddresses(ctx, candidates)
		if err != nil {
			return fmt.Errorf("failed to validate recipients: %w", err)
		}
		for _, addr := range invalid {
			bad.Add(addr)
		}
	}
	if len(bad) == 0 {
		return nil
	}

	aerr := &AddressError{}
	for _, addr := range rcpts {
		if bad.Contains(addr) {
			aerr.Invalid = append(aerr.Invalid, addr)
		} else {
			aerr.ValidUnsent = append(aerr.ValidUnsent, addr)
		}
	}
	return aerr
}
