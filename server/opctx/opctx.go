// Package opctx carries per-request operation data through the scheduling engine.
package opctx

import "time"

// Op describes who performs an operation and when.
type Op struct {
	// Actor is the address of the authenticated account performing the request.
	Actor string
	// MailboxID identifies the mailbox the request operates on.
	MailboxID string
	// Timestamp overrides the clock when non-zero, for testability.
	Timestamp time.Time
	// OnBehalfOf is set when Actor acts as a delegate of the mailbox owner.
	OnBehalfOf bool
}

// Now returns the operation time.
func (o Op) Now() time.Time {
	if !o.Timestamp.IsZero() {
		return o.Timestamp
	}
	return time.Now()
}
