package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/cyp0633/calsched/server/calendar"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/itip"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/storage"
)

// CreateRequest creates or updates one invite of a calendar item.
type CreateRequest struct {
	Invite   invite.Invite
	FolderID int64
	// Source is the message the invite came in. Its blob is moved into the
	// store, its sender feeds organizer inference.
	Source *storage.SourceMessage
	// Notify sends the invite to Recipients, or to its attendees if empty.
	Notify     bool
	Recipients []string
	// ForceSend skips recipient validation.
	ForceSend bool
	// Echo returns the invite as stored.
	Echo           bool
	Draft          bool
	ExpectedModSeq mo.Option[int64]

	Subject     string
	Text        string
	Attachments []itip.Attachment
	// AttachSource attaches the source message to the outbound mail.
	AttachSource bool
}

// CreateResult identifies the stored revision.
type CreateResult struct {
	storage.AddResult
	// Invite is set when the request asked for an echo.
	Invite    mo.Option[invite.Invite]
	Organizer invite.OrganizerDecision
	// Notified lists who the invite was queued to.
	Notified []string
}

// CreateOrUpdate stores an invite and notifies its recipients.
func (s *Scheduler) CreateOrUpdate(ctx context.Context, op opctx.Op, req CreateRequest) (CreateResult, error) {
	var result CreateResult
	err := s.run(ctx, op, "create", func(ctx context.Context, r *request) error {
		self := r.acct.Addresses()
		inv := req.Invite
		if inv.UID == "" {
			inv.UID = uuid.NewString()
		}
		if err := inv.Validate(); err != nil {
			return err
		}

		if req.Source != nil {
			var decision invite.OrganizerDecision
			inv, decision = invite.InferOrganizer(inv, req.Source.Provenance(), self)
			result.Organizer = decision
			if decision == invite.AttendeesCleared {
				s.logger.Warn("cleared attendees of invite without organizer",
					"mailbox", r.mbox.ID(),
					"uid", inv.UID,
					"from", req.Source.From,
					"intended_for", req.Source.IntendedFor)
			}
		}

		var rcpts []string
		if req.Notify {
			rcpts = itip.Recipients(op, r.acct, inv, req.Recipients)
		}
		if err := invite.CheckOrganizer(inv, self, rcpts); err != nil {
			return err
		}
		if len(rcpts) > 0 && !req.ForceSend && !inv.IsCancel() {
			if err := itip.ValidateRecipients(ctx, s.relay, rcpts); err != nil {
				return err
			}
		}
		inv = inv.WithNeverSent(invite.NeverSent(inv.IsOrganizer(self), inv.HasOtherAttendees(self), len(rcpts) > 0))
		inv.Draft = req.Draft

		var flags storage.AddFlags
		if req.Draft {
			flags |= storage.FlagDraft
		}

		// The message is spooled before the invite is stored: storing moves
		// the source blob the message may attach.
		d, err := s.buildCreate(ctx, r, inv, flags, rcpts, req)
		if err != nil {
			return err
		}
		res, err := s.calendar.Apply(ctx, r.mbox, calendar.ApplyRequest{
			Invite:         inv,
			FolderID:       req.FolderID,
			Source:         req.Source,
			Flags:          flags,
			ExpectedModSeq: req.ExpectedModSeq,
		})
		if err != nil {
			discard(d)
			return err
		}
		result.AddResult = res
		if req.Echo {
			result.Invite = mo.Some(inv)
		}

		if err := s.updateAlarm(ctx, r, res.ItemID); err != nil {
			discard(d)
			return err
		}
		if err := s.enqueue(ctx, r, d); err != nil {
			return err
		}
		if d != nil {
			result.Notified = d.Recipients
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return result, nil
}

func (s *Scheduler) buildCreate(ctx context.Context, r *request, inv invite.Invite, flags storage.AddFlags, rcpts []string, req CreateRequest) (*itip.CalSendData, error) {
	if len(rcpts) == 0 {
		return nil, nil
	}
	method := invite.MethodRequest
	if inv.IsCancel() {
		method = invite.MethodCancel
	}
	item, err := r.mbox.GetCalendarItemByUID(ctx, inv.UID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	// Describe the item as it will be stored, not as it was.
	if item != nil && item.DropsExceptions(inv, flags) {
		item = item.Clone()
		item.DropExceptions()
	}

	attachments := append([]itip.Attachment(nil), req.Attachments...)
	if req.AttachSource && req.Source != nil && req.Source.BlobPath != "" {
		attachments = append(attachments, itip.Attachment{Filename: "original.eml", ContentType: "message/rfc822", Path: req.Source.BlobPath})
	}
	msg, err := s.builder.Build(itip.BuildRequest{
		Op:          r.op,
		Account:     r.acct,
		Method:      method,
		Invite:      inv,
		Item:        item,
		Recipients:  rcpts,
		Subject:     req.Subject,
		Text:        req.Text,
		Attachments: attachments,
	})
	if err != nil {
		return nil, err
	}
	d := &itip.CalSendData{
		Invite:     inv.WithMethod(method),
		Message:    msg,
		From:       r.acct.Address,
		Recipients: rcpts,
	}
	if err := s.spool(d); err != nil {
		return nil, err
	}
	return d, nil
}
