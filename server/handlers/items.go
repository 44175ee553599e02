package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"github.com/cyp0633/calsched/internal/xml"
	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/scheduling"
)

// handlePut stores the invites of an uploaded calendar, series first.
//
// Query flags: notify sends them to the attendees, force skips recipient
// validation, draft marks them as drafts, folder picks the folder of new
// items. The response ETag is the mod sequence of the item; sending it back
// as If-Match fails the update with invite_out_of_date if the item changed
// since.
func (r *Router) handlePut(w http.ResponseWriter, req *http.Request) {
	op, ok := r.op(req)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if ct, _, err := mime.ParseMediaType(req.Header.Get(HeaderContentType)); err != nil || ct != MimeTypeCalendar {
		http.Error(w, "Unsupported media type", http.StatusUnsupportedMediaType)
		return
	}
	var folderID int64
	if f := req.URL.Query().Get("folder"); f != "" {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			r.badRequest(w, fmt.Errorf("invalid folder %q", f))
			return
		}
		folderID = id
	}
	expected, err := parseIfMatch(req.Header.Get(HeaderIfMatch))
	if err != nil {
		r.badRequest(w, err)
		return
	}

	_, invites, err := invite.ParseCalendar(io.LimitReader(req.Body, maxBodySize), r.location(req.Context(), op.MailboxID))
	if err != nil {
		r.badRequest(w, err)
		return
	}

	r.logger.Info("handling PUT request",
		"mailbox", op.MailboxID,
		"actor", op.Actor,
		"uid", invites[0].UID,
		"components", len(invites))

	var itemID, modSeq int64
	created := false
	for _, inv := range invites {
		res, err := r.sched.CreateOrUpdate(req.Context(), op, scheduling.CreateRequest{
			Invite:         inv,
			FolderID:       folderID,
			Notify:         boolParam(req, "notify"),
			ForceSend:      boolParam(req, "force"),
			Draft:          boolParam(req, "draft"),
			ExpectedModSeq: expected,
		})
		if err != nil {
			r.sendError(w, err)
			return
		}
		itemID = res.ItemID
		modSeq = res.ModSeq
		created = created || res.Created
	}

	w.Header().Set(HeaderLocation, fmt.Sprintf("%s/%s/items/%d", r.baseURI, op.MailboxID, itemID))
	w.Header().Set(HeaderETag, modSeqTag(modSeq))
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInstances expands an item within ?start=&end=, both RFC 3339.
func (r *Router) handleInstances(w http.ResponseWriter, req *http.Request) {
	op, ok := r.op(req)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	itemID, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		r.badRequest(w, fmt.Errorf("invalid item id %q", req.PathValue("id")))
		return
	}
	start, err := time.Parse(time.RFC3339, req.URL.Query().Get("start"))
	if err != nil {
		r.badRequest(w, fmt.Errorf("invalid start: %w", err))
		return
	}
	end, err := time.Parse(time.RFC3339, req.URL.Query().Get("end"))
	if err != nil {
		r.badRequest(w, fmt.Errorf("invalid end: %w", err))
		return
	}
	if !end.After(start) {
		r.badRequest(w, fmt.Errorf("end %s not after start %s", end, start))
		return
	}

	instances, err := r.sched.ExpandRange(req.Context(), op, itemID, start, end)
	if err != nil {
		r.sendError(w, err)
		return
	}

	resp := xml.InstancesResponse{ItemID: itemID}
	for _, inst := range instances {
		x := xml.Instance{
			Start:     inst.Start,
			End:       inst.End,
			AllDay:    inst.AllDay,
			Exception: inst.IsException,
			RecurID:   inst.RecurID,
		}
		if inst.Invite != nil {
			x.Summary = inst.Invite.Summary
		}
		resp.Instances = append(resp.Instances, x)
	}
	r.writeXML(w, http.StatusOK, resp.ToXML())
}

// handleDelete cancels an item, or with ?rid= one occurrence of it.
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	op, ok := r.op(req)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	itemID, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		r.badRequest(w, fmt.Errorf("invalid item id %q", req.PathValue("id")))
		return
	}
	cancel := scheduling.CancelRequest{
		ItemID: itemID,
		Notify: boolParam(req, "notify"),
	}
	if s := req.URL.Query().Get("rid"); s != "" {
		rid, err := invite.ParseRecurID(s, r.location(req.Context(), op.MailboxID))
		if err != nil {
			r.badRequest(w, err)
			return
		}
		cancel.RecurID = mo.Some(rid)
	}

	r.logger.Info("handling DELETE request",
		"mailbox", op.MailboxID,
		"actor", op.Actor,
		"item", itemID,
		"instance", cancel.RecurID.IsPresent())

	if err := r.sched.Cancel(req.Context(), op, cancel); err != nil {
		r.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAttendees applies an xml.AttendeesRequest to an item.
func (r *Router) handleAttendees(w http.ResponseWriter, req *http.Request) {
	op, ok := r.op(req)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	itemID, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		r.badRequest(w, fmt.Errorf("invalid item id %q", req.PathValue("id")))
		return
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(io.LimitReader(req.Body, maxBodySize)); err != nil {
		r.badRequest(w, fmt.Errorf("invalid XML: %w", err))
		return
	}
	var body xml.AttendeesRequest
	if err := body.Parse(doc); err != nil {
		r.badRequest(w, err)
		return
	}

	add := make([]invite.Attendee, len(body.Add))
	for i, a := range body.Add {
		role := invite.Role(a.Role)
		if role == "" {
			role = invite.RoleRequired
		}
		add[i] = invite.Attendee{
			Address:  a.Address,
			Name:     a.Name,
			Role:     role,
			PartStat: invite.PartStatNeedsAction,
			RSVP:     a.RSVP,
		}
	}

	if err := r.sched.RemoveAttendees(req.Context(), op, itemID, add, body.Remove, body.IgnorePast); err != nil {
		r.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) writeXML(w http.ResponseWriter, status int, doc *etree.Document) {
	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		r.logger.Error("failed to marshal response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set(HeaderContentType, MimeTypeXML)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// modSeqTag renders a mod sequence as an entity tag.
func modSeqTag(modSeq int64) string {
	return `"` + strconv.FormatInt(modSeq, 10) + `"`
}

// parseIfMatch reads the mod sequence of an If-Match header. An empty header
// or "*" does not ask for conflict detection.
func parseIfMatch(h string) (mo.Option[int64], error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return mo.None[int64](), nil
	}
	v, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(h, "W/"), `"`), 10, 64)
	if err != nil || v <= 0 {
		return mo.None[int64](), fmt.Errorf("invalid If-Match %q", h)
	}
	return mo.Some(v), nil
}
