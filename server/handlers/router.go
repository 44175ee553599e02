package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cyp0633/calsched/server/auth"
	"github.com/cyp0633/calsched/server/opctx"
	"github.com/cyp0633/calsched/server/scheduling"
	"github.com/cyp0633/calsched/server/storage"
)

const (
	// HTTP headers
	HeaderContentType = "Content-Type"
	HeaderLocation    = "Location"
	HeaderETag        = "ETag"
	HeaderIfMatch     = "If-Match"

	// MIME types
	MimeTypeCalendar = "text/calendar"
	MimeTypeXML      = "application/xml; charset=utf-8"

	// maxBodySize bounds uploaded calendars and attendee changes
	maxBodySize = 4 << 20
)

// Router exposes the scheduling operations over HTTP
type Router struct {
	sched    *scheduling.Scheduler
	provider storage.Provider
	baseURI  string
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewRouter creates a new Router serving below baseURI. Requests must carry
// an auth.Principal in their context, see auth.Middleware.
func NewRouter(sched *scheduling.Scheduler, provider storage.Provider, baseURI string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		sched:    sched,
		provider: provider,
		baseURI:  strings.TrimSuffix(baseURI, "/"),
		mux:      http.NewServeMux(),
		logger:   logger,
	}

	r.mux.HandleFunc("PUT /{mailbox}/items", r.handlePut)
	r.mux.HandleFunc("GET /{mailbox}/items/{id}/instances", r.handleInstances)
	r.mux.HandleFunc("DELETE /{mailbox}/items/{id}", r.handleDelete)
	r.mux.HandleFunc("POST /{mailbox}/items/{id}/attendees", r.handleAttendees)

	return r
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.logger.Info("received request",
		"method", req.Method,
		"path", req.URL.Path,
		"remote_addr", req.RemoteAddr)

	http.StripPrefix(r.baseURI, r.mux).ServeHTTP(w, req)
}

// op returns the operation context of a request on its mailbox
func (r *Router) op(req *http.Request) (opctx.Op, bool) {
	p := auth.GetPrincipalFromContext(req.Context())
	if p == nil {
		return opctx.Op{}, false
	}
	mailbox := req.PathValue("mailbox")
	return opctx.Op{
		Actor:      p.Address,
		MailboxID:  mailbox,
		OnBehalfOf: p.Delegated(mailbox),
	}, true
}

// location returns the time zone floating times of a mailbox are read in
func (r *Router) location(ctx context.Context, mailboxID string) *time.Location {
	mbox, err := r.provider.Mailbox(ctx, mailboxID)
	if err != nil {
		return time.UTC
	}
	acct, err := mbox.Account(ctx)
	if err != nil {
		return time.UTC
	}
	return acct.Location()
}

// boolParam reads a query flag such as ?notify=1
func boolParam(req *http.Request, name string) bool {
	switch req.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}
