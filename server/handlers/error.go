package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/cyp0633/calsched/internal/xml"
	"github.com/cyp0633/calsched/server/fault"
	"github.com/cyp0633/calsched/server/itip"
)

// typeInvalidRecipients is reported for *itip.AddressError
const typeInvalidRecipients = "invalid_recipients"

// statusOf maps a fault type to its HTTP status
func statusOf(t fault.ErrorType) int {
	switch t {
	case fault.TypeInvalidRequest, fault.TypeCannotCreateInTrash:
		return http.StatusBadRequest
	case fault.TypeMustBeOrganizer, fault.TypePermissionDenied:
		return http.StatusForbidden
	case fault.TypeNotFound:
		return http.StatusNotFound
	case fault.TypeInviteOutOfDate, fault.TypeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) sendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	e := xml.Error{Type: "internal", Message: err.Error()}

	var aerr *itip.AddressError
	var ferr *fault.Error
	switch {
	case errors.As(err, &aerr):
		status = http.StatusBadRequest
		e = xml.Error{Type: typeInvalidRecipients, Message: "invalid recipient addresses", Invalid: aerr.Invalid, ValidUnsent: aerr.ValidUnsent}
	case errors.As(err, &ferr):
		status = statusOf(ferr.Type)
		e = xml.Error{Type: string(ferr.Type), Message: ferr.Message}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		e.Type = "unavailable"
	}

	if status >= http.StatusInternalServerError {
		r.logger.Error("error response",
			"status", status,
			"error", err)
	} else {
		r.logger.Info("request rejected",
			"status", status,
			"type", e.Type,
			"error", err)
	}

	r.writeXML(w, status, (&xml.ErrorResponse{Error: e}).ToXML())
}

// badRequest rejects malformed input that never reached the scheduler
func (r *Router) badRequest(w http.ResponseWriter, err error) {
	r.sendError(w, fault.Invalid("%v", err))
}
