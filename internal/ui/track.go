package ui

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"bankruptcy-console/internal/backend"
	"bankruptcy-console/internal/features"
	"bankruptcy-console/internal/session"
	"bankruptcy-console/internal/storage"
	"bankruptcy-console/internal/supervisor"
)

// tooLargeError rejects an upload whose request body exceeds the limit.
type tooLargeError struct {
	limit int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("file exceeds the %s upload limit", humanize.Bytes(uint64(e.limit)))
}

// call runs one backend operation for a session. It holds the session's
// single-flight flag for op, records the call in the activity log and logs
// failures. fn fills in the outcome counters on success.
func (h *Handler) call(ctx context.Context, sid string, op backend.Op, fileName string, size int64,
	fn func(ctx context.Context) (supervisor.Outcome, error)) error {
	if err := h.sessions.Begin(ctx, sid, op); err != nil {
		if errors.Is(err, session.ErrBusy) {
			h.reject(sid, op, err)
		} else {
			h.logger.Error("session store unavailable", "op", op, "err", err)
		}
		return err
	}
	defer func() {
		if err := h.sessions.End(context.WithoutCancel(ctx), sid, op); err != nil {
			h.logger.Error("failed to clear in-flight flag", "op", op, "err", err)
		}
	}()

	id := h.tracker.Start(string(op), sid, fileName, size)
	out, err := fn(ctx)
	out.Status, out.Reason = classify(err)
	out.Err = err
	if err == nil {
		out.HTTPStatus = http.StatusOK
	} else {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			out.HTTPStatus = apiErr.StatusCode
		}
	}
	h.tracker.Finish(id, out)

	if err != nil {
		h.logger.Warn("backend call failed", "op", op, "status", out.HTTPStatus, "err", err)
	}
	return err
}

// reject records an action refused before any request was sent.
func (h *Handler) reject(sid string, op backend.Op, err error) {
	_, reason := classify(err)
	h.tracker.Reject(string(op), sid, reason, err)
	h.logger.Info("action rejected", "op", op, "reason", reason, "err", err)
}

// classify maps an error to its activity log status and reason.
func classify(err error) (storage.Status, storage.Reason) {
	var (
		fieldErr  *features.FieldError
		typeErr   *backend.UnsupportedTypeError
		sizeErr   *tooLargeError
		apiErr    *backend.APIError
		transport *backend.TransportError
	)
	switch {
	case err == nil:
		return storage.StatusSuccess, storage.ReasonNone
	case errors.As(err, &fieldErr):
		return storage.StatusRejected, storage.ReasonInvalidInput
	case errors.Is(err, backend.ErrNoFile):
		return storage.StatusRejected, storage.ReasonNoFile
	case errors.As(err, &typeErr):
		return storage.StatusRejected, storage.ReasonUnsupportedType
	case errors.As(err, &sizeErr):
		return storage.StatusRejected, storage.ReasonTooLarge
	case errors.Is(err, backend.ErrNoModel):
		return storage.StatusRejected, storage.ReasonNoModel
	case errors.Is(err, session.ErrBusy):
		return storage.StatusRejected, storage.ReasonBusy
	case errors.Is(err, context.Canceled):
		return storage.StatusError, storage.ReasonCanceled
	case errors.As(err, &apiErr):
		return storage.StatusError, storage.ReasonAPIError
	case errors.Is(err, backend.ErrInvalidFormat):
		return storage.StatusError, storage.ReasonInvalidFormat
	case errors.As(err, &transport):
		return storage.StatusError, storage.ReasonTransport
	default:
		return storage.StatusError, storage.ReasonNone
	}
}

// userMessage is the text shown for err.
func userMessage(op backend.Op, err error) string {
	var (
		apiErr    *backend.APIError
		transport *backend.TransportError
	)
	switch {
	case errors.Is(err, backend.ErrNoFile):
		return "Please select a file first"
	case errors.Is(err, backend.ErrNoModel):
		return "No model to save. Please retrain first."
	case errors.Is(err, session.ErrBusy):
		return op.Label() + " already in progress"
	case errors.Is(err, backend.ErrInvalidFormat):
		return "Invalid response format from server"
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, context.Canceled):
		return "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.As(err, &transport):
		return "could not reach the prediction API"
	default:
		return err.Error()
	}
}

// failureText prefixes the message with the action that failed. Local
// refusals that already read as a sentence are shown as they are.
func failureText(prefix string, op backend.Op, err error) string {
	msg := userMessage(op, err)
	if errors.Is(err, backend.ErrNoFile) || errors.Is(err, backend.ErrNoModel) || errors.Is(err, session.ErrBusy) {
		return msg
	}
	return prefix + ": " + msg
}

// statusFor picks the response code for a failed prediction page.
func statusFor(err error) int {
	var sizeErr *tooLargeError
	switch status, reason := classify(err); {
	case errors.As(err, &sizeErr):
		return http.StatusRequestEntityTooLarge
	case reason == storage.ReasonNoModel || reason == storage.ReasonBusy:
		return http.StatusConflict
	case status == storage.StatusRejected:
		return http.StatusUnprocessableEntity
	case reason == storage.ReasonNone:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
