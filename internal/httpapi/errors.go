package httpapi

import (
	"errors"
	"net/http"

	"qms/clinic-console/internal/apiclient"
	"qms/clinic-console/internal/dispatcher"
	"qms/clinic-console/internal/presentation"
	"qms/clinic-console/internal/queue"

	"github.com/labstack/echo/v4"
)

var errInvalidJSON = errors.New("invalid JSON payload")

type errorResponse struct {
	RequestID string                   `json:"request_id"`
	Error     responseError            `json:"error"`
	Ticket    *presentation.TicketView `json:"ticket,omitempty"`
}

type responseError struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
	Fields    map[string][]string `json:"fields,omitempty"`
}

func mapError(err error) (int, string, string) {
	var stale *dispatcher.StaleStateError
	var apiErr *apiclient.APIError
	var transportErr *apiclient.TransportError
	switch {
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, "invalid_json", "invalid JSON payload"
	case errors.As(err, &stale):
		return http.StatusConflict, "stale_state", "ticket was changed by someone else; showing its current state"
	case errors.Is(err, queue.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition", err.Error()
	case errors.Is(err, dispatcher.ErrCommandInFlight):
		return http.StatusTooManyRequests, "command_in_flight", "a command for this ticket is still running"
	case errors.Is(err, dispatcher.ErrInvalidTicket),
		errors.Is(err, dispatcher.ErrInvalidDepartment),
		errors.Is(err, dispatcher.ErrInvalidPatient),
		errors.Is(err, queue.ErrUnknownAction),
		errors.Is(err, queue.ErrUnknownStatus):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, apiclient.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, apiclient.ErrUnauthorized):
		return http.StatusBadGateway, "backend_unauthorized", "queue backend refused the console credentials"
	case errors.Is(err, apiclient.ErrMalformedEnvelope), errors.Is(err, dispatcher.ErrMalformedTicket):
		return http.StatusBadGateway, "bad_backend_response", "queue backend sent an unexpected response"
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "backend_unavailable", "queue backend is unavailable, try again"
	case errors.As(err, &apiErr):
		message := apiErr.Message
		if message == "" {
			message = "queue backend rejected the request"
		}
		return http.StatusUnprocessableEntity, "rejected", message
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// writeFailure renders err and attaches what the client needs to recover:
// the fresh ticket on a stale conflict, field errors on a rejection.
func writeFailure(c echo.Context, err error) error {
	status, code, message := mapError(err)
	resp := errorResponse{
		RequestID: requestID(c),
		Error: responseError{
			Code:      code,
			Message:   message,
			Retryable: apiclient.IsRetryable(err),
		},
	}
	var stale *dispatcher.StaleStateError
	if errors.As(err, &stale) {
		view := presentation.Build(stale.Current, nil, false)
		resp.Ticket = &view
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		resp.Error.Fields = apiErr.Fields
	}
	if status >= http.StatusInternalServerError {
		requestsFailed.Add(code, 1)
	}
	return c.JSON(status, resp)
}

func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorResponse{
		RequestID: requestID(c),
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

// errorHandler renders echo's own errors (unknown route, wrong method,
// recovered panics) in the same shape as handler errors.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := "internal server error"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		if text, ok := httpErr.Message.(string); ok {
			message = text
		} else {
			message = http.StatusText(status)
		}
	}
	code := "internal_error"
	switch status {
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusMethodNotAllowed:
		code = "method_not_allowed"
	case http.StatusTooManyRequests:
		code = "rate_limited"
	case http.StatusBadRequest:
		code = "invalid_request"
	}
	_ = writeError(c, status, code, message)
}
