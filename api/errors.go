package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"library-circulation/library"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

var errUnauthorized = errors.New("member id or PIN is incorrect")

// classify names the error kind, the offending field if known and the HTTP
// status the kind maps to.
func classify(err error) (kind, field string, status int) {
	var (
		formatErr   *library.FormatError
		notFound    *library.NotFoundError
		duplicate   *library.DuplicateError
		capacity    *library.CapacityError
		rejected    *library.TransitionRejectedError
		pastDate    *library.PastDateError
		tooLong     *library.ExceedsMaxDurationError
		outOfWindow *library.OutsideAllowedWindowError
	)
	switch {
	case errors.Is(err, errUnauthorized):
		return "Unauthorized", "", fiber.StatusUnauthorized
	case errors.As(err, &formatErr):
		return "FormatError", formatErr.Field, fiber.StatusBadRequest
	case errors.As(err, &notFound):
		return "NotFoundError", "", fiber.StatusNotFound
	case errors.As(err, &duplicate):
		return "DuplicateError", "accessionNumber", fiber.StatusConflict
	case errors.As(err, &capacity):
		return "CapacityError", "", fiber.StatusConflict
	case errors.As(err, &rejected):
		return "TransitionRejectedError", rejected.Field, fiber.StatusConflict
	case errors.As(err, &pastDate):
		return "PastDateError", "returnDate", fiber.StatusUnprocessableEntity
	case errors.As(err, &tooLong):
		return "ExceedsMaxDurationError", "returnDate", fiber.StatusUnprocessableEntity
	case errors.As(err, &outOfWindow):
		return "OutsideAllowedWindowError", "returnTime", fiber.StatusUnprocessableEntity
	default:
		return "InternalError", "", fiber.StatusInternalServerError
	}
}

func statusFor(err error) int {
	_, _, status := classify(err)
	return status
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{Error: fe.Message, Kind: "RequestError"})
	}

	kind, field, status := classify(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.OriginalURL(), "err", err)
		msg = "internal server error"
	}
	return c.Status(status).JSON(errorResponse{Error: msg, Kind: kind, Field: field})
}
