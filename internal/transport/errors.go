package transport

import (
	"errors"
	"net/http"

	"github.com/ds124wfegd/transferbook/internal/entity"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SuccessResponse wraps returned data
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func statusFor(err error) int {
	var creationErr *entity.InvoiceCreationError
	switch {
	case errors.Is(err, entity.ErrBookingNotFound),
		errors.Is(err, entity.ErrInvoiceNotFound),
		errors.Is(err, entity.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidInput),
		errors.Is(err, entity.ErrInvalidBookingStatus):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrDriverAssignmentNotAllowed):
		return http.StatusConflict
	case errors.As(err, &creationErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	var creationErr *entity.InvoiceCreationError
	if errors.As(err, &creationErr) {
		msg = "booking could not be created, please retry"
	}

	c.JSON(status, ErrorResponse{Success: false, Error: msg})
}

func respondBadRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}
