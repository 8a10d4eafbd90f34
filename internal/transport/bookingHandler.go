package transport

import (
	"net/http"

	"github.com/ds124wfegd/transferbook/internal/service"

	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	bookingService service.BookingService
	invoiceService service.InvoiceService
}

func NewBookingHandler(bookingService service.BookingService, invoiceService service.InvoiceService) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		invoiceService: invoiceService,
	}
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	booking, err := h.bookingService.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, booking)
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, booking)
}

func (h *BookingHandler) UpdateBooking(c *gin.Context) {
	var req service.UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	booking, err := h.bookingService.UpdateBooking(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, booking)
}

// AddCharge appends a surcharge and syncs the invoice in one call.
func (h *BookingHandler) AddCharge(c *gin.Context) {
	var req service.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	booking, err := h.bookingService.ChargeBooking(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, booking)
}

func (h *BookingHandler) AssignDriver(c *gin.Context) {
	var req service.AssignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	booking, err := h.bookingService.AssignDriverToBooking(c.Request.Context(), c.Param("id"), req.DriverID, req.DriverPayment)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, booking)
}

func (h *BookingHandler) GetBookingInvoice(c *gin.Context) {
	invoice, err := h.invoiceService.GetInvoiceByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, invoice)
}
