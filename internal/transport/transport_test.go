package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ds124wfegd/transferbook/config"
	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/internal/service"
	"github.com/ds124wfegd/transferbook/internal/transport/middleware"
	"github.com/ds124wfegd/transferbook/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBookings struct {
	err          error
	lastCreate   *service.CreateBookingRequest
	lastDriverID string
	lastPayment  *entity.Money
}

func (s *stubBookings) CreateBooking(_ context.Context, req *service.CreateBookingRequest) (*entity.Booking, error) {
	s.lastCreate = req
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Booking{ID: "b-1", PassengerID: req.PassengerID, TotalAmount: req.BaseFare}, nil
}

func (s *stubBookings) GetBooking(_ context.Context, id string) (*entity.Booking, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Booking{ID: id}, nil
}

func (s *stubBookings) UpdateBooking(_ context.Context, id string, _ *service.UpdateBookingRequest) (*entity.Booking, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Booking{ID: id}, nil
}

func (s *stubBookings) AddAdditionalCharge(_ context.Context, id string, req *service.ChargeRequest) (*entity.Booking, error) {
	return s.ChargeBooking(context.Background(), id, req)
}

func (s *stubBookings) ChargeBooking(_ context.Context, id string, req *service.ChargeRequest) (*entity.Booking, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Booking{ID: id, TotalAmount: req.Amount}, nil
}

func (s *stubBookings) AssignDriverToBooking(_ context.Context, id, driverID string, payment *entity.Money) (*entity.Booking, error) {
	s.lastDriverID, s.lastPayment = driverID, payment
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Booking{ID: id, DriverID: &driverID, DriverPayment: payment}, nil
}

type stubInvoices struct {
	err error
}

func (s *stubInvoices) GenerateInvoiceNumber(context.Context) (string, error) {
	return "INV-202600001", nil
}

func (s *stubInvoices) CreateInvoiceForBooking(_ context.Context, b *entity.Booking) (*entity.Invoice, error) {
	return &entity.Invoice{BookingID: b.ID}, nil
}

func (s *stubInvoices) SyncInvoiceWithBooking(_ context.Context, b *entity.Booking) (*entity.Invoice, error) {
	return &entity.Invoice{BookingID: b.ID}, nil
}

func (s *stubInvoices) GetInvoice(_ context.Context, id string) (*entity.Invoice, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Invoice{ID: id, InvoiceNumber: "INV-202600001"}, nil
}

func (s *stubInvoices) GetInvoiceByBooking(_ context.Context, bookingID string) (*entity.Invoice, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Invoice{BookingID: bookingID, InvoiceNumber: "INV-202600001"}, nil
}

func (s *stubInvoices) RenderInvoicePDF(_ context.Context, id string) ([]byte, *entity.Invoice, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return []byte("%PDF-1.3 test"), &entity.Invoice{ID: id, InvoiceNumber: "INV-202600007"}, nil
}

type stubSettings map[string]string

func (s stubSettings) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func (s stubSettings) Set(_ context.Context, key, value string) error {
	s[key] = value
	return nil
}

type stubQueue struct{}

func (stubQueue) GetQueueStats(context.Context) (*queue.QueueStats, error) {
	return &queue.QueueStats{MainQueue: 3, DLQ: 1}, nil
}

func (stubQueue) FailedTasks(_ context.Context, limit int) ([]*queue.FailedTask, error) {
	return []*queue.FailedTask{{
		Task:     &queue.Task{ID: "t-1", Type: queue.TaskTypeSendSMS},
		Error:    "gateway down",
		Attempts: limit,
	}}, nil
}

func newTestRouter(bookings *stubBookings, invoices *stubInvoices, settings stubSettings) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return InitRoutes(Handlers{
		Booking:  NewBookingHandler(bookings, invoices),
		Invoice:  NewInvoiceHandler(invoices),
		Settings: NewSettingsHandler(settings),
		Admin:    NewAdminHandler(stubQueue{}),
	}, &config.ServerConfig{AppVersion: "test", Timeout: 5 * time.Second})
}

func doRequest(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateBookingHandler(t *testing.T) {
	bookings := &stubBookings{}
	router := newTestRouter(bookings, &stubInvoices{}, stubSettings{})

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
		"passengerId":       "p-1",
		"pickupAddress":     "Airport",
		"scheduledDateTime": "2026-09-01T10:00:00Z",
		"baseFare":          "45.50",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	require.NotNil(t, bookings.lastCreate)
	assert.True(t, bookings.lastCreate.BaseFare.Equal(45.5))

	var resp struct {
		Success bool           `json:"success"`
		Data    entity.Booking `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "b-1", resp.Data.ID)
}

func TestCreateBookingHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   map[string]interface{}
		status int
	}{
		{"missing fields", nil, map[string]interface{}{"pickupAddress": "x"}, http.StatusBadRequest},
		{"invalid input", entity.ErrInvalidInput, nil, http.StatusBadRequest},
		{"invoice failure", &entity.InvoiceCreationError{BookingID: "b", Err: errors.New("db")}, nil, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), nil, http.StatusInternalServerError},
	}

	valid := map[string]interface{}{
		"passengerId":       "p-1",
		"pickupAddress":     "Airport",
		"scheduledDateTime": "2026-09-01T10:00:00Z",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubBookings{err: tt.err}, &stubInvoices{}, stubSettings{})
			body := tt.body
			if body == nil {
				body = valid
			}

			w := doRequest(router, http.MethodPost, "/api/v1/bookings", body)
			assert.Equal(t, tt.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestBookingRoutes(t *testing.T) {
	bookings := &stubBookings{}
	router := newTestRouter(bookings, &stubInvoices{}, stubSettings{})

	w := doRequest(router, http.MethodPost, "/api/v1/bookings/b-9/assign", map[string]interface{}{
		"driverId":      "d-1",
		"driverPayment": 80,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "d-1", bookings.lastDriverID)
	require.NotNil(t, bookings.lastPayment)
	assert.True(t, bookings.lastPayment.Equal(80))

	w = doRequest(router, http.MethodPost, "/api/v1/bookings/b-9/charges", map[string]interface{}{
		"description": "Waiting",
		"amount":      12,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPatch, "/api/v1/bookings/b-9", map[string]interface{}{"status": "confirmed"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/bookings/b-9/invoice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "INV-202600001")
}

func TestBookingRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{entity.ErrBookingNotFound, http.StatusNotFound},
		{entity.ErrDriverAssignmentNotAllowed, http.StatusConflict},
		{entity.ErrInvalidBookingStatus, http.StatusBadRequest},
	}

	for _, tt := range tests {
		router := newTestRouter(&stubBookings{err: tt.err}, &stubInvoices{}, stubSettings{})
		w := doRequest(router, http.MethodPost, "/api/v1/bookings/b-1/assign", map[string]interface{}{"driverId": "d"})
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
	}
}

func TestInvoicePDF(t *testing.T) {
	router := newTestRouter(&stubBookings{}, &stubInvoices{}, stubSettings{})

	w := doRequest(router, http.MethodGet, "/api/v1/invoices/inv-1/pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "INV-202600007.pdf")

	router = newTestRouter(&stubBookings{}, &stubInvoices{err: entity.ErrInvoiceNotFound}, stubSettings{})
	w = doRequest(router, http.MethodGet, "/api/v1/invoices/missing/pdf", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsRoutes(t *testing.T) {
	settings := stubSettings{}
	router := newTestRouter(&stubBookings{}, &stubInvoices{}, settings)
	path := "/api/v1/admin/settings/" + service.SettingKeyCommission

	w := doRequest(router, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodPut, path, map[string]string{"value": "120"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPut, path, map[string]string{"value": " 25 "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "25", settings[service.SettingKeyCommission])

	w = doRequest(router, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":"25"`)
}

func TestHealthAndQueueStats(t *testing.T) {
	router := newTestRouter(&stubBookings{}, &stubInvoices{}, stubSettings{})

	w := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = doRequest(router, http.MethodGet, "/api/v1/admin/queue/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"main_queue":3`)

	w = doRequest(router, http.MethodGet, "/api/v1/admin/queue/failed?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"gateway down"`)
	assert.Contains(t, w.Body.String(), `"attempts":5`)

	w = doRequest(router, http.MethodGet, "/api/v1/admin/queue/failed?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
