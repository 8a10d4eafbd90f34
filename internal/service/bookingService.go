package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/ds124wfegd/transferbook/internal/database/postgres"
	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/internal/notification"
	"github.com/ds124wfegd/transferbook/pkg/events"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateBookingRequest is the input of CreateBooking
type CreateBookingRequest struct {
	BookingType        entity.BookingType   `json:"bookingType"`
	PassengerID        string               `json:"passengerId" binding:"required"`
	VehicleTypeID      string               `json:"vehicleTypeId"`
	PickupAddress      string               `json:"pickupAddress" binding:"required"`
	DestinationAddress string               `json:"destinationAddress"`
	ScheduledDateTime  time.Time            `json:"scheduledDateTime" binding:"required"`
	PaymentStatus      entity.PaymentStatus `json:"paymentStatus"`
	PaymentIntentID    string               `json:"paymentIntentId"`

	BaseFare               entity.Money `json:"baseFare"`
	GratuityAmount         entity.Money `json:"gratuityAmount"`
	AirportFeeAmount       entity.Money `json:"airportFeeAmount"`
	SurgePricingMultiplier entity.Money `json:"surgePricingMultiplier"`
	SurgePricingAmount     entity.Money `json:"surgePricingAmount"`
	RegularPrice           entity.Money `json:"regularPrice"`
	DiscountPercentage     entity.Money `json:"discountPercentage"`
	DiscountAmount         entity.Money `json:"discountAmount"`
}

// UpdateBookingRequest is a partial update; nil fields are left untouched
type UpdateBookingRequest struct {
	Status             *entity.BookingStatus `json:"status"`
	CancelReason       *string               `json:"cancelReason"`
	VehicleTypeID      *string               `json:"vehicleTypeId"`
	PickupAddress      *string               `json:"pickupAddress"`
	DestinationAddress *string               `json:"destinationAddress"`
	ScheduledDateTime  *time.Time            `json:"scheduledDateTime"`

	BaseFare               *entity.Money      `json:"baseFare"`
	GratuityAmount         *entity.Money      `json:"gratuityAmount"`
	AirportFeeAmount       *entity.Money      `json:"airportFeeAmount"`
	SurgePricingMultiplier *entity.Money      `json:"surgePricingMultiplier"`
	SurgePricingAmount     *entity.Money      `json:"surgePricingAmount"`
	RegularPrice           *entity.Money      `json:"regularPrice"`
	DiscountPercentage     *entity.Money      `json:"discountPercentage"`
	DiscountAmount         *entity.Money      `json:"discountAmount"`
	TotalAmount            *entity.Money      `json:"totalAmount"`
	Surcharges             *entity.Surcharges `json:"surcharges"`

	PaymentStatus   *entity.PaymentStatus `json:"paymentStatus"`
	PaymentIntentID *string               `json:"paymentIntentId"`
}

// ChargeRequest adds one surcharge line
type ChargeRequest struct {
	Description string       `json:"description" binding:"required"`
	Amount      entity.Money `json:"amount"`
	AddedBy     string       `json:"addedBy"`
}

// AssignDriverRequest is the HTTP body of a driver assignment
type AssignDriverRequest struct {
	DriverID      string        `json:"driverId" binding:"required"`
	DriverPayment *entity.Money `json:"driverPayment"`
}

func (r *UpdateBookingRequest) componentsTouched() bool {
	return r.BaseFare != nil || r.GratuityAmount != nil || r.AirportFeeAmount != nil ||
		r.SurgePricingMultiplier != nil || r.SurgePricingAmount != nil
}

func (r *UpdateBookingRequest) pricingTouched() bool {
	return r.componentsTouched() || r.RegularPrice != nil || r.DiscountPercentage != nil ||
		r.DiscountAmount != nil || r.TotalAmount != nil || r.Surcharges != nil
}

// billingTouched reports whether the invoice has to be re-synced
func (r *UpdateBookingRequest) billingTouched() bool {
	return r.pricingTouched() || r.PaymentStatus != nil
}

// driverAssignable lists the statuses a driver may be (re)assigned from
var driverAssignable = map[entity.BookingStatus]bool{
	entity.BookingStatusPending:                 true,
	entity.BookingStatusPendingDriverAcceptance: true,
	entity.BookingStatusConfirmed:               true,
}

type bookingService struct {
	bookingRepo       repository.BookingRepository
	userRepo          repository.UserRepository
	invoices          InvoiceService
	settings          SettingsProvider
	notifier          Notifier
	events            EventPublisher
	defaultCommission float64
	now               func() time.Time
}

// BookingDeps groups the optional collaborators of the booking service
type BookingDeps struct {
	Users             repository.UserRepository
	Settings          SettingsProvider
	Notifier          Notifier
	Events            EventPublisher
	DefaultCommission float64
}

func NewBookingService(bookingRepo repository.BookingRepository, invoices InvoiceService, deps BookingDeps) BookingService {
	return newBookingService(bookingRepo, invoices, deps, time.Now)
}

func newBookingService(bookingRepo repository.BookingRepository, invoices InvoiceService, deps BookingDeps, now func() time.Time) *bookingService {
	commission := deps.DefaultCommission
	if commission <= 0 || commission > 100 {
		commission = 30
	}
	return &bookingService{
		bookingRepo:       bookingRepo,
		userRepo:          deps.Users,
		invoices:          invoices,
		settings:          deps.Settings,
		notifier:          deps.Notifier,
		events:            deps.Events,
		defaultCommission: commission,
		now:               now,
	}
}

// CreateBooking persists the booking and its invoice. If the invoice cannot be
// created the booking row is deleted again and an *entity.InvoiceCreationError returned.
func (s *bookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*entity.Booking, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	booking := &entity.Booking{
		ID:                     uuid.NewString(),
		BookingType:            req.BookingType,
		Status:                 entity.BookingStatusPending,
		PassengerID:            req.PassengerID,
		VehicleTypeID:          req.VehicleTypeID,
		PickupAddress:          strings.TrimSpace(req.PickupAddress),
		DestinationAddress:     strings.TrimSpace(req.DestinationAddress),
		BaseFare:               req.BaseFare.Round(),
		GratuityAmount:         req.GratuityAmount.Round(),
		AirportFeeAmount:       req.AirportFeeAmount.Round(),
		SurgePricingMultiplier: req.SurgePricingMultiplier,
		SurgePricingAmount:     req.SurgePricingAmount.Round(),
		RegularPrice:           req.RegularPrice.Round(),
		DiscountPercentage:     req.DiscountPercentage,
		DiscountAmount:         req.DiscountAmount.Round(),
		Surcharges:             entity.Surcharges{},
		PaymentStatus:          req.PaymentStatus,
		PaymentIntentID:        req.PaymentIntentID,
		ScheduledDateTime:      req.ScheduledDateTime.UTC(),
		BookedAt:               &now,
		CreatedAt:              now,
	}
	if booking.BookingType == "" {
		booking.BookingType = entity.BookingTypeTransfer
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = entity.PaymentStatusPending
	}
	booking.ApplyPricing()

	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if _, err := s.invoices.CreateInvoiceForBooking(ctx, booking); err != nil {
		return nil, s.compensateBookingCreation(ctx, booking, err)
	}

	logrus.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"total":      booking.TotalAmount.String(),
	}).Info("Booking created")

	s.publish(ctx, events.BookingCreated, booking)
	return booking, nil
}

// compensateBookingCreation undoes the booking insert after a failed invoice insert.
func (s *bookingService) compensateBookingCreation(ctx context.Context, booking *entity.Booking, cause error) error {
	log := logrus.WithField("booking_id", booking.ID)
	log.WithError(cause).Error("Invoice creation failed, deleting booking")

	err := s.bookingRepo.Delete(context.WithoutCancel(ctx), booking.ID)
	if err != nil && !errors.Is(err, entity.ErrBookingNotFound) {
		log.WithError(err).Error("Compensating delete failed, booking left without invoice")
		cause = errors.Join(cause, fmt.Errorf("compensating delete: %w", err))
	}

	return &entity.InvoiceCreationError{BookingID: booking.ID, Err: cause}
}

func (s *bookingService) GetBooking(ctx context.Context, id string) (*entity.Booking, error) {
	return s.bookingRepo.GetByID(ctx, id)
}

// UpdateBooking applies a partial update and re-syncs the invoice when pricing or payment changed
func (s *bookingService) UpdateBooking(ctx context.Context, id string, req *UpdateBookingRequest) (*entity.Booking, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if req.Status != nil && *req.Status != booking.Status {
		if err := transition(booking, *req.Status, now); err != nil {
			return nil, err
		}
	}
	if req.CancelReason != nil {
		booking.CancelReason = *req.CancelReason
	}
	if req.VehicleTypeID != nil {
		booking.VehicleTypeID = *req.VehicleTypeID
	}
	if req.PickupAddress != nil {
		booking.PickupAddress = strings.TrimSpace(*req.PickupAddress)
	}
	if req.DestinationAddress != nil {
		booking.DestinationAddress = strings.TrimSpace(*req.DestinationAddress)
	}
	if req.ScheduledDateTime != nil {
		booking.ScheduledDateTime = req.ScheduledDateTime.UTC()
	}
	if req.PaymentStatus != nil {
		booking.PaymentStatus = *req.PaymentStatus
	}
	if req.PaymentIntentID != nil {
		booking.PaymentIntentID = *req.PaymentIntentID
	}
	if req.pricingTouched() {
		if err := applyPricingUpdate(booking, req); err != nil {
			return nil, err
		}
	}

	if err := s.bookingRepo.Update(ctx, booking); err != nil {
		return nil, err
	}

	if req.billingTouched() {
		if _, err := s.invoices.SyncInvoiceWithBooking(ctx, booking); err != nil {
			return nil, fmt.Errorf("booking %s updated but invoice sync failed: %w", booking.ID, err)
		}
	}

	s.publish(ctx, events.BookingUpdated, booking)
	return booking, nil
}

// AddAdditionalCharge appends a surcharge and recomputes the total from the pre-surcharge base.
func (s *bookingService) AddAdditionalCharge(ctx context.Context, id string, req *ChargeRequest) (*entity.Booking, error) {
	if req == nil || strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: charge description is required", entity.ErrInvalidInput)
	}

	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	base := booking.TotalAmount - booking.Surcharges.Total()
	booking.Surcharges = append(booking.Surcharges, entity.Surcharge{
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount.Round(),
		AddedBy:     req.AddedBy,
		AddedAt:     s.now().UTC(),
	})
	booking.TotalAmount = (base + booking.Surcharges.Total()).Round()

	if err := s.bookingRepo.Update(ctx, booking); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"amount":     req.Amount.String(),
		"total":      booking.TotalAmount.String(),
	}).Info("Additional charge added")
	return booking, nil
}

// ChargeBooking is AddAdditionalCharge followed by the invoice sync
func (s *bookingService) ChargeBooking(ctx context.Context, id string, req *ChargeRequest) (*entity.Booking, error) {
	booking, err := s.AddAdditionalCharge(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.invoices.SyncInvoiceWithBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("charge added to booking %s but invoice sync failed: %w", booking.ID, err)
	}
	return booking, nil
}

// AssignDriverToBooking sets the driver and their payment. Without an explicit
// payment the driver gets the total minus the configured commission.
func (s *bookingService) AssignDriverToBooking(ctx context.Context, id, driverID string, payment *entity.Money) (*entity.Booking, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", entity.ErrInvalidInput)
	}
	if payment != nil && *payment < 0 {
		return nil, fmt.Errorf("%w: driver payment must not be negative", entity.ErrInvalidInput)
	}

	booking, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !driverAssignable[booking.Status] {
		return nil, fmt.Errorf("%w: booking %s is %s", entity.ErrDriverAssignmentNotAllowed, booking.ID, booking.Status)
	}

	var driverPayment entity.Money
	if payment != nil {
		driverPayment = *payment
	} else {
		pct := s.commissionPercentage(ctx)
		driverPayment = entity.Money(booking.TotalAmount.Float64() * (1 - pct/100)).Round()
	}

	now := s.now().UTC()
	booking.DriverID = &driverID
	booking.DriverPayment = &driverPayment
	booking.Status = entity.BookingStatusPendingDriverAcceptance
	booking.AssignedAt = &now

	if err := s.bookingRepo.Update(ctx, booking); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"driver_id":      driverID,
		"driver_payment": driverPayment.String(),
	}).Info("Driver assigned")

	s.notifyAssignedDriver(ctx, booking)
	s.publish(ctx, events.BookingDriverAssigned, booking)
	return booking, nil
}

// commissionPercentage reads the setting, falling back to the configured default
// when it is missing, unreadable or outside 0..100.
func (s *bookingService) commissionPercentage(ctx context.Context) float64 {
	if s.settings == nil {
		return s.defaultCommission
	}

	raw, ok, err := s.settings.Get(ctx, SettingKeyCommission)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read commission setting, using default")
		return s.defaultCommission
	}
	if !ok {
		return s.defaultCommission
	}

	pct, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || pct < 0 || pct > 100 {
		logrus.WithField("value", raw).Warn("Invalid commission setting, using default")
		return s.defaultCommission
	}
	return pct
}

func (s *bookingService) notifyAssignedDriver(ctx context.Context, booking *entity.Booking) {
	if s.notifier == nil || s.userRepo == nil {
		return
	}

	log := logrus.WithField("booking_id", booking.ID)
	driver, err := s.userRepo.GetByID(ctx, *booking.DriverID)
	if err != nil {
		log.WithError(err).Warn("Driver lookup failed, assignment not notified")
		return
	}
	if driver.PhoneNumber == "" {
		return
	}
	if err := s.notifier.SendSMS(ctx, driver.PhoneNumber, notification.DriverAssignedSMS(booking)); err != nil {
		log.WithError(err).Warn("Failed to notify driver about assignment")
	}
}

func (s *bookingService) publish(ctx context.Context, eventType string, booking *entity.Booking) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, booking); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"event":      eventType,
		}).Warn("Failed to publish booking event")
	}
}

// transition changes the status and stamps the journey timestamps once.
func transition(b *entity.Booking, to entity.BookingStatus, now time.Time) error {
	if b.Status.Terminal() {
		return fmt.Errorf("%w: booking %s is already %s", entity.ErrInvalidBookingStatus, b.ID, b.Status)
	}
	if b.HasDriver() && !to.AllowsDriver() {
		return fmt.Errorf("%w: booking %s has a driver and cannot return to %s", entity.ErrInvalidBookingStatus, b.ID, to)
	}

	stamp := func(field **time.Time) {
		if *field == nil {
			t := now
			*field = &t
		}
	}

	switch to {
	case entity.BookingStatusConfirmed:
		stamp(&b.AcceptedAt)
	case entity.BookingStatusOnTheWay:
		stamp(&b.StartedAt)
	case entity.BookingStatusOnBoard, entity.BookingStatusInProgress:
		stamp(&b.PobAt)
	case entity.BookingStatusCompleted:
		stamp(&b.EndedAt)
		stamp(&b.MarkedCompletedAt)
	case entity.BookingStatusCancelled:
		stamp(&b.CancelledAt)
	}

	b.Status = to
	return nil
}

// applyPricingUpdate merges the given pricing fields. Omitted derived fields are
// recomputed from their inputs. The total is always regularPrice - discountAmount +
// surcharges; an explicit total is only accepted when it equals that.
func applyPricingUpdate(b *entity.Booking, req *UpdateBookingRequest) error {
	set := func(dst *entity.Money, src *entity.Money) {
		if src != nil {
			*dst = src.Round()
		}
	}
	set(&b.BaseFare, req.BaseFare)
	set(&b.GratuityAmount, req.GratuityAmount)
	set(&b.AirportFeeAmount, req.AirportFeeAmount)
	set(&b.SurgePricingAmount, req.SurgePricingAmount)
	if req.SurgePricingMultiplier != nil {
		b.SurgePricingMultiplier = *req.SurgePricingMultiplier
	}
	if req.DiscountPercentage != nil {
		b.DiscountPercentage = *req.DiscountPercentage
	}
	if req.Surcharges != nil {
		b.Surcharges = *req.Surcharges
	}

	switch {
	case req.RegularPrice != nil:
		b.RegularPrice = req.RegularPrice.Round()
	case req.componentsTouched():
		b.RegularPrice = (b.BaseFare + b.GratuityAmount + b.AirportFeeAmount + b.SurgePricingAmount).Round()
	}

	switch {
	case req.DiscountAmount != nil:
		b.DiscountAmount = req.DiscountAmount.Round()
	case req.DiscountPercentage != nil || req.RegularPrice != nil || req.componentsTouched():
		b.DiscountAmount = (b.RegularPrice * b.DiscountPercentage / 100).Round()
	}

	total := b.ComputedTotal()
	if req.TotalAmount != nil && !req.TotalAmount.Equal(total) {
		return fmt.Errorf("%w: totalAmount %s does not match computed total %s",
			entity.ErrInvalidInput, req.TotalAmount.String(), total.String())
	}
	b.TotalAmount = total
	return nil
}

func validateCreate(req *CreateBookingRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", entity.ErrInvalidInput)
	}
	if strings.TrimSpace(req.PassengerID) == "" {
		return fmt.Errorf("%w: passenger id is required", entity.ErrInvalidInput)
	}
	if req.ScheduledDateTime.IsZero() {
		return fmt.Errorf("%w: scheduled date time is required", entity.ErrInvalidInput)
	}
	if req.BookingType != "" && !req.BookingType.Valid() {
		return fmt.Errorf("%w: unknown booking type %q", entity.ErrInvalidInput, req.BookingType)
	}
	if req.PaymentStatus != "" && !req.PaymentStatus.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", entity.ErrInvalidInput, req.PaymentStatus)
	}
	return checkAmounts(map[string]entity.Money{
		"baseFare":           req.BaseFare,
		"gratuityAmount":     req.GratuityAmount,
		"airportFeeAmount":   req.AirportFeeAmount,
		"surgePricingAmount": req.SurgePricingAmount,
		"regularPrice":       req.RegularPrice,
		"discountPercentage": req.DiscountPercentage,
		"discountAmount":     req.DiscountAmount,
	})
}

func validateUpdate(req *UpdateBookingRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", entity.ErrInvalidInput)
	}
	if req.Status != nil && !req.Status.Valid() {
		return fmt.Errorf("%w: %q", entity.ErrInvalidBookingStatus, *req.Status)
	}
	if req.PaymentStatus != nil && !req.PaymentStatus.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", entity.ErrInvalidInput, *req.PaymentStatus)
	}

	amounts := map[string]entity.Money{}
	for name, v := range map[string]*entity.Money{
		"baseFare":           req.BaseFare,
		"gratuityAmount":     req.GratuityAmount,
		"airportFeeAmount":   req.AirportFeeAmount,
		"surgePricingAmount": req.SurgePricingAmount,
		"regularPrice":       req.RegularPrice,
		"discountPercentage": req.DiscountPercentage,
		"discountAmount":     req.DiscountAmount,
		"totalAmount":        req.TotalAmount,
	} {
		if v != nil {
			amounts[name] = *v
		}
	}
	return checkAmounts(amounts)
}

func checkAmounts(amounts map[string]entity.Money) error {
	for name, v := range amounts {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", entity.ErrInvalidInput, name)
		}
	}
	if pct, ok := amounts["discountPercentage"]; ok && pct > 100 {
		return fmt.Errorf("%w: discountPercentage must not exceed 100", entity.ErrInvalidInput)
	}
	return nil
}
