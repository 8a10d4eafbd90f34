package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type BookingType string

const (
	BookingTypeTransfer BookingType = "transfer"
	BookingTypeHourly   BookingType = "hourly"
)

type BookingStatus string

const (
	BookingStatusPending                 BookingStatus = "pending"
	BookingStatusPendingDriverAcceptance BookingStatus = "pending_driver_acceptance"
	BookingStatusConfirmed               BookingStatus = "confirmed"
	BookingStatusOnTheWay                BookingStatus = "on_the_way"
	BookingStatusArrived                 BookingStatus = "arrived"
	BookingStatusOnBoard                 BookingStatus = "on_board"
	BookingStatusInProgress              BookingStatus = "in_progress"
	BookingStatusCompleted               BookingStatus = "completed"
	BookingStatusCancelled               BookingStatus = "cancelled"
)

// statusRank orders the forward lifecycle. Cancelled sits outside the chain.
var statusRank = map[BookingStatus]int{
	BookingStatusPending:                 0,
	BookingStatusPendingDriverAcceptance: 1,
	BookingStatusConfirmed:               2,
	BookingStatusOnTheWay:                3,
	BookingStatusArrived:                 4,
	BookingStatusOnBoard:                 5,
	BookingStatusInProgress:              6,
	BookingStatusCompleted:               7,
	BookingStatusCancelled:               8,
}

func (s BookingStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further status changes are accepted.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

// AllowsDriver reports whether a booking in this status may carry a driver.
func (s BookingStatus) AllowsDriver() bool {
	return statusRank[s] >= statusRank[BookingStatusPendingDriverAcceptance]
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func (t BookingType) Valid() bool {
	return t == BookingTypeTransfer || t == BookingTypeHourly
}

// Surcharge is a line item appended after the booking was created.
type Surcharge struct {
	Description string    `json:"description"`
	Amount      Money     `json:"amount"`
	AddedBy     string    `json:"addedBy"`
	AddedAt     time.Time `json:"addedAt"`
}

// Surcharges is stored as a JSONB array.
type Surcharges []Surcharge

func (s Surcharges) Total() Money {
	var sum Money
	for _, c := range s {
		sum += c.Amount
	}
	return sum.Round()
}

// Value encodes as a JSON string; lib/pq sends []byte parameters as bytea.
func (s Surcharges) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (s *Surcharges) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = Surcharges{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into Surcharges", value)
	}
	if len(raw) == 0 {
		*s = Surcharges{}
		return nil
	}
	var out Surcharges
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode surcharges: %w", err)
	}
	*s = out
	return nil
}

type Booking struct {
	ID                 string        `json:"id" db:"id"`
	BookingType        BookingType   `json:"bookingType" db:"booking_type"`
	Status             BookingStatus `json:"status" db:"status"`
	PassengerID        string        `json:"passengerId" db:"passenger_id"`
	DriverID           *string       `json:"driverId" db:"driver_id"`
	VehicleTypeID      string        `json:"vehicleTypeId" db:"vehicle_type_id"`
	PickupAddress      string        `json:"pickupAddress" db:"pickup_address"`
	DestinationAddress string        `json:"destinationAddress" db:"destination_address"`

	BaseFare               Money      `json:"baseFare" db:"base_fare"`
	GratuityAmount         Money      `json:"gratuityAmount" db:"gratuity_amount"`
	AirportFeeAmount       Money      `json:"airportFeeAmount" db:"airport_fee_amount"`
	SurgePricingMultiplier Money      `json:"surgePricingMultiplier" db:"surge_pricing_multiplier"`
	SurgePricingAmount     Money      `json:"surgePricingAmount" db:"surge_pricing_amount"`
	RegularPrice           Money      `json:"regularPrice" db:"regular_price"`
	DiscountPercentage     Money      `json:"discountPercentage" db:"discount_percentage"`
	DiscountAmount         Money      `json:"discountAmount" db:"discount_amount"`
	TotalAmount            Money      `json:"totalAmount" db:"total_amount"`
	DriverPayment          *Money     `json:"driverPayment" db:"driver_payment"`
	Surcharges             Surcharges `json:"surcharges" db:"surcharges"`

	PaymentStatus   PaymentStatus `json:"paymentStatus" db:"payment_status"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty" db:"payment_intent_id"`

	ScheduledDateTime time.Time  `json:"scheduledDateTime" db:"scheduled_date_time"`
	BookedAt          *time.Time `json:"bookedAt" db:"booked_at"`
	AssignedAt        *time.Time `json:"assignedAt" db:"assigned_at"`
	AcceptedAt        *time.Time `json:"acceptedAt" db:"accepted_at"`
	StartedAt         *time.Time `json:"startedAt" db:"started_at"`
	PobAt             *time.Time `json:"pobAt" db:"pob_at"`
	EndedAt           *time.Time `json:"endedAt" db:"ended_at"`
	CancelledAt       *time.Time `json:"cancelledAt" db:"cancelled_at"`
	AutoCancelledAt   *time.Time `json:"autoCancelledAt" db:"auto_cancelled_at"`
	ReminderSentAt    *time.Time `json:"reminderSentAt" db:"reminder_sent_at"`
	MarkedCompletedAt *time.Time `json:"markedCompletedAt" db:"marked_completed_at"`
	CancelReason      string     `json:"cancelReason,omitempty" db:"cancel_reason"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasDriver reports whether a driver has been assigned.
func (b *Booking) HasDriver() bool {
	return b.DriverID != nil && *b.DriverID != ""
}

// ComputedTotal is regularPrice - discountAmount + sum(surcharges).
func (b *Booking) ComputedTotal() Money {
	return (b.RegularPrice - b.DiscountAmount + b.Surcharges.Total()).Round()
}

// ApplyPricing fills the derived pricing fields from the fare components.
// A zero regular price is rebuilt from the components; a zero discount amount is
// derived from the discount percentage.
func (b *Booking) ApplyPricing() {
	if b.SurgePricingMultiplier == 0 {
		b.SurgePricingMultiplier = 1
	}
	if b.RegularPrice == 0 {
		b.RegularPrice = (b.BaseFare + b.GratuityAmount + b.AirportFeeAmount + b.SurgePricingAmount).Round()
	}
	if b.DiscountAmount == 0 && b.DiscountPercentage > 0 {
		b.DiscountAmount = (b.RegularPrice * b.DiscountPercentage / 100).Round()
	}
	b.TotalAmount = b.ComputedTotal()
}
