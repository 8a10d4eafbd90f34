package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Invoice struct {
	ID                     string     `json:"id" db:"id"`
	InvoiceNumber          string     `json:"invoiceNumber" db:"invoice_number"`
	BookingID              string     `json:"bookingId" db:"booking_id"`
	BaseFare               Money      `json:"baseFare" db:"base_fare"`
	GratuityAmount         Money      `json:"gratuityAmount" db:"gratuity_amount"`
	AirportFeeAmount       Money      `json:"airportFeeAmount" db:"airport_fee_amount"`
	SurgePricingMultiplier Money      `json:"surgePricingMultiplier" db:"surge_pricing_multiplier"`
	SurgePricingAmount     Money      `json:"surgePricingAmount" db:"surge_pricing_amount"`
	Subtotal               Money      `json:"subtotal" db:"subtotal"`
	DiscountPercentage     Money      `json:"discountPercentage" db:"discount_percentage"`
	DiscountAmount         Money      `json:"discountAmount" db:"discount_amount"`
	TaxAmount              Money      `json:"taxAmount" db:"tax_amount"`
	TotalAmount            Money      `json:"totalAmount" db:"total_amount"`
	PaidAt                 *time.Time `json:"paidAt" db:"paid_at"`
	CreatedAt              time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time  `json:"updatedAt" db:"updated_at"`
}

// ApplyBooking copies the derived financial fields from the booking.
// Tax is always zero until a tax engine exists.
func (inv *Invoice) ApplyBooking(b *Booking) {
	inv.BookingID = b.ID
	inv.BaseFare = b.BaseFare.Round()
	inv.GratuityAmount = b.GratuityAmount.Round()
	inv.AirportFeeAmount = b.AirportFeeAmount.Round()
	inv.SurgePricingMultiplier = b.SurgePricingMultiplier
	inv.SurgePricingAmount = b.SurgePricingAmount.Round()
	inv.Subtotal = b.RegularPrice.Round()
	inv.DiscountPercentage = b.DiscountPercentage
	inv.DiscountAmount = b.DiscountAmount.Round()
	inv.TaxAmount = 0
	inv.TotalAmount = b.TotalAmount.Round()
}

const (
	invoicePrefix    = "INV-"
	invoiceSeqDigits = 5
)

// MaxInvoiceSequence is the largest sequence FormatInvoiceNumber can render in five
// digits. Past it a year's numbers come from the timestamp fallback.
const MaxInvoiceSequence = 99999

// InvoiceNumberPrefix returns "INV-{year}".
func InvoiceNumberPrefix(year int) string {
	return fmt.Sprintf("%s%04d", invoicePrefix, year)
}

// FormatInvoiceNumber renders INV-{year}{5-digit zero-padded sequence}. seq must be
// between 0 and MaxInvoiceSequence.
func FormatInvoiceNumber(year, seq int) string {
	return fmt.Sprintf("%s%0*d", InvoiceNumberPrefix(year), invoiceSeqDigits, seq)
}

// ParseInvoiceSequence extracts the trailing sequence of a number with the given year.
func ParseInvoiceSequence(number string, year int) (int, bool) {
	prefix := InvoiceNumberPrefix(year)
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
