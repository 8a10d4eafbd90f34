package invoicepdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/phpdave11/gofpdf"
)

// Document is everything printed on an invoice.
type Document struct {
	Company   string
	Currency  string
	Invoice   *entity.Invoice
	Booking   *entity.Booking
	Passenger *entity.User
}

type line struct {
	label  string
	amount entity.Money
}

func (d Document) lines() []line {
	inv := d.Invoice
	out := []line{
		{"Base fare", inv.BaseFare},
		{"Gratuity", inv.GratuityAmount},
		{"Airport fee", inv.AirportFeeAmount},
		{"Surge", inv.SurgePricingAmount},
	}
	if d.Booking != nil {
		for _, s := range d.Booking.Surcharges {
			out = append(out, line{s.Description, s.Amount})
		}
	}
	return out
}

// Render writes an A4 PDF and returns its bytes.
func Render(d Document) ([]byte, error) {
	if d.Invoice == nil {
		return nil, fmt.Errorf("invoicepdf: nil invoice")
	}
	inv := d.Invoice

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Invoice "+inv.InvoiceNumber, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, d.Company)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, "Invoice: "+inv.InvoiceNumber)
	pdf.Ln(7)
	pdf.Cell(0, 7, "Date: "+inv.CreatedAt.Format("2006-01-02"))
	pdf.Ln(7)
	if inv.PaidAt != nil {
		pdf.Cell(0, 7, "Paid: "+inv.PaidAt.Format(time.RFC1123))
		pdf.Ln(7)
	}
	pdf.Ln(3)

	if d.Passenger != nil {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, "Billed to")
		pdf.Ln(7)
		pdf.SetFont("Helvetica", "", 12)
		pdf.Cell(0, 7, d.Passenger.FullName())
		pdf.Ln(7)
		if d.Passenger.Email != "" {
			pdf.Cell(0, 7, d.Passenger.Email)
			pdf.Ln(7)
		}
		pdf.Ln(3)
	}

	if d.Booking != nil {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, fmt.Sprintf("%s -> %s, %s",
			d.Booking.PickupAddress, d.Booking.DestinationAddress,
			d.Booking.ScheduledDateTime.Format("2006-01-02 15:04")), "", "", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "", 11)
	for _, l := range d.lines() {
		if l.amount == 0 {
			continue
		}
		amountRow(pdf, l.label, l.amount, d.Currency)
	}

	pdf.Ln(2)
	amountRow(pdf, "Subtotal", inv.Subtotal, d.Currency)
	if inv.DiscountAmount != 0 {
		amountRow(pdf, "Discount", -inv.DiscountAmount, d.Currency)
	}
	amountRow(pdf, "Tax", inv.TaxAmount, d.Currency)

	pdf.SetFont("Helvetica", "B", 12)
	amountRow(pdf, "Total", inv.TotalAmount, d.Currency)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("invoicepdf: %w", err)
	}
	return buf.Bytes(), nil
}

func amountRow(pdf *gofpdf.Fpdf, label string, amount entity.Money, currency string) {
	pdf.CellFormat(120, 7, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("%s %s", amount.String(), currency), "", 1, "R", false, 0, "")
}
