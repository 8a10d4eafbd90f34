package service

import (
	"context"
	"fmt"
	"time"

	repository "github.com/ds124wfegd/transferbook/internal/database/postgres"
	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/pkg/retry"

	"github.com/sirupsen/logrus"
)

// invoiceNumberGenerator allocates INV-{year}{seq} numbers by reading the current
// maximum and checking the candidate. There is no central allocator; the unique
// constraint on invoice_number is the real guard and callers retry on it.
type invoiceNumberGenerator struct {
	repo     repository.InvoiceRepository
	attempts int
	delay    time.Duration
	now      func() time.Time
}

func newInvoiceNumberGenerator(repo repository.InvoiceRepository, attempts int, delay time.Duration, now func() time.Time) *invoiceNumberGenerator {
	if attempts <= 0 {
		attempts = 3
	}
	return &invoiceNumberGenerator{repo: repo, attempts: attempts, delay: delay, now: now}
}

func (g *invoiceNumberGenerator) Generate(ctx context.Context) (string, error) {
	year := g.now().Year()
	prefix := entity.InvoiceNumberPrefix(year)

	for attempt := 1; attempt <= g.attempts; attempt++ {
		seq := 1
		latest, ok, err := g.repo.LatestNumber(ctx, prefix)
		if err != nil {
			return "", err
		}
		if ok {
			if n, parsed := entity.ParseInvoiceSequence(latest, year); parsed {
				seq = n + 1
			}
		}

		if seq > entity.MaxInvoiceSequence {
			number := fallbackInvoiceNumber(year, g.now())
			logrus.WithFields(logrus.Fields{
				"latest":         latest,
				"invoice_number": number,
			}).Warn("Invoice sequence exhausted for the year, using timestamp number")
			return number, nil
		}

		candidate := entity.FormatInvoiceNumber(year, seq)
		exists, err := g.repo.NumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}

		logrus.WithFields(logrus.Fields{
			"invoice_number": candidate,
			"attempt":        attempt,
		}).Debug("Invoice number taken, re-reading sequence")

		if attempt < g.attempts {
			if err := retry.Sleep(ctx, retry.Linear(g.delay, attempt)); err != nil {
				return "", err
			}
		}
	}

	number := fallbackInvoiceNumber(year, g.now())
	logrus.WithField("invoice_number", number).Warn("Invoice sequence contended, using timestamp number")
	return number, nil
}

// fallbackInvoiceNumber keeps the INV-{year}{5 digits} shape using the epoch millis tail.
func fallbackInvoiceNumber(year int, now time.Time) string {
	return fmt.Sprintf("%s%05d", entity.InvoiceNumberPrefix(year), now.UnixMilli()%100000)
}
