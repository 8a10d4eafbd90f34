package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is a currency amount kept at two decimal places.
// Malformed stored values decode as zero instead of failing the caller.
type Money float64

// Round returns the amount rounded half away from zero to 2 decimals.
func (m Money) Round() Money {
	return Money(math.Round(float64(m)*100) / 100)
}

func (m Money) Float64() float64 {
	return float64(m)
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f", float64(m))
}

// Equal compares two amounts to the cent.
func (m Money) Equal(other Money) bool {
	return math.Abs(float64(m-other)) < 0.005+1e-9
}

// ParseMoney parses a stored amount, coercing anything non-numeric to 0.
func ParseMoney(s string) Money {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return Money(f)
}

func (m Money) Value() (driver.Value, error) {
	return float64(m.Round()), nil
}

func (m *Money) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = 0
	case float64:
		*m = Money(v)
	case int64:
		*m = Money(v)
	case []byte:
		*m = ParseMoney(string(v))
	case string:
		*m = ParseMoney(v)
	default:
		*m = 0
	}
	return nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = 0
		return nil
	}
	switch v := raw.(type) {
	case float64:
		*m = Money(v)
	case string:
		*m = ParseMoney(v)
	default:
		*m = 0
	}
	return nil
}
