package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// moneyScale is the number of decimal digits all monetary amounts carry.
// Every amount in the ledger is stored as an integer count of minor units
// (cents), so arithmetic never touches binary floating point.
const moneyScale = 2

// Money is a fixed-point amount in minor units with an ISO 4217 currency code.
type Money struct {
	Amount   int64  `json:"amount"` // minor units (cents)
	Currency string `json:"currency"`
}

// NewMoney builds a Money value from minor units, validating the currency.
func NewMoney(minorUnits int64, currency string) (Money, error) {
	if !validCurrency(currency) {
		return Money{}, ErrInvalidCurrency
	}
	return Money{Amount: minorUnits, Currency: currency}, nil
}

// ZeroMoney returns the zero amount in the given currency. The currency is
// assumed to be validated already.
func ZeroMoney(currency string) Money {
	return Money{Amount: 0, Currency: currency}
}

// ParseMoney parses a decimal string like "120.00" into minor units without
// going through a float. Values with more than two decimal digits are
// rejected rather than rounded.
func ParseMoney(value, currency string) (Money, error) {
	if !validCurrency(currency) {
		return Money{}, ErrInvalidCurrency
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	minor := d.Shift(moneyScale)
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %q exceeds scale of %d", ErrInvalidAmount, value, moneyScale)
	}
	// IntPart truncates silently past int64, so an absurd webhook amount
	// would otherwise wrap into a small valid one.
	if !minor.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("%w: %q exceeds the representable range", ErrInvalidAmount, value)
	}

	return Money{Amount: minor.IntPart(), Currency: currency}, nil
}

// Add returns m + o. Fails if the currencies differ.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

// Sub returns m - o. Fails if the currencies differ or the result would be
// negative; the ledger never holds negative balances.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	if o.Amount > m.Amount {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrInsufficientAmount, m, o)
	}
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}, nil
}

// Cmp compares m against o: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) (int, error) {
	if m.Currency != o.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	switch {
	case m.Amount < o.Amount:
		return -1, nil
	case m.Amount > o.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return o, nil
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// DecimalString renders the amount at full scale without the currency,
// e.g. "120.00". This is the wire format for amounts.
func (m Money) DecimalString() string {
	return decimal.New(m.Amount, -moneyScale).StringFixed(moneyScale)
}

// String renders the amount at full scale, e.g. "120.00 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.DecimalString(), m.Currency)
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
