// Package amount computes and guards the authoritative order total.
//
// Every place that needs an order total (order creation, the pre-payment
// re-check, gateway payload construction) goes through Total, so the cart
// shown to the customer and the amount sent to a gateway cannot drift apart.
package amount

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Financial guardrail errors. They are always surfaced, never corrected.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAmountExceedsLimit = errors.New("amount exceeds limit")
	ErrAmountMismatch     = errors.New("amount mismatch")
)

// DefaultCeiling is the largest order total accepted when no ceiling is configured.
var DefaultCeiling = decimal.NewFromInt(1_000_000)

// epsilon is the tolerance used when comparing a gateway-reported amount
// with the stored one.
var epsilon = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Line is a single priced cart line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// NormalizePrice coerces a negative unit price to zero.
func NormalizePrice(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// NormalizeQuantity coerces a quantity below one to one.
func NormalizeQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}

// ParsePrice parses a raw unit price. Unparseable, empty and negative
// values become zero.
func ParsePrice(raw string) decimal.Decimal {
	p, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return NormalizePrice(p)
}

// ParseQuantity parses a raw quantity using its leading integer, so "3",
// "3.7" and "3 pcs" all yield 3. Unparseable values and values below one
// become one.
func ParseQuantity(raw string) int {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	q, err := strconv.Atoi(s[:end])
	if err != nil {
		return 1
	}
	return NormalizeQuantity(q)
}

// Total returns Σ price × quantity over normalized lines, rounded to two
// fraction digits. It is pure and deterministic.
func Total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(NormalizeQuantity(l.Quantity)))
		sum = sum.Add(NormalizePrice(l.UnitPrice).Mul(qty))
	}
	return sum.Round(2)
}

// Matches reports whether two amounts are less than one cent apart.
func Matches(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(epsilon)
}

// MinorUnits converts a major-unit amount into an integer count of minor
// units, rounding half away from zero.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts a count of minor units back into a major-unit amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// Format renders an amount with exactly two fraction digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Guard rejects totals outside (0, Ceiling].
type Guard struct {
	Ceiling decimal.Decimal
}

// NewGuard returns a Guard with the given ceiling, or DefaultCeiling when
// ceiling is not positive.
func NewGuard(ceiling decimal.Decimal) Guard {
	if !ceiling.IsPositive() {
		ceiling = DefaultCeiling
	}
	return Guard{Ceiling: ceiling}
}

// Reverify recomputes the total of lines and checks it against stored and
// the ceiling.
func (g Guard) Reverify(stored decimal.Decimal, lines []Line) error {
	total := Total(lines)
	if !Matches(total, stored) {
		return errors.Wrapf(ErrAmountMismatch, "stored %s, items total %s", Format(stored), Format(total))
	}
	return g.Check(total)
}

// Check validates total. It never adjusts the value.
func (g Guard) Check(total decimal.Decimal) error {
	if !total.IsPositive() {
		return errors.Wrapf(ErrInvalidAmount, "total %s", Format(total))
	}
	if total.GreaterThan(g.Ceiling) {
		return errors.Wrapf(ErrAmountExceedsLimit, "total %s above %s", Format(total), Format(g.Ceiling))
	}
	return nil
}
