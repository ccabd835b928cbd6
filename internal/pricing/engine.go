package pricing

import "errors"

// Money represents a monetary value stored in minor units (cents, paise).
type Money = int64

// CouponKind selects the discount arithmetic applied by a coupon.
type CouponKind string

const (
	// KindPercent subtracts a percentage (expressed in basis points) from
	// each unit price.
	KindPercent CouponKind = "percent"
	// KindFixed subtracts a flat amount from each unit price.
	KindFixed CouponKind = "fixed_amount"
)

// ErrInvalidCouponKind is returned when a coupon declares both a percentage
// and a fixed discount, or an unrecognised kind.
var ErrInvalidCouponKind = errors.New("pricing: invalid coupon kind")

// Item describes a line item used for total calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Coupon captures an order-level discount. Exactly one of PercentBps or
// Amount may be set, matching Kind.
type Coupon struct {
	Code       string
	Kind       CouponKind
	PercentBps int32
	Amount     Money
}

// Compute calculates the payable total for the given line items after
// applying the optional coupon to each unit price, clamped at a non-negative
// floor. The function is pure and deterministic: the gateway is charged this
// exact value and reconciliation later recomputes it for comparison.
func Compute(items []Item, coupon *Coupon) (Money, error) {
	if err := validateCoupon(coupon); err != nil {
		return 0, err
	}
	var total Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		unit := it.UnitPrice - discount(it.UnitPrice, coupon)
		if unit < 0 {
			unit = 0
		}
		total += unit * Money(it.Qty)
	}
	return total, nil
}

func validateCoupon(c *Coupon) error {
	if c == nil {
		return nil
	}
	if c.PercentBps != 0 && c.Amount != 0 {
		return ErrInvalidCouponKind
	}
	switch c.Kind {
	case KindPercent, KindFixed:
		return nil
	}
	return ErrInvalidCouponKind
}

func discount(unit Money, c *Coupon) Money {
	if c == nil {
		return 0
	}
	switch c.Kind {
	case KindPercent:
		if c.PercentBps <= 0 {
			return 0
		}
		return (unit * Money(c.PercentBps)) / 10000
	case KindFixed:
		if c.Amount <= 0 {
			return 0
		}
		return c.Amount
	}
	return 0
}
