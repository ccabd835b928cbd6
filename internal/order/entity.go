package order

import (
	"time"

	"github.com/noah-isme/backend-tix/internal/pricing"
)

// Status is the lifecycle state of an order. Transitions form a DAG with
// terminal states; once terminal, the gateway layer accepts no further
// transition.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether this layer may move an order from one status
// to another. Refunded is reachable only through the out-of-scope admin path
// and is never requested here.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusDraft:
		switch to {
		case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
			return true
		}
	case StatusPending:
		switch to {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return true
		}
	}
	return false
}

// LineItem is one priced position of an order.
type LineItem struct {
	TicketID  string
	UnitPrice pricing.Money
	Qty       int
}

// Attendee carries the contact fields needed to build a gateway request.
type Attendee struct {
	Name  string
	Email string
	Phone string
}

// Order is the persisted aggregate this layer reconciles. The payment token
// is the opaque, unguessable join key between the local system and the
// gateway for the whole lifecycle; it identifies exactly one order and is
// never reused.
type Order struct {
	PaymentToken string
	Currency     string
	Items        []LineItem
	Coupon       *pricing.Coupon
	Status       Status
	Attendees    []Attendee
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Total recomputes the payable amount from the line items and coupon. The
// total is derived, never stored independently, so recomputation reproduces
// the value the gateway was charged.
func (o Order) Total() (pricing.Money, error) {
	items := make([]pricing.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, pricing.Item{Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return pricing.Compute(items, o.Coupon)
}

// Buyer returns the primary contact used for the outbound gateway request.
func (o Order) Buyer() Attendee {
	if len(o.Attendees) > 0 {
		return o.Attendees[0]
	}
	return Attendee{}
}

// Reconciliation is the audit record associated with a status transition,
// describing which notification caused it. The transition is not considered
// to have happened until this record is durably associated with the new
// status.
type Reconciliation struct {
	ID            string
	PaymentToken  string
	Gateway       string
	Outcome       string
	TransactionID string
	Envelope      []byte
	CreatedAt     time.Time
}
