package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-tix/internal/pricing"
)

// PGStore persists orders in Postgres. Transitions take a row lock on the
// order so that two reconcilers racing on the same token serialise; exactly
// one observes the pre-terminal status and wins.
type PGStore struct {
	Pool *pgxpool.Pool
}

// GetByToken implements Store.
func (p *PGStore) GetByToken(ctx context.Context, token string) (Order, error) {
	if p == nil || p.Pool == nil {
		return Order{}, errors.New("order: pg store not configured")
	}
	var (
		o          Order
		couponCode *string
		couponKind *string
		couponBps  *int32
		couponAmt  *int64
	)
	err := p.Pool.QueryRow(ctx, `
		SELECT payment_token, currency, status,
		       coupon_code, coupon_kind, coupon_percent_bps, coupon_amount,
		       created_at, updated_at
		FROM orders WHERE payment_token = $1`, token).
		Scan(&o.PaymentToken, &o.Currency, &o.Status,
			&couponCode, &couponKind, &couponBps, &couponAmt,
			&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: fetch: %w", err)
	}
	o.Coupon = scanCoupon(couponCode, couponKind, couponBps, couponAmt)

	if o.Items, err = p.listItems(ctx, token); err != nil {
		return Order{}, err
	}
	if o.Attendees, err = p.listAttendees(ctx, token); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (p *PGStore) listItems(ctx context.Context, token string) ([]LineItem, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT ticket_id, unit_price, qty
		FROM order_items WHERE payment_token = $1 ORDER BY position`, token)
	if err != nil {
		return nil, fmt.Errorf("order: list items: %w", err)
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.TicketID, &it.UnitPrice, &it.Qty); err != nil {
			return nil, fmt.Errorf("order: scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (p *PGStore) listAttendees(ctx context.Context, token string) ([]Attendee, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT name, email, phone
		FROM attendees WHERE payment_token = $1 ORDER BY position`, token)
	if err != nil {
		return nil, fmt.Errorf("order: list attendees: %w", err)
	}
	defer rows.Close()
	var out []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.Name, &a.Email, &a.Phone); err != nil {
			return nil, fmt.Errorf("order: scan attendee: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Transition implements Store. The status check and update run inside one
// transaction with SELECT ... FOR UPDATE, and the reconciliation record is
// inserted in the same transaction: no transition exists until the audit row
// is durably associated with the new status.
func (p *PGStore) Transition(ctx context.Context, token string, from []Status, to Status, rec *Reconciliation) (Order, error) {
	if p == nil || p.Pool == nil {
		return Order{}, errors.New("order: pg store not configured")
	}
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("order: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE payment_token = $1 FOR UPDATE`, token).
		Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: lock row: %w", err)
	}
	if !statusIn(current, from) {
		// Caller sees the order as it stands, typically already terminal.
		o, gerr := p.GetByToken(ctx, token)
		if gerr != nil {
			o = Order{PaymentToken: token, Status: current}
		}
		return o, fmt.Errorf("%w: %s", ErrStatusConflict, current)
	}
	if !CanTransition(current, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE payment_token = $1`,
		token, to); err != nil {
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}
	if rec != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reconciliations (id, payment_token, gateway, outcome, transaction_id, envelope)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), token, rec.Gateway, rec.Outcome, rec.TransactionID, rec.Envelope); err != nil {
			return Order{}, fmt.Errorf("order: record reconciliation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit transition: %w", err)
	}
	return p.GetByToken(ctx, token)
}

func scanCoupon(code, kind *string, bps *int32, amount *int64) *pricing.Coupon {
	if kind == nil || strings.TrimSpace(*kind) == "" {
		return nil
	}
	c := &pricing.Coupon{Kind: pricing.CouponKind(*kind)}
	if code != nil {
		c.Code = *code
	}
	if bps != nil {
		c.PercentBps = *bps
	}
	if amount != nil {
		c.Amount = *amount
	}
	return c
}
