// Package ledger keeps a local record of every reservation created through staybook
// and how its payment ended.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/staybook/internal/db"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/shopspring/decimal"
)

type Entry struct {
	ReservationID string
	SessionID     string
	GuestID       string
	GuestEmail    string
	PropertyID    string
	RoomTypeID    string
	RatePlanID    string
	CheckIn       time.Time
	CheckOut      time.Time
	Currency      string
	TotalAmount   decimal.Decimal
	PaymentMethod string

	OrderCode          *string
	SettlementAmount   decimal.NullDecimal
	SettlementCurrency *string
	Outcome            *string
	LastError          *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

// Amounts travel as text so NUMERIC keeps every digit.
const selectEntry = `
SELECT reservation_id,session_id,guest_id,guest_email,property_id,room_type_id,rate_plan_id,check_in,check_out,currency,total_amount::text,payment_method,
       order_code,settlement_amount::text,settlement_currency,outcome,last_error,created_at,updated_at
FROM bookings`

func (r *Repo) RecordReservation(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO bookings(reservation_id,session_id,guest_id,guest_email,property_id,room_type_id,rate_plan_id,check_in,check_out,currency,total_amount,payment_method)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12)
ON CONFLICT (reservation_id) DO NOTHING`,
		e.ReservationID, e.SessionID, e.GuestID, strings.ToLower(e.GuestEmail), e.PropertyID, e.RoomTypeID, e.RatePlanID,
		e.CheckIn, e.CheckOut, e.Currency, e.TotalAmount.StringFixed(2), e.PaymentMethod,
	)
	return db.WrapNotFound(err)
}

func (r *Repo) RecordIntent(ctx context.Context, reservationID, orderCode string, amount decimal.Decimal, currency string) error {
	n, err := r.db.Exec(ctx, `
UPDATE bookings SET order_code=$2, settlement_amount=$3::numeric, settlement_currency=$4, outcome=NULL, last_error=NULL, updated_at=now()
WHERE reservation_id=$1`, reservationID, orderCode, amount.StringFixed(2), currency)
	if err != nil {
		return db.WrapNotFound(err)
	}
	if n == 0 {
		return fmt.Errorf("record intent for %s: %w", reservationID, internaltypes.ErrNotFound)
	}
	return nil
}

// RecordOutcome stores the terminal outcome of a reservation's payment. lastErr may be empty.
func (r *Repo) RecordOutcome(ctx context.Context, reservationID, outcome, lastErr string) error {
	var msg *string
	if lastErr != "" {
		msg = &lastErr
	}
	n, err := r.db.Exec(ctx, `UPDATE bookings SET outcome=$2, last_error=$3, updated_at=now() WHERE reservation_id=$1`,
		reservationID, outcome, msg)
	if err != nil {
		return db.WrapNotFound(err)
	}
	if n == 0 {
		return fmt.Errorf("record outcome for %s: %w", reservationID, internaltypes.ErrNotFound)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, reservationID string) (Entry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, selectEntry+` WHERE reservation_id=$1`, reservationID))
	if err != nil {
		return Entry{}, db.WrapNotFound(err)
	}
	return e, nil
}

// List returns the newest entries first; an empty email lists everyone.
func (r *Repo) List(ctx context.Context, email string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, selectEntry+`
WHERE ($1 = '' OR lower(guest_email) = lower($1))
ORDER BY created_at DESC
LIMIT $2`, strings.TrimSpace(email), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row db.Row) (Entry, error) {
	var e Entry
	var total string
	var settled *string
	if err := row.Scan(
		&e.ReservationID, &e.SessionID, &e.GuestID, &e.GuestEmail, &e.PropertyID, &e.RoomTypeID, &e.RatePlanID,
		&e.CheckIn, &e.CheckOut, &e.Currency, &total, &e.PaymentMethod,
		&e.OrderCode, &settled, &e.SettlementCurrency, &e.Outcome, &e.LastError, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return Entry{}, err
	}
	var err error
	if e.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Entry{}, fmt.Errorf("total_amount %q: %w", total, err)
	}
	if settled != nil {
		v, err := decimal.NewFromString(*settled)
		if err != nil {
			return Entry{}, fmt.Errorf("settlement_amount %q: %w", *settled, err)
		}
		e.SettlementAmount = decimal.NewNullDecimal(v)
	}
	return e, nil
}
