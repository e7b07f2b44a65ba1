package ledger

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/example/staybook/internal/db"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	execs    []execCall
	affected int64
	row      []any
	rowErr   error
	rows     [][]any
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.affected, nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) db.Row {
	return fakeRow{vals: f.row, err: f.rowErr}
}

func (f *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (db.Rows, error) {
	return &fakeRows{all: f.rows, i: -1}, nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type fakeRows struct {
	all [][]any
	i   int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Next() bool { r.i++; return r.i < len(r.all) }
func (r *fakeRows) Scan(dest ...any) error {
	return assign(dest, r.all[r.i])
}

func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return errors.New("column count mismatch")
	}
	for i, v := range vals {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}

func strp(s string) *string { return &s }

func entryRow(settled *string, outcome *string) []any {
	day := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	return []any{
		"res-1", "sess-1", "g1", "ann@example.com", "p1", "rt1", "rp1",
		day, day.AddDate(0, 0, 2), "USD", "230.00", "qr",
		strp("100200"), settled, strp("VND"), outcome, nil, day, day,
	}
}

func TestRecordReservation_SendsFixedAmount(t *testing.T) {
	q := &fakeQuerier{affected: 1}
	r := NewRepo(q)

	err := r.RecordReservation(context.Background(), Entry{
		ReservationID: "res-1",
		GuestEmail:    "Ann@Example.com",
		TotalAmount:   decimal.RequireFromString("230"),
		PaymentMethod: "qr",
	})
	require.NoError(t, err)
	require.Len(t, q.execs, 1)
	args := q.execs[0].args
	assert.Equal(t, "res-1", args[0])
	assert.Equal(t, "ann@example.com", args[3])
	assert.Equal(t, "230.00", args[10])
	assert.Contains(t, q.execs[0].sql, "ON CONFLICT (reservation_id) DO NOTHING")
}

func TestRecordIntentAndOutcome(t *testing.T) {
	q := &fakeQuerier{affected: 1}
	r := NewRepo(q)

	require.NoError(t, r.RecordIntent(context.Background(), "res-1", "100200", decimal.RequireFromString("5842000"), "VND"))
	require.NoError(t, r.RecordOutcome(context.Background(), "res-1", "SETTLED", ""))
	require.NoError(t, r.RecordOutcome(context.Background(), "res-1", "TIMED_OUT", "payment not confirmed before deadline"))

	require.Len(t, q.execs, 3)
	assert.Equal(t, "5842000.00", q.execs[0].args[2])
	assert.Nil(t, q.execs[1].args[2])
	assert.Equal(t, "payment not confirmed before deadline", *(q.execs[2].args[2].(*string)))
}

func TestRecordOutcome_UnknownReservation(t *testing.T) {
	q := &fakeQuerier{affected: 0}
	err := NewRepo(q).RecordOutcome(context.Background(), "nope", "SETTLED", "")
	assert.True(t, errors.Is(err, internaltypes.ErrNotFound))
}

func TestGet(t *testing.T) {
	q := &fakeQuerier{row: entryRow(strp("5842000.00"), strp("SETTLED"))}
	e, err := NewRepo(q).Get(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", e.ReservationID)
	assert.True(t, e.TotalAmount.Equal(decimal.NewFromInt(230)))
	require.True(t, e.SettlementAmount.Valid)
	assert.True(t, e.SettlementAmount.Decimal.Equal(decimal.NewFromInt(5842000)))
	assert.Equal(t, "SETTLED", *e.Outcome)
	assert.Nil(t, e.LastError)

	q = &fakeQuerier{rowErr: pgx.ErrNoRows}
	_, err = NewRepo(q).Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, internaltypes.ErrNotFound))
	assert.True(t, db.IsNotFound(err))
}

func TestList(t *testing.T) {
	q := &fakeQuerier{rows: [][]any{entryRow(nil, nil), entryRow(strp("10.50"), strp("FAILED"))}}
	out, err := NewRepo(q).List(context.Background(), "ann@example.com", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.False(t, out[0].SettlementAmount.Valid)
	assert.Equal(t, "10.5", out[1].SettlementAmount.Decimal.String())
}
