package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The booking API is not consistent about envelopes and id types. Every response
// passes through exactly one normalize* function below; nothing else decodes bodies.

// flexID accepts "42", 42 and null.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func firstID(ids ...flexID) string {
	for _, id := range ids {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

// unwrap strips a {"data": ...} envelope when present.
func unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data
	}
	return trimmed
}

// decodeList accepts either an array or a single object.
func decodeList[T any](body []byte) ([]T, error) {
	raw := unwrap(body)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

type wireGuest struct {
	ID       flexID `json:"id"`
	MongoID  flexID `json:"_id"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

func (w wireGuest) guest() Guest {
	name := w.Name
	if name == "" {
		name = w.FullName
	}
	return Guest{ID: firstID(w.ID, w.MongoID), Name: name, Email: w.Email, Phone: w.Phone}
}

func normalizeGuests(body []byte) ([]Guest, error) {
	ws, err := decodeList[wireGuest](body)
	if err != nil {
		return nil, fmt.Errorf("decode guests: %w", err)
	}
	out := make([]Guest, 0, len(ws))
	for _, w := range ws {
		g := w.guest()
		if g.ID == "" {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func normalizeGuest(body []byte) (Guest, error) {
	var w wireGuest
	if err := json.Unmarshal(unwrap(body), &w); err != nil {
		return Guest{}, fmt.Errorf("decode guest: %w", err)
	}
	g := w.guest()
	if g.ID == "" {
		return Guest{}, errors.New("guest response has no id")
	}
	return g, nil
}

type wireRatePlan struct {
	ID         flexID `json:"id"`
	MongoID    flexID `json:"_id"`
	RoomTypeID flexID `json:"roomTypeId"`
	Currency   string `json:"currency"`
}

func normalizeRatePlans(body []byte) ([]RatePlan, error) {
	ws, err := decodeList[wireRatePlan](body)
	if err != nil {
		return nil, fmt.Errorf("decode rate plans: %w", err)
	}
	out := make([]RatePlan, 0, len(ws))
	for _, w := range ws {
		id := firstID(w.ID, w.MongoID)
		if id == "" {
			continue
		}
		out = append(out, RatePlan{ID: id, RoomTypeID: string(w.RoomTypeID), Currency: strings.ToUpper(w.Currency)})
	}
	return out, nil
}

type wireReservation struct {
	ID            flexID          `json:"id"`
	MongoID       flexID          `json:"_id"`
	GuestID       flexID          `json:"guestId"`
	PropertyID    flexID          `json:"propertyId"`
	RoomTypeID    flexID          `json:"roomTypeId"`
	RatePlanID    flexID          `json:"ratePlanId"`
	CheckIn       string          `json:"checkIn"`
	CheckOut      string          `json:"checkOut"`
	Adults        int             `json:"adults"`
	Children      int             `json:"children"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
}

func normalizeReservation(body []byte) (Reservation, error) {
	var w wireReservation
	if err := json.Unmarshal(unwrap(body), &w); err != nil {
		return Reservation{}, fmt.Errorf("decode reservation: %w", err)
	}
	r := Reservation{
		ID:            firstID(w.ID, w.MongoID),
		GuestID:       string(w.GuestID),
		PropertyID:    string(w.PropertyID),
		RoomTypeID:    string(w.RoomTypeID),
		RatePlanID:    string(w.RatePlanID),
		CheckIn:       parseDate(w.CheckIn),
		CheckOut:      parseDate(w.CheckOut),
		Adults:        w.Adults,
		Children:      w.Children,
		TotalAmount:   w.TotalAmount,
		Currency:      strings.ToUpper(w.Currency),
		Status:        ReservationStatus(strings.ToLower(w.Status)),
		PaymentStatus: PaymentState(strings.ToLower(w.PaymentStatus)),
	}
	if r.ID == "" {
		return Reservation{}, errors.New("reservation response has no id")
	}
	return r, nil
}

type wireIntent struct {
	Code flexID `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		OrderCode     flexID `json:"orderCode"`
		QRCode        string `json:"qrCode"`
		CheckoutURL   string `json:"checkoutUrl"`
		ReservationID flexID `json:"reservationId"`
	} `json:"data"`
}

func normalizePaymentIntent(body []byte, reservationID string) (PaymentIntent, error) {
	var w wireIntent
	if err := json.Unmarshal(bytes.TrimSpace(body), &w); err != nil {
		return PaymentIntent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	if w.Data.OrderCode == "" {
		return PaymentIntent{}, fmt.Errorf("payment intent has no orderCode (code=%s desc=%q)", w.Code, w.Desc)
	}
	pi := PaymentIntent{
		OrderCode:     string(w.Data.OrderCode),
		QRPayload:     w.Data.QRCode,
		CheckoutURL:   w.Data.CheckoutURL,
		ReservationID: string(w.Data.ReservationID),
	}
	if pi.ReservationID == "" {
		pi.ReservationID = reservationID
	}
	return pi, nil
}

type wireStatus struct {
	Status      string `json:"status"`
	WebhookData *struct {
		Success bool `json:"success"`
	} `json:"webhookData"`
}

func normalizePaymentStatus(body []byte) (PaymentStatus, error) {
	var w wireStatus
	if err := json.Unmarshal(unwrap(body), &w); err != nil {
		return PaymentStatus{}, fmt.Errorf("decode payment status: %w", err)
	}
	ps := PaymentStatus{Status: strings.ToUpper(strings.TrimSpace(w.Status))}
	if w.WebhookData != nil {
		ps.Success = w.WebhookData.Success
	}
	return ps, nil
}

type wireTable struct {
	ID          flexID `json:"id"`
	MongoID     flexID `json:"_id"`
	Name        string `json:"name"`
	TableNumber flexID `json:"tableNumber"`
	Capacity    int    `json:"capacity"`
}

func normalizeTables(body []byte) ([]Table, error) {
	ws, err := decodeList[wireTable](body)
	if err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	out := make([]Table, 0, len(ws))
	for _, w := range ws {
		t := Table{ID: firstID(w.ID, w.MongoID), Name: w.Name, Capacity: w.Capacity}
		if t.Name == "" && w.TableNumber != "" {
			t.Name = "Table " + string(w.TableNumber)
		}
		if t.ID == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
