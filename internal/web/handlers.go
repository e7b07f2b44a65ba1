package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/availability"
	"github.com/example/staybook/internal/booking"
	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/pricing"
	"github.com/example/staybook/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type bookingBody struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	PropertyID string `json:"propertyId"`
	RoomTypeID string `json:"roomTypeId"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	Adults     int    `json:"adults"`
	Children   int    `json:"children"`

	BasePrice       decimal.Decimal     `json:"basePrice"`
	TaxRate         decimal.Decimal     `json:"taxRate"`
	ServiceRate     decimal.Decimal     `json:"serviceRate"`
	DiscountPercent decimal.NullDecimal `json:"discountPercent"`
	DiscountAmount  decimal.NullDecimal `json:"discountAmount"`

	PaymentMethod string `json:"paymentMethod"`
}

func (b bookingBody) request() (booking.Request, session.PaymentMethod, error) {
	verr := &internaltypes.ValidationError{}
	in, err := parseDate(b.CheckIn)
	if err != nil {
		verr.Add("checkIn", "must be YYYY-MM-DD")
	}
	out, err := parseDate(b.CheckOut)
	if err != nil {
		verr.Add("checkOut", "must be YYYY-MM-DD")
	}
	discount, err := discountOf(b.DiscountPercent, b.DiscountAmount)
	if err != nil {
		verr.Add("discount", err.Error())
	}
	method, err := session.ParsePaymentMethod(b.PaymentMethod)
	if err != nil {
		verr.Add("paymentMethod", "must be pay_at_hotel, qr or pos")
	}
	if len(verr.Fields) > 0 {
		return booking.Request{}, "", verr
	}
	return booking.Request{
		Name:        b.Name,
		Email:       b.Email,
		Phone:       b.Phone,
		PropertyID:  b.PropertyID,
		RoomTypeID:  b.RoomTypeID,
		CheckIn:     in,
		CheckOut:    out,
		Adults:      b.Adults,
		Children:    b.Children,
		BasePrice:   b.BasePrice,
		TaxRate:     b.TaxRate,
		ServiceRate: b.ServiceRate,
		Discount:    discount,
	}, method, nil
}

func discountOf(pct, amt decimal.NullDecimal) (pricing.Discount, error) {
	switch {
	case pct.Valid && amt.Valid:
		return pricing.Discount{}, errors.New("give either discountPercent or discountAmount")
	case amt.Valid:
		return pricing.AmountOff(amt.Decimal), nil
	case pct.Valid:
		return pricing.PercentOff(pct.Decimal), nil
	}
	return pricing.PercentOff(decimal.Zero), nil
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var body bookingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req, method, err := body.request()
	if err != nil {
		s.writeError(w, err)
		return
	}

	sess := s.Sessions.GetOrCreate(s.cookies.get(r))
	if err := s.cookies.set(w, r, sess.ID); err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := sess.Book(r.Context(), req, method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if snap.Status == session.StatusAwaitingPayment {
		status = http.StatusAccepted
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(s.cookies.get(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no booking session"})
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(s.cookies.get(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no booking session"})
		return
	}
	if !sess.CancelPayment() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "no payment awaiting", "session": sess.Snapshot()})
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "booking history is not configured"})
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		s.writeError(w, internaltypes.NewValidationError("email", "is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.History.List(r.Context(), email, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verr := &internaltypes.ValidationError{}
	dec := func(key string, required bool) decimal.Decimal {
		v := q.Get(key)
		if v == "" {
			if required {
				verr.Add(key, "is required")
			}
			return decimal.Zero
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			verr.Add(key, "must be a number")
		}
		return d
	}
	opt := func(key string) decimal.NullDecimal {
		if q.Get(key) == "" {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(dec(key, true))
	}

	base := dec("basePrice", true)
	tax := dec("taxRate", false)
	service := dec("serviceRate", false)
	nights, err := strconv.Atoi(q.Get("nights"))
	if err != nil || nights < 1 {
		verr.Add("nights", "must be a whole number >= 1")
	}
	discount, err := discountOf(opt("discountPercent"), opt("discountAmount"))
	if err != nil {
		verr.Add("discount", err.Error())
	}
	if len(verr.Fields) > 0 {
		s.writeError(w, verr)
		return
	}

	quote := pricing.ComputeQuote(pricing.Inputs{
		Currency:    q.Get("currency"),
		BasePrice:   base,
		Nights:      nights,
		TaxRate:     tax,
		ServiceRate: service,
		Discount:    discount,
	})
	writeJSON(w, http.StatusOK, session.NewQuoteView(quote))
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, internaltypes.NewValidationError("date", "must be YYYY-MM-DD"))
		return
	}
	hours := r.URL.Query().Get("hours")
	oh, parsed := availability.ParseOperatingHours(hours)
	resp := map[string]any{
		"date":  date.Format(dateLayout),
		"slots": s.Tables.AvailableSlots(hours, date),
	}
	if parsed {
		resp["hours"] = oh.String()
		resp["overnight"] = oh.Overnight()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate(q.Get("date"))
	if err != nil {
		s.writeError(w, internaltypes.NewValidationError("date", "must be YYYY-MM-DD"))
		return
	}
	party, _ := strconv.Atoi(q.Get("partySize"))

	tables, err := s.Tables.FindTables(r.Context(), chi.URLParam(r, "id"), q.Get("hours"), date, q.Get("time"), party)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *internaltypes.ValidationError
	var upstream *api.StatusError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": verr.Fields})
		return
	case errors.Is(err, internaltypes.ErrSubmitInProgress), errors.Is(err, internaltypes.ErrSettlementInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, internaltypes.ErrMissingRatePlan):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, internaltypes.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, internaltypes.ErrGuestResolution),
		errors.Is(err, internaltypes.ErrReservationCreate),
		errors.Is(err, internaltypes.ErrPaymentInitiation),
		errors.As(err, &upstream):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.Log.WithError(err).Error("request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.Local)
}
