package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/staybook/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Client talks to the property booking REST API. Every request carries the
// bearer token; response bodies go through the normalize* functions.
type Client struct {
	hc      *http.Client
	baseURL string
	token   string
	log     *logrus.Logger
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.Status)
}

func New(baseURL, token string, timeout time.Duration, log *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   token,
		log:     log,
	}
}

func (c *Client) FindGuestsByEmail(ctx context.Context, email string) ([]Guest, error) {
	body, err := c.call(ctx, http.MethodGet, "/guests", url.Values{"email": {email}}, nil)
	if err != nil {
		return nil, err
	}
	return normalizeGuests(body)
}

func (c *Client) CreateGuest(ctx context.Context, in GuestCreate) (Guest, error) {
	body, err := c.call(ctx, http.MethodPost, "/guests", nil, in)
	if err != nil {
		return Guest{}, err
	}
	return normalizeGuest(body)
}

func (c *Client) RatePlans(ctx context.Context, roomTypeID string) ([]RatePlan, error) {
	body, err := c.call(ctx, http.MethodGet, "/rate-plans", url.Values{"roomTypeId": {roomTypeID}}, nil)
	if err != nil {
		return nil, err
	}
	return normalizeRatePlans(body)
}

func (c *Client) CreateReservation(ctx context.Context, in ReservationCreate) (Reservation, error) {
	payload := struct {
		PropertyID    string      `json:"propertyId"`
		GuestID       string      `json:"guestId"`
		RoomTypeID    string      `json:"roomTypeId"`
		RatePlanID    string      `json:"ratePlanId"`
		CheckIn       string      `json:"checkIn"`
		CheckOut      string      `json:"checkOut"`
		Adults        int         `json:"adults"`
		Children      int         `json:"children"`
		TotalAmount   json.Number `json:"totalAmount"`
		Currency      string      `json:"currency"`
		Status        string      `json:"status"`
		PaymentStatus string      `json:"paymentStatus"`
	}{
		PropertyID:    in.PropertyID,
		GuestID:       in.GuestID,
		RoomTypeID:    in.RoomTypeID,
		RatePlanID:    in.RatePlanID,
		CheckIn:       in.CheckIn.Format("2006-01-02"),
		CheckOut:      in.CheckOut.Format("2006-01-02"),
		Adults:        in.Adults,
		Children:      in.Children,
		TotalAmount:   json.Number(in.TotalAmount.StringFixed(2)),
		Currency:      in.Currency,
		Status:        string(in.Status),
		PaymentStatus: string(in.PaymentStatus),
	}
	body, err := c.call(ctx, http.MethodPost, "/reservations", nil, payload)
	if err != nil {
		return Reservation{}, err
	}
	return normalizeReservation(body)
}

func (c *Client) CreatePaymentIntent(ctx context.Context, in PaymentIntentRequest) (PaymentIntent, error) {
	payload := struct {
		OrderID       string      `json:"orderId"`
		Amount        json.Number `json:"amount"`
		Description   string      `json:"description"`
		ReservationID string      `json:"reservationId"`
	}{
		OrderID:       in.OrderID,
		Amount:        json.Number(in.Amount.String()),
		Description:   in.Description,
		ReservationID: in.ReservationID,
	}
	body, err := c.call(ctx, http.MethodPost, "/payments-pos", nil, payload)
	if err != nil {
		return PaymentIntent{}, err
	}
	return normalizePaymentIntent(body, in.ReservationID)
}

func (c *Client) PaymentStatus(ctx context.Context, orderCode string) (PaymentStatus, error) {
	body, err := c.call(ctx, http.MethodGet, "/payments-pos/status/"+url.PathEscape(orderCode), nil, nil)
	if err != nil {
		return PaymentStatus{}, err
	}
	return normalizePaymentStatus(body)
}

func (c *Client) AvailableTables(ctx context.Context, q TableQuery) ([]Table, error) {
	query := url.Values{
		"restaurantId": {q.RestaurantID},
		"date":         {q.Date.Format("2006-01-02")},
		"time":         {q.Time},
		"partySize":    {strconv.Itoa(q.PartySize)},
	}
	body, err := c.call(ctx, http.MethodGet, "/restaurants/tables/available", query, nil)
	if err != nil {
		return nil, err
	}
	return normalizeTables(body)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in any) ([]byte, error) {
	status, body, err := c.do(ctx, method, path, query, in)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{Method: method, Path: path, Status: status, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any) (int, []byte, error) {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("accept", "application/json")
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
		return 0, nil, err
	}
	defer res.Body.Close()
	metrics.APIRequests.WithLabelValues(method, strconv.Itoa(res.StatusCode)).Observe(time.Since(start).Seconds())
	b, err := io.ReadAll(res.Body)
	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": res.StatusCode,
			"took":   time.Since(start).String(),
		}).Debug("api request")
	}
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
