package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Guest struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type GuestCreate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type RatePlan struct {
	ID         string
	RoomTypeID string
	Currency   string
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

type PaymentState string

const (
	PaymentUnpaid PaymentState = "unpaid"
	PaymentPaid   PaymentState = "paid"
)

type Reservation struct {
	ID            string
	GuestID       string
	PropertyID    string
	RoomTypeID    string
	RatePlanID    string
	CheckIn       time.Time
	CheckOut      time.Time
	Adults        int
	Children      int
	TotalAmount   decimal.Decimal
	Currency      string
	Status        ReservationStatus
	PaymentStatus PaymentState
}

type ReservationCreate struct {
	PropertyID    string
	GuestID       string
	RoomTypeID    string
	RatePlanID    string
	CheckIn       time.Time
	CheckOut      time.Time
	Adults        int
	Children      int
	TotalAmount   decimal.Decimal
	Currency      string
	Status        ReservationStatus
	PaymentStatus PaymentState
}

type PaymentIntentRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Description   string
	ReservationID string
}

// PaymentIntent is a server-side asynchronous payment, polled by OrderCode.
type PaymentIntent struct {
	OrderCode     string
	QRPayload     string
	CheckoutURL   string
	ReservationID string
}

// PaymentStatus is the normalized poll payload.
type PaymentStatus struct {
	Status  string
	Success bool
}

func (s PaymentStatus) Settled() bool { return s.Success }

func (s PaymentStatus) Failed() bool {
	if s.Success {
		return false
	}
	switch strings.ToUpper(s.Status) {
	case "FAILED", "CANCELLED", "CANCELED":
		return true
	}
	return false
}

type TableQuery struct {
	RestaurantID string
	Date         time.Time
	Time         string // HH:MM
	PartySize    int
}

type Table struct {
	ID       string
	Name     string
	Capacity int
}
