package booking

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/example/staybook/internal/internaltypes"
	"github.com/example/staybook/internal/pricing"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Request is one room booking submission.
type Request struct {
	// SessionID scopes the distributed submit guard; empty disables it.
	SessionID string `json:"-"`

	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`

	PropertyID string    `json:"propertyId" validate:"required"`
	RoomTypeID string    `json:"roomTypeId" validate:"required"`
	CheckIn    time.Time `json:"checkIn" validate:"required"`
	CheckOut   time.Time `json:"checkOut" validate:"required"`
	Adults     int       `json:"adults" validate:"min=1,max=20"`
	Children   int       `json:"children" validate:"min=0,max=20"`

	BasePrice   decimal.Decimal  `json:"basePrice"`
	TaxRate     decimal.Decimal  `json:"taxRate"`
	ServiceRate decimal.Decimal  `json:"serviceRate"`
	Discount    pricing.Discount `json:"-"`
}

// Nights is the whole number of days between check-in and check-out.
func (r Request) Nights() int {
	in := truncDay(r.CheckIn)
	out := truncDay(r.CheckOut)
	return int(out.Sub(in).Hours() / 24)
}

func (r Request) PriceInputs(currency string) pricing.Inputs {
	return pricing.Inputs{
		Currency:    currency,
		BasePrice:   r.BasePrice,
		Nights:      r.Nights(),
		TaxRate:     r.TaxRate,
		ServiceRate: r.ServiceRate,
		Discount:    r.Discount,
	}
}

func truncDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks everything that can be checked without the network.
func (r Request) Validate() error {
	verr := &internaltypes.ValidationError{}

	var fieldErrs validator.ValidationErrors
	if err := validate.Struct(r); err != nil {
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), message(fe))
		}
	}

	if !r.CheckIn.IsZero() && !r.CheckOut.IsZero() && r.Nights() < 1 {
		verr.Add("checkOut", "must be at least one day after checkIn")
	}
	if !r.BasePrice.IsPositive() {
		verr.Add("basePrice", "must be greater than 0")
	}
	if r.TaxRate.IsNegative() {
		verr.Add("taxRate", "must not be negative")
	}
	if r.ServiceRate.IsNegative() {
		verr.Add("serviceRate", "must not be negative")
	}
	if r.Discount.Value.IsNegative() {
		verr.Add("discount", "must not be negative")
	}
	if r.Discount.Mode == pricing.DiscountPercent && r.Discount.Value.GreaterThan(decimal.NewFromInt(100)) {
		verr.Add("discount", "percent must be at most 100")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "is invalid (" + fe.Tag() + ")"
}
