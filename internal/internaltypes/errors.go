package internaltypes

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	ErrValidation        = errors.New("validation failed")
	ErrGuestResolution   = errors.New("guest resolution failed")
	ErrMissingRatePlan   = errors.New("no rate plan for room type")
	ErrReservationCreate = errors.New("reservation create failed")
	ErrSubmitInProgress  = errors.New("booking submission already in progress")

	ErrPaymentInitiation    = errors.New("payment initiation failed")
	ErrSettlementInProgress = errors.New("payment settlement already in progress")
	ErrPollTransient        = errors.New("payment status poll failed")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrTimedOut             = errors.New("payment not confirmed before deadline")
	ErrCancelledByUser      = errors.New("payment cancelled by user")
)

// ValidationError collects field problems found before any network call.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
