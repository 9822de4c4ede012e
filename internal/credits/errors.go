package credits

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInsufficientCredits is the sentinel matched by errors.Is for balance
// rejections. The concrete error is always an *InsufficientCreditsError.
var ErrInsufficientCredits = errors.New("credits: insufficient credits")

// InsufficientCreditsError reports that a tenant's balance cannot cover a
// requested amount. It is a definite, user-visible condition and is never
// retried automatically.
type InsufficientCreditsError struct {
	TenantID  string
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("credits: insufficient credits (tenant=%s required=%d available=%d)", e.TenantID, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// StatusCode returns the HTTP status callers should map this error to.
func (e *InsufficientCreditsError) StatusCode() int { return http.StatusPaymentRequired }

// Code returns the machine-readable error code.
func (e *InsufficientCreditsError) Code() string { return "NO_CREDITS" }
