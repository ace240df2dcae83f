package telephony

import (
	"context"
	"errors"
)

// ErrNumberNotAllowed means the destination is not verified for outbound
// calls on the account.
var ErrNumberNotAllowed = errors.New("destination number not allowed")

// Provider places outbound calls at the telephony platform. Keep
// request/response types provider-agnostic; no provider SDK calls outside
// this package.
type Provider interface {
	Name() string

	// PlaceCall starts an outbound call whose media is streamed back to
	// this service. It returns the platform-assigned call identifier.
	PlaceCall(ctx context.Context, to string) (string, error)
}
