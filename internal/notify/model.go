package notify

import (
	"context"
	"errors"
)

var (
	ErrBanned         = errors.New("address is banned")
	ErrDeliveryFailed = errors.New("notification was not delivered to any recipient")
)

// Notification is one login attempt plus the code issued for it.
type Notification struct {
	Username string  `json:"username"`
	Address  string  `json:"address"`
	Code     string  `json:"code"`
	Service  string  `json:"service"`
	Command  *string `json:"command,omitempty"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

// Sender delivers a formatted alert to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient int64, text string) error
}
