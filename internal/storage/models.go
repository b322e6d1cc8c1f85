package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Delivery attempt statuses.
const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
	DeliveryError   = "error"
)

// DeliveryAttempt is one append-only record per (alert, device) send. It
// carries enough of the original tuple to support a manual replay through
// the same dispatcher.
type DeliveryAttempt struct {
	ID        uuid.UUID
	AlertID   string
	Symbol    string
	Direction string
	Threshold decimal.Decimal
	Price     decimal.Decimal
	Target    string
	Title     string
	Body      string
	Status    string
	Error     *string
	ErrorKind *string
	Attempts  int
	RunID     string
	CreatedAt time.Time
}
