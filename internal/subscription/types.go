// Package subscription stores requests to be told about new matching trials.
// Delivery of notifications is handled elsewhere; this package only keeps the records.
package subscription

import (
	"context"
	"strings"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a subscription
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// Delivery frequencies
const (
	FrequencyImmediate = "immediate"
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
)

// Delivery channels
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Criteria describes which trials a subscriber wants to hear about
type Criteria struct {
	Conditions    []string         `json:"conditions" validate:"required,min=1,dive,notblank"`
	Statuses      []string         `json:"statuses,omitempty"`
	Location      *domain.Location `json:"location,omitempty"`
	MinConfidence float64          `json:"min_confidence" validate:"gte=0,lte=1"`
}

// Preferences controls how often and where notifications go
type Preferences struct {
	Frequency string `json:"frequency" validate:"omitempty,oneof=immediate daily weekly"`
	Channel   string `json:"channel" validate:"omitempty,oneof=email webhook"`
}

// Subscription is a stored notification request
type Subscription struct {
	ID          string      `json:"id"`
	Email       string      `json:"email" validate:"required,email"`
	Criteria    Criteria    `json:"criteria"`
	Preferences Preferences `json:"preferences"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
}

// ListOptions filters and pages List results
type ListOptions struct {
	// Status restricts results when non-empty
	Status Status
	Limit  int
	Offset int
}

// Repository defines the subscription storage operations
type Repository interface {
	// Create validates s, assigns its id and timestamps and stores it.
	Create(ctx context.Context, s *Subscription) error

	// Get returns the subscription or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, id string) (*Subscription, error)

	// Cancel marks the subscription cancelled. Cancelling twice is not an error
	// and keeps the first cancellation time.
	Cancel(ctx context.Context, id string) (*Subscription, error)

	// List returns subscriptions, newest first.
	List(ctx context.Context, opts ListOptions) ([]*Subscription, error)

	// Close releases resources.
	Close() error
}

const defaultListLimit = 100

// Validate checks the fields a caller supplies
func (s *Subscription) Validate() error {
	return domain.ValidateStruct(s)
}

// prepare validates s and fills server-assigned fields before insert
func prepare(s *Subscription, now time.Time) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.ID = uuid.NewString()
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	if s.Preferences.Frequency == "" {
		s.Preferences.Frequency = FrequencyDaily
	}
	if s.Preferences.Channel == "" {
		s.Preferences.Channel = ChannelEmail
	}
	s.Status = StatusActive
	s.CreatedAt = now
	s.UpdatedAt = now
	s.CancelledAt = nil
	return nil
}

func normalizeList(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
