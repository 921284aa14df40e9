package provider

import (
	"context"

	"mailblast/internal/models"
)

// SendResult represents the result of one send attempt
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Provider  string `json:"provider"`
	Err       error  `json:"-"`
}

// Provider is the uniform send contract over heterogeneous mail transports
type Provider interface {
	// Name returns the provider identifier (e.g. "sendgrid", "gmail")
	Name() string

	// Available reports whether the provider is configured for use
	Available() bool

	// Send attempts delivery of a single message
	Send(ctx context.Context, msg *models.PersonalizedMessage) *SendResult
}
