package models

// OutcomeStatus represents valid send outcome statuses
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeRetrying  OutcomeStatus = "retrying"
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeError     OutcomeStatus = "error"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Attachment represents a file attached to an outgoing email
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"` // base64-encoded
}

// PersonalizedMessage is one recipient's fully rendered email.
// Immutable once its campaign starts; created by the compose layer.
type PersonalizedMessage struct {
	RecipientAddress string            `json:"recipient_address" db:"recipient"`
	Subject          string            `json:"subject" db:"subject"`
	BodyHTML         string            `json:"body_html" db:"body_html"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	TemplateFields   map[string]string `json:"template_fields,omitempty"`
}

// SendOutcome records the dispatch result for a single message index.
// Mutated only by the dispatch coordinator.
type SendOutcome struct {
	RecipientAddress string        `json:"recipient_address"`
	Index            int           `json:"index"`
	Status           OutcomeStatus `json:"status"`
	RetryCount       int           `json:"retry_count"`
	ErrorMessage     string        `json:"error_message,omitempty"`
}

// IsTerminal reports whether the outcome can no longer change
func (o *SendOutcome) IsTerminal() bool {
	switch o.Status {
	case OutcomeSuccess, OutcomeError, OutcomeSkipped, OutcomeCancelled:
		return true
	}
	return false
}
