package models

import "time"

// BounceType represents valid bounce record types
type BounceType string

const (
	BounceHard        BounceType = "hard"
	BounceSoft        BounceType = "soft"
	BounceComplaint   BounceType = "complaint"
	BounceUnsubscribe BounceType = "unsubscribe"
)

// BounceRecord is one delivery-failure notification, normalized from a
// provider webhook. Append-only; never mutated after creation.
type BounceRecord struct {
	ID         string     `json:"id" db:"id"`
	Address    string     `json:"address" db:"address"`
	Type       BounceType `json:"type" db:"type"`
	Category   string     `json:"category" db:"category"`
	Reason     string     `json:"reason" db:"reason"`
	Timestamp  time.Time  `json:"timestamp" db:"created_at"`
	CampaignID string     `json:"campaign_id,omitempty" db:"campaign_id"`
}

// DeliveryHealth summarizes an address's delivery history
type DeliveryHealth struct {
	Address         string `json:"address"`
	HardBounces     int    `json:"hard_bounces"`
	SoftBounces7d   int    `json:"soft_bounces_7d"`
	Complaints      int    `json:"complaints"`
	ShouldSuppress  bool   `json:"should_suppress"`
	SuppressionNote string `json:"suppression_note,omitempty"`
}
