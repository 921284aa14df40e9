package models

import (
	"fmt"
	"sort"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusInProgress CampaignStatus = "in-progress"
	CampaignStatusPaused     CampaignStatus = "paused"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
)

// IndexSet is a set of message indices
type IndexSet map[int]struct{}

// NewIndexSet creates a set from the given indices
func NewIndexSet(indices ...int) IndexSet {
	s := make(IndexSet, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Add inserts an index into the set
func (s IndexSet) Add(i int) { s[i] = struct{}{} }

// Contains checks if an index is in the set
func (s IndexSet) Contains(i int) bool {
	_, ok := s[i]
	return ok
}

// Values returns the indices in ascending order
func (s IndexSet) Values() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// CampaignState is the durable, resumable record of a campaign's progress.
// Owned exclusively by the dispatch coordinator while a send is running;
// persisted after every message outcome.
type CampaignState struct {
	CampaignID    string                `json:"campaign_id" db:"id"`
	Subject       string                `json:"subject" db:"subject"`
	Messages      []PersonalizedMessage `json:"messages"`
	SentIndices   IndexSet              `json:"sent_indices"`
	FailedIndices IndexSet              `json:"failed_indices"`
	Status        CampaignStatus        `json:"status" db:"status"`
	StartedAt     time.Time             `json:"started_at" db:"started_at"`
}

// UnsentIndices returns all indices not yet confirmed sent, ascending.
// This is the resume set: allIndices minus sentIndices.
func (c *CampaignState) UnsentIndices() []int {
	unsent := make([]int, 0, len(c.Messages))
	for i := range c.Messages {
		if !c.SentIndices.Contains(i) {
			unsent = append(unsent, i)
		}
	}
	return unsent
}

// IsComplete checks if every message was confirmed sent with no failures
func (c *CampaignState) IsComplete() bool {
	return len(c.SentIndices) == len(c.Messages) && len(c.FailedIndices) == 0
}

// CampaignCounts summarizes persisted per-message outcomes for polling
type CampaignCounts struct {
	Sent    int            `json:"sent"`
	Failed  int            `json:"failed"`
	Pending int            `json:"pending"`
	Total   int            `json:"total"`
	Status  CampaignStatus `json:"status"`
}

// Summary returns a human-readable progress line, e.g.
// "Stopped: 12 sent, 1 failed, 37 skipped"
func (c *CampaignState) Summary(outcomes []SendOutcome) string {
	var sent, failed, skipped int
	for i := range outcomes {
		switch outcomes[i].Status {
		case OutcomeSuccess:
			sent++
		case OutcomeError:
			failed++
		case OutcomeSkipped, OutcomeCancelled:
			skipped++
		}
	}

	label := "Stopped"
	switch c.Status {
	case CampaignStatusCompleted:
		label = "Completed"
	case CampaignStatusCancelled:
		label = "Cancelled"
	}

	return fmt.Sprintf("%s: %d sent, %d failed, %d skipped", label, sent, failed, skipped)
}
