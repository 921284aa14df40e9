package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailblast/internal/models"
	"mailblast/internal/repository"
)

// Suppression rule thresholds
const (
	softBounceWindow = 7 * 24 * time.Hour
	softBounceLimit  = 3
)

// dsnClass maps an RFC 3463 status code to a bounce classification
type dsnClass struct {
	Type     models.BounceType
	Category string
}

// dsnTable covers the status codes the supported providers actually emit.
// Anything not listed falls through to the keyword classifier.
var dsnTable = map[string]dsnClass{
	"5.1.1": {models.BounceHard, "invalid-address"},
	"5.1.2": {models.BounceHard, "invalid-domain"},
	"5.1.3": {models.BounceHard, "invalid-address"},
	"5.1.6": {models.BounceHard, "mailbox-moved"},
	"5.2.1": {models.BounceHard, "mailbox-disabled"},
	"5.4.1": {models.BounceHard, "no-route"},
	"5.7.1": {models.BounceHard, "blocked"},
	"4.2.1": {models.BounceSoft, "mailbox-full"},
	"4.2.2": {models.BounceSoft, "mailbox-full"},
	"5.2.2": {models.BounceSoft, "mailbox-full"},
	"4.3.2": {models.BounceSoft, "not-accepting"},
	"4.4.1": {models.BounceSoft, "no-answer"},
	"4.4.2": {models.BounceSoft, "connection-dropped"},
	"4.4.7": {models.BounceSoft, "delivery-expired"},
}

// SuppressionService classifies bounce notifications into canonical records,
// maintains per-address delivery health and answers eligibility queries.
// The suppressed set is cached in memory for fast filtering and rebuilt from
// the store on startup.
type SuppressionService struct {
	repo repository.BounceRepository
	now  func() time.Time

	mu    sync.RWMutex
	cache map[string]struct{}
}

// NewSuppressionService creates a new suppression service
func NewSuppressionService(repo repository.BounceRepository) *SuppressionService {
	return &SuppressionService{
		repo:  repo,
		now:   time.Now,
		cache: make(map[string]struct{}),
	}
}

// WarmCache loads the persisted suppression list into the in-memory set
func (s *SuppressionService) WarmCache(ctx context.Context) error {
	addresses, err := s.repo.ListSuppressed(ctx)
	if err != nil {
		return fmt.Errorf("failed to load suppression list: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		s.cache[normalizeAddress(addr)] = struct{}{}
	}
	log.Printf("✅ Suppression cache warmed: %d address(es)", len(addresses))
	return nil
}

// Provider-specific webhook payload shapes

type sendGridEvent struct {
	Email     string `json:"email"`
	Event     string `json:"event"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Bounce           struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			Status         string `json:"status"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	ErrorCode    string `json:"errorCode"`
	Message      string `json:"message"`
}

// Classify normalizes a provider-specific bounce payload into a BounceRecord
func (s *SuppressionService) Classify(raw []byte, providerFormat, campaignID string) (*models.BounceRecord, error) {
	record := &models.BounceRecord{
		ID:         uuid.NewString(),
		Timestamp:  s.now(),
		CampaignID: campaignID,
	}

	switch providerFormat {
	case "sendgrid":
		var ev sendGridEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid sendgrid payload: %v", err)}
		}
		if ev.Email == "" {
			return nil, &ValidationError{Message: "sendgrid payload missing email"}
		}
		record.Address = normalizeAddress(ev.Email)
		record.Reason = ev.Reason
		if ev.Timestamp > 0 {
			record.Timestamp = time.Unix(ev.Timestamp, 0)
		}
		switch ev.Event {
		case "spamreport":
			record.Type, record.Category = models.BounceComplaint, "spam-report"
		case "unsubscribe", "group_unsubscribe":
			record.Type, record.Category = models.BounceUnsubscribe, "unsubscribe"
		default:
			record.Type, record.Category = classifyDSN(ev.Status, ev.Reason)
		}

	case "ses":
		var n sesNotification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid ses payload: %v", err)}
		}
		switch n.NotificationType {
		case "Complaint":
			if len(n.Complaint.ComplainedRecipients) == 0 {
				return nil, &ValidationError{Message: "ses complaint has no recipients"}
			}
			record.Address = normalizeAddress(n.Complaint.ComplainedRecipients[0].EmailAddress)
			record.Type, record.Category = models.BounceComplaint, "spam-report"
			record.Reason = "recipient marked message as spam"
		case "Bounce":
			if len(n.Bounce.BouncedRecipients) == 0 {
				return nil, &ValidationError{Message: "ses bounce has no recipients"}
			}
			rcpt := n.Bounce.BouncedRecipients[0]
			record.Address = normalizeAddress(rcpt.EmailAddress)
			record.Reason = rcpt.DiagnosticCode
			record.Type, record.Category = classifyDSN(rcpt.Status, n.Bounce.BounceType)
		default:
			return nil, &ValidationError{Message: fmt.Sprintf("unsupported ses notification type: %q", n.NotificationType)}
		}

	case "gmail":
		var n gmailNotification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid gmail payload: %v", err)}
		}
		if n.EmailAddress == "" {
			return nil, &ValidationError{Message: "gmail payload missing emailAddress"}
		}
		record.Address = normalizeAddress(n.EmailAddress)
		record.Reason = n.Message
		record.Type, record.Category = classifyDSN(extractDSN(n.ErrorCode), n.Message)

	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unknown provider format: %q", providerFormat)}
	}

	return record, nil
}

// classifyDSN resolves a status code via the DSN table, falling back to
// keyword matching over the free-text description
func classifyDSN(status, text string) (models.BounceType, string) {
	if class, ok := dsnTable[status]; ok {
		return class.Type, class.Category
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "unsubscribe"):
		return models.BounceUnsubscribe, "unsubscribe"
	case strings.Contains(lower, "complaint") || strings.Contains(lower, "abuse") || strings.Contains(lower, "spam"):
		return models.BounceComplaint, "spam-report"
	case strings.Contains(lower, "permanent"):
		return models.BounceHard, "permanent-failure"
	case strings.HasPrefix(status, "5."):
		return models.BounceHard, "permanent-failure"
	default:
		return models.BounceSoft, "transient-failure"
	}
}

// extractDSN pulls an x.y.z status code out of an SMTP error line like
// "550 5.1.1 The email account does not exist"
func extractDSN(errorCode string) string {
	for _, field := range strings.Fields(errorCode) {
		if len(field) >= 5 && (field[0] == '4' || field[0] == '5') && field[1] == '.' {
			return field
		}
	}
	return ""
}

// RecordAndEvaluate appends a bounce record and re-evaluates the address
// against the suppression rule: one hard bounce or complaint suppresses
// immediately; three soft bounces inside the trailing window suppress too.
func (s *SuppressionService) RecordAndEvaluate(ctx context.Context, record *models.BounceRecord) (*models.DeliveryHealth, error) {
	if record.Address == "" {
		return nil, &ValidationError{Message: "bounce record requires an address"}
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store bounce record: %w", err)
	}

	health := &models.DeliveryHealth{Address: record.Address}

	var err error
	if health.HardBounces, err = s.repo.CountByType(ctx, record.Address, models.BounceHard, time.Time{}); err != nil {
		return nil, err
	}
	if health.Complaints, err = s.repo.CountByType(ctx, record.Address, models.BounceComplaint, time.Time{}); err != nil {
		return nil, err
	}
	if health.SoftBounces7d, err = s.repo.CountByType(ctx, record.Address, models.BounceSoft, s.now().Add(-softBounceWindow)); err != nil {
		return nil, err
	}

	switch {
	case health.HardBounces >= 1:
		health.ShouldSuppress = true
		health.SuppressionNote = "hard bounce"
	case health.Complaints >= 1:
		health.ShouldSuppress = true
		health.SuppressionNote = "spam complaint"
	case health.SoftBounces7d >= softBounceLimit:
		health.ShouldSuppress = true
		health.SuppressionNote = fmt.Sprintf("%d soft bounces in 7 days", health.SoftBounces7d)
	case record.Type == models.BounceUnsubscribe:
		health.ShouldSuppress = true
		health.SuppressionNote = "unsubscribed"
	}

	if health.ShouldSuppress {
		if err := s.suppress(ctx, record.Address, health.SuppressionNote); err != nil {
			return nil, err
		}
		log.Printf("🚷 Address %s suppressed: %s", record.Address, health.SuppressionNote)
	}

	return health, nil
}

// IsSuppressed answers from the in-memory set
func (s *SuppressionService) IsSuppressed(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[normalizeAddress(address)]
	return ok
}

// Unsuppress removes an address from the suppression list, for addresses
// that have been explicitly re-verified
func (s *SuppressionService) Unsuppress(ctx context.Context, address string) error {
	address = normalizeAddress(address)
	if err := s.repo.RemoveSuppression(ctx, address); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, address)
	return nil
}

// FilterEligible splits addresses into eligible and suppressed. The campaign
// service calls this before building campaign state, so suppressed addresses
// never enter the send loop at all.
func (s *SuppressionService) FilterEligible(addresses []string) (eligible, suppressed []string) {
	eligible = make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if s.IsSuppressed(addr) {
			suppressed = append(suppressed, addr)
		} else {
			eligible = append(eligible, addr)
		}
	}
	return eligible, suppressed
}

func (s *SuppressionService) suppress(ctx context.Context, address, reason string) error {
	if err := s.repo.AddSuppression(ctx, address, reason); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[address] = struct{}{}
	return nil
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
