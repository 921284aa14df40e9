package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mailblast/internal/dispatch"
	"mailblast/internal/models"
	"mailblast/internal/repository"
)

// DispatchPublisher enqueues dispatch jobs for the worker fleet
type DispatchPublisher interface {
	PublishDispatch(campaignID string, resume bool) error
}

// CampaignService handles campaign orchestration: building dispatchable
// state from a compose request, and the resume/cancel lifecycle
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	suppression  *SuppressionService
	templateSvc  *TemplateService
	publisher    DispatchPublisher
	lock         dispatch.WorkerLock
	flags        dispatch.CancelFlags
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	suppression *SuppressionService,
	templateSvc *TemplateService,
	publisher DispatchPublisher,
	lock dispatch.WorkerLock,
	flags dispatch.CancelFlags,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		suppression:  suppression,
		templateSvc:  templateSvc,
		publisher:    publisher,
		lock:         lock,
		flags:        flags,
	}
}

// StartCampaignRequest carries the composed campaign from the client
type StartCampaignRequest struct {
	Subject  string                       `json:"subject"`
	Messages []models.PersonalizedMessage `json:"messages"`
}

// Validate validates the start campaign request
func (r *StartCampaignRequest) Validate() error {
	if r.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i := range r.Messages {
		if r.Messages[i].RecipientAddress == "" {
			return fmt.Errorf("message %d has no recipient address", i)
		}
	}
	return nil
}

// StartCampaignResult reports what was queued and what was filtered out
type StartCampaignResult struct {
	CampaignID string                `json:"campaign_id"`
	Queued     int                   `json:"queued"`
	Suppressed []string              `json:"suppressed,omitempty"`
	Status     models.CampaignStatus `json:"status"`
}

// StartCampaign filters suppressed recipients, freezes each message's body,
// persists the campaign state and queues it for dispatch. Suppressed
// addresses never enter the send loop at all.
func (s *CampaignService) StartCampaign(ctx context.Context, req *StartCampaignRequest) (*StartCampaignResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	addresses := make([]string, len(req.Messages))
	for i := range req.Messages {
		addresses[i] = req.Messages[i].RecipientAddress
	}
	eligible, suppressed := s.suppression.FilterEligible(addresses)
	if len(eligible) == 0 {
		return nil, &BusinessLogicError{Message: "every recipient is suppressed"}
	}

	eligibleSet := make(map[string]struct{}, len(eligible))
	for _, addr := range eligible {
		eligibleSet[addr] = struct{}{}
	}

	messages := make([]models.PersonalizedMessage, 0, len(eligible))
	for i := range req.Messages {
		msg := req.Messages[i]
		if _, ok := eligibleSet[msg.RecipientAddress]; !ok {
			continue
		}

		// Freeze the body now: messages are immutable once the campaign starts
		if len(msg.TemplateFields) > 0 {
			rendered, err := s.templateSvc.Render(msg.BodyHTML, msg.TemplateFields)
			if err != nil {
				return nil, &ValidationError{Message: fmt.Sprintf("message %d: %v", i, err)}
			}
			msg.BodyHTML = rendered
		}
		if msg.Subject == "" {
			msg.Subject = req.Subject
		}
		messages = append(messages, msg)
	}

	state := &models.CampaignState{
		CampaignID:    uuid.NewString(),
		Subject:       req.Subject,
		Messages:      messages,
		SentIndices:   models.NewIndexSet(),
		FailedIndices: models.NewIndexSet(),
		Status:        models.CampaignStatusInProgress,
		StartedAt:     time.Now(),
	}

	if err := s.campaignRepo.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	if err := s.flags.ClearCancel(ctx, state.CampaignID); err != nil {
		log.Printf("Warning: failed to clear cancel flag for campaign %s: %v", state.CampaignID, err)
	}

	if err := s.publisher.PublishDispatch(state.CampaignID, false); err != nil {
		// The state is persisted; an operator can still resume explicitly
		return nil, fmt.Errorf("failed to queue campaign dispatch: %w", err)
	}

	log.Printf("📬 Campaign %s queued: %d message(s), %d suppressed", state.CampaignID, len(messages), len(suppressed))

	return &StartCampaignResult{
		CampaignID: state.CampaignID,
		Queued:     len(messages),
		Suppressed: suppressed,
		Status:     state.Status,
	}, nil
}

// ResumeCampaignResult reports what a resume will re-dispatch
type ResumeCampaignResult struct {
	CampaignID string `json:"campaign_id"`
	Remaining  int    `json:"remaining"`
}

// ResumeCampaign re-queues an interrupted campaign. Only indices outside
// sentIndices are dispatched again, under the original campaign id and
// subject.
func (s *CampaignService) ResumeCampaign(ctx context.Context, campaignID string) (*ResumeCampaignResult, error) {
	state, err := s.campaignRepo.Load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, &NotFoundError{Resource: "campaign", ID: campaignID}
	}
	if state.Status == models.CampaignStatusCompleted {
		return nil, &BusinessLogicError{Message: "campaign is already completed"}
	}

	owner, err := s.lock.Owner(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect campaign lock: %w", err)
	}
	if owner != "" {
		return nil, &ConflictError{Resource: "campaign", Message: "a dispatcher is already running this campaign"}
	}

	unsent := state.UnsentIndices()
	if len(unsent) == 0 {
		return nil, &BusinessLogicError{Message: "campaign has no unsent messages"}
	}

	if err := s.flags.ClearCancel(ctx, campaignID); err != nil {
		log.Printf("Warning: failed to clear cancel flag for campaign %s: %v", campaignID, err)
	}
	if err := s.campaignRepo.SetStatus(ctx, campaignID, models.CampaignStatusInProgress); err != nil {
		return nil, err
	}
	if err := s.publisher.PublishDispatch(campaignID, true); err != nil {
		return nil, fmt.Errorf("failed to queue campaign resume: %w", err)
	}

	log.Printf("🔄 Campaign %s resume queued: %d message(s) remaining", campaignID, len(unsent))

	return &ResumeCampaignResult{CampaignID: campaignID, Remaining: len(unsent)}, nil
}

// CancelCampaign requests a cooperative stop. A running dispatcher observes
// the flag at its next loop iteration; if no dispatcher holds the lock the
// campaign is marked cancelled immediately.
func (s *CampaignService) CancelCampaign(ctx context.Context, campaignID string) error {
	state, err := s.campaignRepo.Load(ctx, campaignID)
	if err != nil {
		return err
	}
	if state == nil {
		return &NotFoundError{Resource: "campaign", ID: campaignID}
	}
	if state.Status == models.CampaignStatusCompleted || state.Status == models.CampaignStatusCancelled {
		return &BusinessLogicError{Message: fmt.Sprintf("campaign is already %s", state.Status)}
	}

	if err := s.flags.SetCancel(ctx, campaignID); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}

	owner, err := s.lock.Owner(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to inspect campaign lock: %w", err)
	}
	if owner == "" {
		// No dispatcher is running; finalize the status here
		if err := s.campaignRepo.SetStatus(ctx, campaignID, models.CampaignStatusCancelled); err != nil {
			return err
		}
	}

	log.Printf("🚫 Cancel requested for campaign %s", campaignID)
	return nil
}

// GetStatus returns persisted counts and a human-readable summary
func (s *CampaignService) GetStatus(ctx context.Context, campaignID string) (*models.CampaignCounts, string, error) {
	counts, err := s.campaignRepo.Counts(ctx, campaignID)
	if err != nil {
		return nil, "", err
	}
	if counts == nil {
		return nil, "", &NotFoundError{Resource: "campaign", ID: campaignID}
	}

	state, err := s.campaignRepo.Load(ctx, campaignID)
	if err != nil {
		return nil, "", err
	}
	outcomes, err := s.campaignRepo.Outcomes(ctx, campaignID)
	if err != nil {
		return nil, "", err
	}

	summary := ""
	if state != nil {
		summary = state.Summary(outcomes)
	}
	return counts, summary, nil
}
