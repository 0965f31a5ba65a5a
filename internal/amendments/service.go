// Package amendments implements the contract amendment request workflow on
// top of the update bus. A request and its reply are two immutable
// envelopes; status is derived by folding the feed at query time, never
// stored in a mutable record.
package amendments

import (
	"context"
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/internal/feed"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	pkgerrors "github.com/roberthayford/nutlip-transaction-bus/pkg/errors"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/validate"
)

// Draft is the caller-supplied description of a new amendment request. An
// empty AffectedClauses list is allowed and reads as a general amendment.
type Draft struct {
	Category        string                  `json:"category" validate:"required"`
	Description     string                  `json:"description" validate:"required"`
	ProposedChange  string                  `json:"proposedChange,omitempty"`
	AffectedClauses []string                `json:"affectedClauses,omitempty"`
	Priority        enums.AmendmentPriority `json:"priority" validate:"required,oneof=low medium high"`
	TargetRole      enums.Role              `json:"targetRole" validate:"required"`
	Stage           enums.Stage             `json:"stage" validate:"required"`
	Deadline        *time.Time              `json:"deadline,omitempty"`
}

// ReplyInput answers an open request.
type ReplyInput struct {
	Decision        enums.AmendmentDecision `json:"decision" validate:"required,oneof=accepted rejected counter-proposal"`
	Message         string                  `json:"message" validate:"required"`
	CounterProposal string                  `json:"counterProposal,omitempty"`
}

// Reply is the folded view of a request's answer.
type Reply struct {
	EnvelopeID      string                  `json:"envelopeId"`
	Decision        enums.AmendmentDecision `json:"decision"`
	Message         string                  `json:"message"`
	CounterProposal string                  `json:"counterProposal,omitempty"`
	RepliedAt       time.Time               `json:"repliedAt"`
}

// Request is the folded view of one amendment request: the created envelope
// plus whatever acknowledgement or reply has landed since.
type Request struct {
	ID              string                  `json:"id"`
	EnvelopeID      string                  `json:"envelopeId"`
	Category        string                  `json:"category"`
	Description     string                  `json:"description"`
	ProposedChange  string                  `json:"proposedChange,omitempty"`
	AffectedClauses []string                `json:"affectedClauses,omitempty"`
	Priority        enums.AmendmentPriority `json:"priority"`
	RequestedBy     enums.Role              `json:"requestedBy"`
	TargetRole      enums.Role              `json:"targetRole"`
	Stage           enums.Stage             `json:"stage"`
	Deadline        *time.Time              `json:"deadline,omitempty"`
	Status          enums.AmendmentStatus   `json:"status"`
	Reply           *Reply                  `json:"reply,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
}

// Service wraps the feed with the amendment operations.
type Service struct {
	feed     *feed.Feed
	registry *feed.DecoderRegistry
	log      *logger.Logger
}

// NewService wires the workflow over the shared feed.
func NewService(f *feed.Feed, log *logger.Logger) *Service {
	return &Service{feed: f, registry: feed.DefaultRegistry(), log: log}
}

// Create validates the draft and emits the request envelope. The request
// starts pending; the id returned is the request id replies must reference.
func (s *Service) Create(ctx context.Context, from enums.Role, draft Draft) (Request, error) {
	if err := validate.Struct(draft); err != nil {
		return Request{}, err
	}
	if !from.IsValid() {
		return Request{}, pkgerrors.New(pkgerrors.CodeValidation, "requesting role invalid").
			WithDetails(map[string]string{"role": string(from)})
	}
	if !draft.TargetRole.IsValid() {
		return Request{}, pkgerrors.New(pkgerrors.CodeValidation, "target role invalid").
			WithDetails(map[string]string{"targetRole": string(draft.TargetRole)})
	}

	requestID := s.feed.NewID()
	env, err := s.feed.Send(ctx, feed.Draft{
		Type:        enums.UpdateAmendmentCreated,
		Stage:       draft.Stage,
		Role:        from,
		Title:       "Amendment requested",
		Description: draft.Description,
		Data: feed.AmendmentRequested{
			RequestID:       requestID,
			Category:        draft.Category,
			Description:     draft.Description,
			ProposedChange:  draft.ProposedChange,
			AffectedClauses: draft.AffectedClauses,
			Priority:        draft.Priority,
			Deadline:        draft.Deadline,
			TargetRole:      draft.TargetRole,
		},
	})
	if err != nil {
		return Request{}, err
	}

	return Request{
		ID:              requestID,
		EnvelopeID:      env.ID,
		Category:        draft.Category,
		Description:     draft.Description,
		ProposedChange:  draft.ProposedChange,
		AffectedClauses: draft.AffectedClauses,
		Priority:        draft.Priority,
		RequestedBy:     from,
		TargetRole:      draft.TargetRole,
		Stage:           draft.Stage,
		Deadline:        draft.Deadline,
		Status:          enums.AmendmentStatusPending,
		CreatedAt:       env.CreatedAt,
	}, nil
}

// ForRole returns the requests addressed to a role, optionally narrowed to
// one stage, oldest-first. The view is folded fresh from the feed on every
// call so it always reflects the latest reconciled state.
func (s *Service) ForRole(role enums.Role, stage enums.Stage) []Request {
	var requests []Request
	for _, req := range s.fold() {
		if req.TargetRole != role {
			continue
		}
		if stage != "" && req.Stage != stage {
			continue
		}
		requests = append(requests, req)
	}
	return requests
}

// ByID looks one request up in the folded view.
func (s *Service) ByID(requestID string) (Request, bool) {
	for _, req := range s.fold() {
		if req.ID == requestID {
			return req, true
		}
	}
	return Request{}, false
}

// Reply answers a pending request. An unknown id and an already answered
// request fail differently so callers can message "not found" and "already
// answered" apart; neither failure creates state, and the first landed
// reply is never overwritten.
func (s *Service) Reply(ctx context.Context, requestID string, input ReplyInput) (Request, error) {
	if err := validate.Struct(input); err != nil {
		return Request{}, err
	}

	req, ok := s.ByID(requestID)
	if !ok {
		return Request{}, pkgerrors.New(pkgerrors.CodeNotFound, "amendment request not found").
			WithDetails(map[string]string{"requestId": requestID})
	}
	if req.Status == enums.AmendmentStatusReplied {
		return Request{}, pkgerrors.New(pkgerrors.CodeStateConflict, "amendment request already answered").
			WithDetails(map[string]string{"requestId": requestID})
	}

	repliedAt := s.feed.Now()
	env, err := s.feed.Send(ctx, feed.Draft{
		Type:        enums.UpdateAmendmentReplied,
		Stage:       req.Stage,
		Role:        req.TargetRole,
		Title:       "Amendment request answered",
		Description: input.Message,
		Data: feed.AmendmentReplied{
			InReplyTo:       requestID,
			Decision:        input.Decision,
			Message:         input.Message,
			CounterProposal: input.CounterProposal,
			RepliedAt:       repliedAt,
		},
	})
	if err != nil {
		return Request{}, err
	}

	req.Status = enums.AmendmentStatusReplied
	req.Reply = &Reply{
		EnvelopeID:      env.ID,
		Decision:        input.Decision,
		Message:         input.Message,
		CounterProposal: input.CounterProposal,
		RepliedAt:       repliedAt,
	}
	return req, nil
}

// fold scans the feed once and assembles the request views. Status moves
// forward only; a second reply envelope for the same request, however it
// got in, never displaces the first.
func (s *Service) fold() []Request {
	snapshot := s.feed.Snapshot()
	byID := make(map[string]int)
	var requests []Request

	for _, env := range snapshot {
		switch env.Type {
		case enums.UpdateAmendmentCreated:
			decoded, err := s.registry.Decode(env)
			if err != nil {
				s.warnSkip(env.ID, "undecodable amendment request")
				continue
			}
			payload := decoded.(feed.AmendmentRequested)
			if _, exists := byID[payload.RequestID]; exists {
				continue
			}
			byID[payload.RequestID] = len(requests)
			requests = append(requests, Request{
				ID:              payload.RequestID,
				EnvelopeID:      env.ID,
				Category:        payload.Category,
				Description:     payload.Description,
				ProposedChange:  payload.ProposedChange,
				AffectedClauses: payload.AffectedClauses,
				Priority:        payload.Priority,
				RequestedBy:     env.Role,
				TargetRole:      payload.TargetRole,
				Stage:           env.Stage,
				Deadline:        payload.Deadline,
				Status:          enums.AmendmentStatusPending,
				CreatedAt:       env.CreatedAt,
			})

		case enums.UpdateAmendmentAcknowledged:
			decoded, err := s.registry.Decode(env)
			if err != nil {
				s.warnSkip(env.ID, "undecodable amendment acknowledgement")
				continue
			}
			payload := decoded.(feed.AmendmentAcknowledged)
			idx, exists := byID[payload.InReplyTo]
			if !exists {
				continue
			}
			if requests[idx].Status.Rank() < enums.AmendmentStatusAcknowledged.Rank() {
				requests[idx].Status = enums.AmendmentStatusAcknowledged
			}

		case enums.UpdateAmendmentReplied:
			decoded, err := s.registry.Decode(env)
			if err != nil {
				s.warnSkip(env.ID, "undecodable amendment reply")
				continue
			}
			payload := decoded.(feed.AmendmentReplied)
			idx, exists := byID[payload.InReplyTo]
			if !exists || requests[idx].Reply != nil {
				continue
			}
			requests[idx].Status = enums.AmendmentStatusReplied
			requests[idx].Reply = &Reply{
				EnvelopeID:      env.ID,
				Decision:        payload.Decision,
				Message:         payload.Message,
				CounterProposal: payload.CounterProposal,
				RepliedAt:       payload.RepliedAt,
			}
		}
	}
	return requests
}

func (s *Service) warnSkip(envelopeID, msg string) {
	if s.log == nil {
		return
	}
	ctx := s.log.WithEnvelopeID(context.Background(), envelopeID)
	s.log.Warn(ctx, msg)
}
