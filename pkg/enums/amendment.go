package enums

import "fmt"

// AmendmentStatus tracks the lifecycle of an amendment request. Transitions
// are forward-only: pending, optionally acknowledged, then replied.
type AmendmentStatus string

const (
	AmendmentStatusPending AmendmentStatus = "pending"
	// AmendmentStatusAcknowledged is reserved for a future viewed-receipt
	// signal; it is recognised when folding the feed but never produced here.
	AmendmentStatusAcknowledged AmendmentStatus = "acknowledged"
	AmendmentStatusReplied      AmendmentStatus = "replied"
)

// Rank orders statuses so folds never regress a request backwards.
func (s AmendmentStatus) Rank() int {
	switch s {
	case AmendmentStatusPending:
		return 0
	case AmendmentStatusAcknowledged:
		return 1
	case AmendmentStatusReplied:
		return 2
	}
	return -1
}

// AmendmentPriority grades how urgently a request needs an answer.
type AmendmentPriority string

const (
	AmendmentPriorityLow    AmendmentPriority = "low"
	AmendmentPriorityMedium AmendmentPriority = "medium"
	AmendmentPriorityHigh   AmendmentPriority = "high"
)

var validAmendmentPriorities = []AmendmentPriority{
	AmendmentPriorityLow,
	AmendmentPriorityMedium,
	AmendmentPriorityHigh,
}

// IsValid checks whether the given priority matches the canonical enum.
func (p AmendmentPriority) IsValid() bool {
	for _, candidate := range validAmendmentPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// AmendmentDecision is the verdict carried by a reply.
type AmendmentDecision string

const (
	AmendmentDecisionAccepted        AmendmentDecision = "accepted"
	AmendmentDecisionRejected        AmendmentDecision = "rejected"
	AmendmentDecisionCounterProposal AmendmentDecision = "counter-proposal"
)

var validAmendmentDecisions = []AmendmentDecision{
	AmendmentDecisionAccepted,
	AmendmentDecisionRejected,
	AmendmentDecisionCounterProposal,
}

// IsValid checks whether the given decision matches the canonical enum.
func (d AmendmentDecision) IsValid() bool {
	for _, candidate := range validAmendmentDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseAmendmentDecision converts raw strings into AmendmentDecision.
func ParseAmendmentDecision(value string) (AmendmentDecision, error) {
	for _, candidate := range validAmendmentDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid amendment decision %q", value)
}
