package feed

import (
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
)

// Typed payload shapes for the update vocabulary. The bus itself never
// interprets these; workflow consumers decode them through the registry.

// StatusChange records a stage status transition.
type StatusChange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// CompletionDateProposal carries a proposed, confirmed or rejected
// completion date.
type CompletionDateProposal struct {
	Date  string `json:"date"`
	Notes string `json:"notes,omitempty"`
}

// Enquiry carries a pre-contract enquiry or its answer and follow-ups.
type Enquiry struct {
	EnquiryID string     `json:"enquiryId"`
	Question  string     `json:"question,omitempty"`
	Answer    string     `json:"answer,omitempty"`
	TargetRole enums.Role `json:"targetRole,omitempty"`
}

// Requisition carries a completion requisition addressed to the other side.
type Requisition struct {
	RequisitionID string     `json:"requisitionId"`
	Subject       string     `json:"subject,omitempty"`
	DeliveredTo   enums.Role `json:"deliveredTo"`
}

// StageCompletion summarises a finished workflow stage.
type StageCompletion struct {
	Stage   enums.Stage `json:"stage"`
	Summary string      `json:"summary,omitempty"`
}

// DocumentDelivery is the payload interpretation of a document_uploaded
// envelope. Created once, never revised; the delivery is a permanent
// historical record.
type DocumentDelivery struct {
	Name         string                 `json:"name"`
	UploadedBy   enums.Role             `json:"uploadedBy"`
	DeliveredTo  enums.Role             `json:"deliveredTo"`
	Size         int64                  `json:"size"`
	Priority     enums.DocumentPriority `json:"priority"`
	CoverMessage string                 `json:"coverMessage,omitempty"`
	Deadline     *time.Time             `json:"deadline,omitempty"`
}

// AmendmentRequested opens an amendment request against the target role.
type AmendmentRequested struct {
	RequestID       string                  `json:"requestId"`
	Category        string                  `json:"category"`
	Description     string                  `json:"description"`
	ProposedChange  string                  `json:"proposedChange,omitempty"`
	AffectedClauses []string                `json:"affectedClauses,omitempty"`
	Priority        enums.AmendmentPriority `json:"priority"`
	Deadline        *time.Time              `json:"deadline,omitempty"`
	TargetRole      enums.Role              `json:"targetRole"`
}

// AmendmentReplied answers an open request; InReplyTo carries the parent
// request id, never mutating the original envelope.
type AmendmentReplied struct {
	InReplyTo       string                  `json:"inReplyTo"`
	Decision        enums.AmendmentDecision `json:"decision"`
	Message         string                  `json:"message"`
	CounterProposal string                  `json:"counterProposal,omitempty"`
	RepliedAt       time.Time               `json:"repliedAt"`
}

// AmendmentAcknowledged is reserved for a future viewed-receipt signal; it
// is decoded when present but nothing in this codebase produces it.
type AmendmentAcknowledged struct {
	InReplyTo string `json:"inReplyTo"`
}
