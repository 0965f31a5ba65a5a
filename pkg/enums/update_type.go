package enums

// UpdateType tags the kind of update an envelope carries. The set below is
// the closed vocabulary produced by this codebase; unknown tags still
// round-trip through persistence so that newer producers stay compatible.
type UpdateType string

const (
	UpdateStatusChanged           UpdateType = "status_changed"
	UpdateDocumentUploaded        UpdateType = "document_uploaded"
	UpdateCompletionDateProposed  UpdateType = "completion_date_proposed"
	UpdateCompletionDateConfirmed UpdateType = "completion_date_confirmed"
	UpdateCompletionDateRejected  UpdateType = "completion_date_rejected"
	UpdateEnquirySent             UpdateType = "enquiry_sent"
	UpdateEnquiryAnswered         UpdateType = "enquiry_answered"
	UpdateEnquiryFollowUp         UpdateType = "enquiry_follow_up"
	UpdateRequisitionSent         UpdateType = "requisition_sent"
	UpdateRequisitionsCompleted   UpdateType = "requisitions_completed"
	UpdateContractExchanged       UpdateType = "contract_exchanged"
	UpdateStageCompleted          UpdateType = "stage_completed"
	UpdateAmendmentCreated        UpdateType = "amendment_request_created"
	UpdateAmendmentAcknowledged   UpdateType = "amendment_request_acknowledged"
	UpdateAmendmentReplied        UpdateType = "amendment_request_replied"
)

var knownUpdateTypes = []UpdateType{
	UpdateStatusChanged,
	UpdateDocumentUploaded,
	UpdateCompletionDateProposed,
	UpdateCompletionDateConfirmed,
	UpdateCompletionDateRejected,
	UpdateEnquirySent,
	UpdateEnquiryAnswered,
	UpdateEnquiryFollowUp,
	UpdateRequisitionSent,
	UpdateRequisitionsCompleted,
	UpdateContractExchanged,
	UpdateStageCompleted,
	UpdateAmendmentCreated,
	UpdateAmendmentAcknowledged,
	UpdateAmendmentReplied,
}

// IsKnown reports whether the tag belongs to the vocabulary this codebase
// produces. Unknown tags are carried, not rejected.
func (u UpdateType) IsKnown() bool {
	for _, candidate := range knownUpdateTypes {
		if candidate == u {
			return true
		}
	}
	return false
}
