package feed

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
)

// CurrentPayloadVersion is stamped on every envelope this codebase produces.
const CurrentPayloadVersion = 1

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	updateType enums.UpdateType
	version    int
}

// DecoderRegistry stores versioned payload decoders so workflow consumers can
// turn the opaque data bag back into its typed shape.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// Register stores a decoder for the given update type and version.
func (r *DecoderRegistry) Register(updateType enums.UpdateType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{updateType: updateType, version: version}] = decoder
}

// Decode runs the decoder registered for the envelope's type and version.
// Envelopes persisted before versioning default to version 1.
func (r *DecoderRegistry) Decode(env Envelope) (any, error) {
	version := env.Version
	if version == 0 {
		version = CurrentPayloadVersion
	}
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{updateType: env.Type, version: version}]; ok {
		return decoder(env.Data)
	}
	return nil, fmt.Errorf("decoder not registered for %s@v%d", env.Type, version)
}

func decodeInto[T any](payload json.RawMessage) (any, error) {
	var dest T
	if err := json.Unmarshal(payload, &dest); err != nil {
		return nil, err
	}
	return dest, nil
}

// DefaultRegistry wires v1 decoders for the closed vocabulary.
func DefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(enums.UpdateStatusChanged, 1, decodeInto[StatusChange])
	r.Register(enums.UpdateCompletionDateProposed, 1, decodeInto[CompletionDateProposal])
	r.Register(enums.UpdateCompletionDateConfirmed, 1, decodeInto[CompletionDateProposal])
	r.Register(enums.UpdateCompletionDateRejected, 1, decodeInto[CompletionDateProposal])
	r.Register(enums.UpdateEnquirySent, 1, decodeInto[Enquiry])
	r.Register(enums.UpdateEnquiryAnswered, 1, decodeInto[Enquiry])
	r.Register(enums.UpdateEnquiryFollowUp, 1, decodeInto[Enquiry])
	r.Register(enums.UpdateRequisitionSent, 1, decodeInto[Requisition])
	r.Register(enums.UpdateRequisitionsCompleted, 1, decodeInto[StageCompletion])
	r.Register(enums.UpdateContractExchanged, 1, decodeInto[StageCompletion])
	r.Register(enums.UpdateStageCompleted, 1, decodeInto[StageCompletion])
	r.Register(enums.UpdateDocumentUploaded, 1, decodeInto[DocumentDelivery])
	r.Register(enums.UpdateAmendmentCreated, 1, decodeInto[AmendmentRequested])
	r.Register(enums.UpdateAmendmentAcknowledged, 1, decodeInto[AmendmentAcknowledged])
	r.Register(enums.UpdateAmendmentReplied, 1, decodeInto[AmendmentReplied])
	return r
}
