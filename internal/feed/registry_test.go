package feed

import (
	"encoding/json"
	"testing"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
)

func TestDefaultRegistryDecodesKnownTypes(t *testing.T) {
	registry := DefaultRegistry()

	env := Envelope{
		Type:    enums.UpdateCompletionDateProposed,
		Version: 1,
		Data:    json.RawMessage(`{"date":"2024-06-03"}`),
	}
	decoded, err := registry.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	proposal, ok := decoded.(CompletionDateProposal)
	if !ok {
		t.Fatalf("expected CompletionDateProposal, got %T", decoded)
	}
	if proposal.Date != "2024-06-03" {
		t.Fatalf("unexpected date %q", proposal.Date)
	}

	for _, updateType := range []enums.UpdateType{
		enums.UpdateStatusChanged,
		enums.UpdateEnquirySent,
		enums.UpdateRequisitionSent,
		enums.UpdateDocumentUploaded,
		enums.UpdateAmendmentCreated,
		enums.UpdateAmendmentReplied,
	} {
		if _, err := registry.Decode(Envelope{Type: updateType, Version: 1, Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("decode %s: %v", updateType, err)
		}
	}
}

func TestDecodeUnversionedEnvelopeDefaultsToV1(t *testing.T) {
	registry := DefaultRegistry()

	decoded, err := registry.Decode(Envelope{
		Type: enums.UpdateStatusChanged,
		Data: json.RawMessage(`{"to":"in-review"}`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change := decoded.(StatusChange); change.To != "in-review" {
		t.Fatalf("unexpected status %q", change.To)
	}
}

func TestDecodeUnknownTypeOrVersionFails(t *testing.T) {
	registry := DefaultRegistry()

	if _, err := registry.Decode(Envelope{Type: "mystery_event", Version: 1}); err == nil {
		t.Fatal("unknown type must fail")
	}
	if _, err := registry.Decode(Envelope{Type: enums.UpdateStatusChanged, Version: 9}); err == nil {
		t.Fatal("unknown version must fail")
	}
	if _, err := registry.Decode(Envelope{Type: enums.UpdateStatusChanged, Version: 1, Data: json.RawMessage(`{broken`)}); err == nil {
		t.Fatal("malformed payload must fail")
	}
}

func TestRegisterOverridesDecoder(t *testing.T) {
	registry := NewDecoderRegistry()
	registry.Register(enums.UpdateStatusChanged, 2, decodeInto[StatusChange])

	if _, err := registry.Decode(Envelope{Type: enums.UpdateStatusChanged, Version: 2, Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("registered decoder must resolve: %v", err)
	}
}
