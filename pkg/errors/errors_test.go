package errors

import (
	stdErrors "errors"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, publicMsg: "resource not found"},
		{code: CodeStateConflict, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeStorageUnavailable, publicMsg: "local storage unavailable", detailsOK: true},
		{code: CodeMalformedData, publicMsg: "persisted data malformed", detailsOK: true},
		{code: CodeInternal, publicMsg: "internal error", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.PublicMessage != "internal error" {
		t.Fatalf("expected internal metadata, got %q", meta.PublicMessage)
	}
}

func TestErrorConstructorsAndUnwrap(t *testing.T) {
	base := New(CodeValidation, "missing name")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing name" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatal("details should be nil by default")
	}

	cause := stdErrors.New("disk full")
	wrapped := Wrap(CodeStorageUnavailable, cause, "persist feed")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to unwrap to cause")
	}
	if got := As(wrapped); got == nil || got.Code() != CodeStorageUnavailable {
		t.Fatalf("As should recover the typed error, got %v", got)
	}

	if Wrap(CodeInternal, nil, "no cause").Unwrap() != nil {
		t.Fatal("wrap with nil cause should have no cause")
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodeStateConflict, "already replied").WithDetails(map[string]string{"id": "abc"})
	if !HasCode(err, CodeStateConflict) {
		t.Fatal("expected state conflict code")
	}
	if HasCode(err, CodeNotFound) {
		t.Fatal("unexpected code match")
	}
	if HasCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatal("plain errors carry no code")
	}
}
