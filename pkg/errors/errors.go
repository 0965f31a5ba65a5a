package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	// CodeValidation marks malformed caller input; no state was created.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeNotFound marks operations referencing an id absent from the reconciled feed.
	CodeNotFound Code = "NOT_FOUND"
	// CodeStateConflict marks disallowed state transitions such as a double reply.
	CodeStateConflict Code = "STATE_CONFLICT"
	// CodeStorageUnavailable marks a persistence medium that cannot be read or written.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	// CodeMalformedData marks persisted values that failed to decode; absorbed, never fatal.
	CodeMalformedData Code = "MALFORMED_DATA"
	CodeInternal      Code = "INTERNAL_ERROR"
)

type Metadata struct {
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeStateConflict: {
		Retryable:      false,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeStorageUnavailable: {
		Retryable:      false,
		PublicMessage:  "local storage unavailable",
		DetailsAllowed: true,
	},
	CodeMalformedData: {
		Retryable:      false,
		PublicMessage:  "persisted data malformed",
		DetailsAllowed: true,
	},
	CodeInternal: {
		Retryable:      true,
		PublicMessage:  "internal error",
		DetailsAllowed: false,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err is a typed error carrying the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
