package qdrant

import "fmt"

// OperationError carries enough context to map a failed vector-store call to a
// retry decision and an API error without string matching at call sites.
type OperationError struct {
	Code       string
	Operation  string
	Collection string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("qdrant %s failed (%s)", e.Operation, e.Code)
	if e.Collection != "" {
		msg += fmt.Sprintf(" collection=%s", e.Collection)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *OperationError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

const (
	codeValidationFailed = "validation_failed"
	codeEncodeFailed     = "encode_failed"
	codeDecodeFailed     = "decode_failed"
	codeTransportFailed  = "transport_failed"
	codeTimeout          = "timeout"
	codeQueryFailed      = "query_failed"
)

func opErr(code, operation, collection string, status int, message string, cause error) *OperationError {
	return &OperationError{
		Code:       code,
		Operation:  operation,
		Collection: collection,
		StatusCode: status,
		Message:    message,
		Cause:      cause,
	}
}
