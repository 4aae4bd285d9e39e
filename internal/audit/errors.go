package audit

import "fmt"

type ErrorCode int

const (
	ErrCodeMemlock ErrorCode = iota + 1
	ErrCodeMapCreate
	ErrCodeProgramLoad
	ErrCodeAttach
	ErrCodeLookup
)

// AuditError carries the stage of the audit setup that failed.
type AuditError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AuditError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuditError) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, err error) *AuditError {
	return &AuditError{Code: code, Message: msg, Err: err}
}
