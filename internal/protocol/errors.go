// Package protocol defines the shared error taxonomy for the lending and
// insurance cores. Business failures carry a stable numeric code mirroring
// the on-chain contract's error constants so that API clients and logs can
// match on them regardless of message wording.
package protocol

import "fmt"

// Code identifies a business failure class.
type Code uint32

const (
	CodeUnauthorized         Code = 100
	CodeAlreadyExists        Code = 101
	CodeNotFound             Code = 102
	CodeAlreadyFinalized     Code = 103
	CodeDuplicateSubmission  Code = 104
	CodeExceedsMaxLTV        Code = 105
	CodeInvalidDuration      Code = 106
	CodeInvalidTimestamp     Code = 107
	CodeLoanNotActive        Code = 108
	CodeInvalidParameters    Code = 109
	CodeNoFinalizedAppraisal Code = 110
	CodeLoanNotExpired       Code = 111
	CodePolicyNotActive      Code = 112
	CodeConditionNotMet      Code = 113
)

// Error is a tagged business error. Two Errors match under errors.Is when
// their codes are equal, so the sentinel instances below double as match
// targets.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (err u%d)", e.Msg, e.Code)
}

// Is matches on code, ignoring message detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errf builds a tagged error with a formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Sentinel errors for the taxonomy. Match with errors.Is.
var (
	ErrUnauthorized         = &Error{CodeUnauthorized, "caller not authorized"}
	ErrAlreadyExists        = &Error{CodeAlreadyExists, "record already exists"}
	ErrNotFound             = &Error{CodeNotFound, "record not found"}
	ErrAlreadyFinalized     = &Error{CodeAlreadyFinalized, "request already finalized"}
	ErrDuplicateSubmission  = &Error{CodeDuplicateSubmission, "duplicate submission"}
	ErrExceedsMaxLTV        = &Error{CodeExceedsMaxLTV, "requested amount exceeds max LTV"}
	ErrInvalidDuration      = &Error{CodeInvalidDuration, "duration outside permitted bounds"}
	ErrInvalidTimestamp     = &Error{CodeInvalidTimestamp, "timestamp not monotonically increasing"}
	ErrLoanNotActive        = &Error{CodeLoanNotActive, "loan is not active"}
	ErrInvalidParameters    = &Error{CodeInvalidParameters, "invalid parameters"}
	ErrNoFinalizedAppraisal = &Error{CodeNoFinalizedAppraisal, "no finalized appraisal for item"}
	ErrLoanNotExpired       = &Error{CodeLoanNotExpired, "loan duration has not elapsed"}
	ErrPolicyNotActive      = &Error{CodePolicyNotActive, "policy is not active"}
	ErrConditionNotMet      = &Error{CodeConditionNotMet, "trigger condition not met"}
)
