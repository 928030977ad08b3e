package app

import (
	"fmt"
	"net/http"
)

// Error codes sent in the "code" field of error responses.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidBody  = "INVALID_BODY"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeConflict     = "CONFLICT"
	CodeTimeout      = "TIMEOUT"
	CodeServer       = "SERVER_ERROR"
)

// Membership rule violations. They answer 400, unlike field validation.
var (
	ErrAlreadyMember     = ruleError("Already a member")
	ErrInvalidInviteCode = ruleError("Invalid invite code")
	ErrLastMemberRemove  = ruleError("Cannot delete the only member")
	ErrLastMemberRole    = ruleError("Cannot downgrade the only member")
)

// DomainError is rendered as is by the HTTP layer. Cause stays out of the
// response body.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func validationError(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusUnprocessableEntity, Code: CodeValidation, Message: message, Details: details}
}

func ruleError(message string) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message}
}

func invalidBodyError(message string, cause error) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: CodeInvalidBody, Message: message, Cause: cause}
}

func notFoundError(message string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}
