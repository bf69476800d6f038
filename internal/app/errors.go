package app

import (
	"errors"
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "only the configured master identity may perform this operation", nil)
}

func errNotFound(kind, identifier string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no %s matches %q", kind, identifier), nil)
}

func errRuleNotFound(identifier string) *DomainError {
	return domainError(http.StatusNotFound, "RULE_NOT_FOUND", fmt.Sprintf("no rule matches %q", identifier), nil)
}

func errSelfTarget() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "SELF_TARGET_FORBIDDEN", "a violation cannot be issued against its own issuer", nil)
}

func errNoChanges() *DomainError {
	return domainError(http.StatusBadRequest, "NO_CHANGES_REQUESTED", "the update request contains no fields to change", nil)
}

func errAllocationExhausted() *DomainError {
	return domainError(http.StatusServiceUnavailable, "ALLOCATION_EXHAUSTED", "could not allocate a unique identifier within the retry budget", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// IsDomain extracts a DomainError from err, if it is one.
func IsDomain(err error) (*DomainError, bool) {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain, true
	}
	return nil, false
}
