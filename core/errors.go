package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput              = "SUBSYNC_BAD_INPUT"
	ServiceErrorTokenInvalid          = "SUBSYNC_TOKEN_INVALID"
	ServiceErrorIdentityUnresolvable  = "SUBSYNC_IDENTITY_UNRESOLVABLE"
	ServiceErrorAccountNotFound       = "SUBSYNC_ACCOUNT_NOT_FOUND"
	ServiceErrorDependencyUnavailable = "SUBSYNC_DEPENDENCY_UNAVAILABLE"
	ServiceErrorInternal              = "SUBSYNC_INTERNAL_ERROR"
)

// InvalidTokenMessage is the only text surfaced to a requester whose token
// was rejected, whatever the rejection reason.
const InvalidTokenMessage = "invalid subscription token"

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	var convertible interface{ ToServiceError() *goerrors.Error }
	if errors.As(err, &convertible) && convertible != nil {
		return ensureServiceErrorEnvelope(convertible.ToServiceError())
	}

	if _, ok := RejectionReasonOf(err); ok {
		return invalidTokenError()
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case errors.Is(err, ErrAccountNotFound), strings.Contains(msg, "account not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorAccountNotFound)
	case strings.Contains(msg, "not configured"):
		return newServiceError(err.Error(), goerrors.CategoryInternal, ServiceErrorDependencyUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func invalidTokenError() *goerrors.Error {
	return goerrors.New(InvalidTokenMessage, goerrors.CategoryAuth).
		WithCode(http.StatusBadRequest).
		WithTextCode(ServiceErrorTokenInvalid)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorAccountNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorTokenInvalid
	case goerrors.CategoryOperation:
		return ServiceErrorIdentityUnresolvable
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
