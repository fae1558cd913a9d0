package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
		status   int
	}{
		{
			name:     "rejection",
			err:      Reject(RejectionWrongPurpose, TokenFormatStructured),
			textCode: ServiceErrorTokenInvalid,
			status:   http.StatusBadRequest,
		},
		{
			name:     "account not found",
			err:      fmt.Errorf("%w: username %q", ErrAccountNotFound, "alice"),
			textCode: ServiceErrorAccountNotFound,
			status:   http.StatusNotFound,
		},
		{
			name:     "unresolvable identity",
			err:      &IdentityUnresolvableError{ExternalIdentity: "x", MaxLength: 1},
			textCode: ServiceErrorIdentityUnresolvable,
			status:   http.StatusUnprocessableEntity,
		},
		{
			name:     "missing dependency",
			err:      dependencyError("usage ledger"),
			textCode: ServiceErrorDependencyUnavailable,
			status:   http.StatusInternalServerError,
		},
		{
			name:     "invalid scope",
			err:      fmt.Errorf("%w: type %q", ErrInvalidUsageScope, "planet"),
			textCode: ServiceErrorBadInput,
			status:   http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := serviceErrorMapper(tc.err)
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %q, got %q", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
		})
	}
}

func TestServiceErrorMapper_RejectionsShareOneMessage(t *testing.T) {
	for _, reason := range []RejectionReason{
		RejectionTooShort,
		RejectionMalformed,
		RejectionInvalidSignature,
		RejectionWrongPurpose,
	} {
		mapped := serviceErrorMapper(Reject(reason, TokenFormatCompact))
		if mapped.Message != InvalidTokenMessage {
			t.Fatalf("expected generic message for %s, got %q", reason, mapped.Message)
		}
	}
}

func TestServiceMethods_MapErrorsToStableServiceCodes(t *testing.T) {
	ctx := context.Background()
	svc, err := newTestService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.Authenticate(ctx, "short")
	if err == nil {
		t.Fatalf("expected too short rejection")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ServiceErrorTokenInvalid {
		t.Fatalf("expected token invalid text code, got %q", richErr.TextCode)
	}

	_, err = svc.ResolveIdentity(ctx, "   ")
	if err == nil {
		t.Fatalf("expected validation error for blank identity")
	}
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ServiceErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", richErr.TextCode)
	}
}

func TestServiceErrorMapper_PassesThroughRichErrors(t *testing.T) {
	original := goerrors.New("conflict", goerrors.CategoryConflict)
	mapped := serviceErrorMapper(original)
	if mapped != original {
		t.Fatalf("expected rich error to pass through")
	}
	if mapped.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", mapped.Code)
	}
	if mapped.TextCode != ServiceErrorInternal {
		t.Fatalf("expected internal fallback text code, got %q", mapped.TextCode)
	}
	if serviceErrorMapper(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if serviceErrorMapper(stderrors.New("boom")).TextCode == "" {
		t.Fatalf("expected fallback text code")
	}
}
