package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Authenticate verifies a subscription token and maps its external identity
// to the canonical account in the target store. Every rejection surfaces as
// the same generic error; the reason is only logged.
func (s *Service) Authenticate(ctx context.Context, token string) (result Authentication, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"token_length": len(token),
	}
	defer func() {
		if result.Claim.Format != "" {
			fields["token_format"] = string(result.Claim.Format)
		}
		if result.Identity != "" {
			fields["identity"] = result.Identity
		}
		s.observeOperation(ctx, startedAt, "authenticate", err, fields)
	}()

	if s == nil || s.tokenVerifier == nil {
		err = s.mapError(dependencyError("token verifier"))
		return Authentication{}, err
	}

	now := s.currentTime()
	claim, verifyErr := s.tokenVerifier.Verify(token, s.secretSource.Snapshot(now), now)
	if verifyErr != nil {
		if reason, ok := RejectionReasonOf(verifyErr); ok {
			fields["rejection_reason"] = string(reason)
		}
		err = s.mapError(verifyErr)
		return Authentication{}, err
	}
	result.Claim = claim

	if s.accountStore == nil {
		if s.identityResolver == nil {
			return result, nil
		}
		identity, ok, resolveErr := s.identityResolver.Resolve(ctx, claim.ExternalIdentity, neverExists)
		if resolveErr != nil {
			err = s.mapError(resolveErr)
			return Authentication{Claim: claim}, err
		}
		if !ok {
			err = s.mapError(&IdentityUnresolvableError{
				ExternalIdentity: claim.ExternalIdentity,
				MaxLength:        s.config.Identity.MaxLength,
			})
			return Authentication{Claim: claim}, err
		}
		result.Identity = identity
		return result, nil
	}

	account, lookupErr := s.lookupAccount(ctx, claim.ExternalIdentity)
	if lookupErr != nil {
		err = s.mapError(lookupErr)
		return Authentication{Claim: claim}, err
	}
	result.Identity = account.Username
	result.Account = &account
	return result, nil
}

// lookupAccount prefers the persisted external identity mapping and falls
// back to walking the canonical candidate chain. A chain candidate only
// matches an account mapped to the same external identity, so native or
// foreign-owned accounts are never handed out.
func (s *Service) lookupAccount(ctx context.Context, externalIdentity string) (Account, error) {
	account, err := s.accountStore.FindByExternalIdentity(ctx, s.config.MigrationSource(), externalIdentity)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}
	if s.identityResolver == nil {
		return Account{}, dependencyError("identity resolver")
	}

	external := strings.TrimSpace(externalIdentity)
	var located Account
	owned := ExistsFunc(func(ctx context.Context, candidate string) (bool, error) {
		account, err := s.accountStore.GetByUsername(ctx, candidate)
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if external == "" || strings.TrimSpace(account.ExternalIdentity) != external {
			return false, nil
		}
		located = account
		return true, nil
	})
	_, ok, err := s.identityResolver.Locate(ctx, externalIdentity, owned)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, fmt.Errorf("%w: external identity %q", ErrAccountNotFound, external)
	}
	return located, nil
}

// ResolveIdentity returns the canonical identity a new account for
// externalIdentity would receive. Nothing is persisted.
func (s *Service) ResolveIdentity(ctx context.Context, externalIdentity string) (identity string, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"external_identity": externalIdentity,
	}
	defer func() {
		if identity != "" {
			fields["identity"] = identity
		}
		s.observeOperation(ctx, startedAt, "resolve_identity", err, fields)
	}()

	if s == nil || s.identityResolver == nil {
		err = s.mapError(dependencyError("identity resolver"))
		return "", err
	}
	if strings.TrimSpace(externalIdentity) == "" {
		err = s.mapError(fmt.Errorf("core: external identity is required"))
		return "", err
	}
	exists := neverExists
	if s.accountStore != nil {
		exists = s.accountStore.Exists
	}
	resolved, ok, resolveErr := s.identityResolver.Resolve(ctx, externalIdentity, exists)
	if resolveErr != nil {
		err = s.mapError(resolveErr)
		return "", err
	}
	if !ok {
		err = s.mapError(&IdentityUnresolvableError{
			ExternalIdentity: externalIdentity,
			MaxLength:        s.config.Identity.MaxLength,
		})
		return "", err
	}
	return resolved, nil
}

// neverExists reports every candidate as free.
func neverExists(context.Context, string) (bool, error) { return false, nil }
