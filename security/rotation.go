package security

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-subsync/core"
)

// RotatingSecrets holds the current verification secret set. Readers take an
// immutable snapshot; writers build a new set and swap it in, so a rotation
// never changes a set a verification is iterating.
type RotatingSecrets struct {
	current atomic.Pointer[core.SecretSet]
	mu      sync.Mutex
}

func NewRotatingSecrets(initial core.SecretSet) *RotatingSecrets {
	r := &RotatingSecrets{}
	r.current.Store(&initial)
	return r
}

func (r *RotatingSecrets) Snapshot(_ time.Time) core.SecretSet {
	if r == nil {
		return core.SecretSet{}
	}
	set := r.current.Load()
	if set == nil {
		return core.SecretSet{}
	}
	return *set
}

// Rotate replaces the whole set.
func (r *RotatingSecrets) Rotate(next core.SecretSet) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(&next)
}

// Add appends secret, replacing any secret with the same non-empty version.
func (r *RotatingSecrets) Add(secret core.Secret) error {
	if r == nil {
		return fmt.Errorf("security: rotating secrets is nil")
	}
	if len(secret.Value) == 0 {
		return fmt.Errorf("security: secret value is required")
	}
	version := strings.TrimSpace(secret.Version)
	secret.Version = version

	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.Snapshot(time.Time{}).Secrets()
	next := make([]core.Secret, 0, len(existing)+1)
	for _, candidate := range existing {
		if version != "" && candidate.Version == version {
			continue
		}
		next = append(next, candidate)
	}
	next = append(next, secret)
	set := core.NewSecretSet(next...)
	r.current.Store(&set)
	return nil
}

// Retire removes every secret carrying version and reports how many were
// dropped.
func (r *RotatingSecrets) Retire(version string) int {
	if r == nil {
		return 0
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.Snapshot(time.Time{}).Secrets()
	next := make([]core.Secret, 0, len(existing))
	for _, candidate := range existing {
		if candidate.Version == version {
			continue
		}
		next = append(next, candidate)
	}
	removed := len(existing) - len(next)
	if removed > 0 {
		set := core.NewSecretSet(next...)
		r.current.Store(&set)
	}
	return removed
}

// StaticSecrets serves a fixed set.
type StaticSecrets struct {
	set core.SecretSet
}

func NewStaticSecrets(values ...string) StaticSecrets {
	return StaticSecrets{set: core.SecretSetFromStrings(values...)}
}

func (s StaticSecrets) Snapshot(time.Time) core.SecretSet {
	return s.set
}

var (
	_ core.SecretSource = (*RotatingSecrets)(nil)
	_ core.SecretSource = StaticSecrets{}
)
