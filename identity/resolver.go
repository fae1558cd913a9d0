package identity

import (
	"context"
	"crypto/md5"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goliatone/go-subsync/core"
)

const (
	DefaultMaxLength = 32
	tagSeparator     = "_"
)

var hashModulus = big.NewInt(10000)

// UnresolvableError reports an external identity with no candidate that fits
// the length bound.
type UnresolvableError = core.IdentityUnresolvableError

type Config struct {
	MaxLength int
}

// Resolver maps external account names onto bounded canonical identities.
// The candidate chain depends only on the normalized name, so every caller
// sharing a MaxLength walks the same sequence.
type Resolver struct {
	maxLength int
}

func NewResolver(cfg Config) *Resolver {
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Resolver{maxLength: maxLength}
}

func (r *Resolver) MaxLength() int {
	if r == nil || r.maxLength <= 0 {
		return DefaultMaxLength
	}
	return r.maxLength
}

// Normalize lowercases value and drops everything except letters, numbers
// and underscores.
func (r *Resolver) Normalize(value string) string {
	return Normalize(value)
}

func Normalize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, ch := range strings.ToLower(value) {
		if ch == '_' || unicode.IsLetter(ch) || unicode.IsNumber(ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// Hash4 is the MD5 digest of value read as a big-endian integer, mod 10000,
// zero-padded to four digits.
func Hash4(value string) string {
	sum := md5.Sum([]byte(value))
	n := new(big.Int).SetBytes(sum[:])
	return fmt.Sprintf("%04d", n.Mod(n, hashModulus).Int64())
}

// Resolve returns the first candidate in the chain that exists reports as
// free. ok is false when the chain runs past the length bound.
func (r *Resolver) Resolve(ctx context.Context, externalIdentity string, exists core.ExistsFunc) (string, bool, error) {
	if exists == nil {
		return "", false, fmt.Errorf("identity: exists oracle is required")
	}
	return r.walk(ctx, externalIdentity, func(ctx context.Context, candidate string) (bool, error) {
		taken, err := exists(ctx, candidate)
		return !taken, err
	})
}

// Locate returns the first candidate in the chain that exists reports as
// taken. It finds the identity Resolve assigned earlier, provided no
// intermediate candidate was released since.
func (r *Resolver) Locate(ctx context.Context, externalIdentity string, exists core.ExistsFunc) (string, bool, error) {
	if exists == nil {
		return "", false, fmt.Errorf("identity: exists oracle is required")
	}
	return r.walk(ctx, externalIdentity, exists)
}

// walk visits base, then base_tag, then each re-tagged extension, stopping at
// the first candidate accept returns true for.
func (r *Resolver) walk(ctx context.Context, externalIdentity string, accept core.ExistsFunc) (string, bool, error) {
	base := Normalize(externalIdentity)
	if base == "" {
		return "", false, nil
	}
	maxLength := r.MaxLength()

	if runeLen(base) <= maxLength {
		ok, err := accept(ctx, base)
		if err != nil {
			return "", false, err
		}
		if ok {
			return base, true, nil
		}
	}

	candidate := base
	tag := Hash4(base)
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		next := candidate + tagSeparator + tag
		if runeLen(next) >= maxLength {
			fallback := base + tag
			if runeLen(fallback) >= maxLength {
				return "", false, nil
			}
			ok, err := accept(ctx, fallback)
			if err != nil {
				return "", false, err
			}
			if ok {
				return fallback, true, nil
			}
			return "", false, nil
		}
		ok, err := accept(ctx, next)
		if err != nil {
			return "", false, err
		}
		if ok {
			return next, true, nil
		}
		candidate = next
		tag = Hash4(next)
	}
}

func runeLen(value string) int {
	return utf8.RuneCountInString(value)
}

var _ core.IdentityResolver = (*Resolver)(nil)
