package tenant

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrMissingPrincipal is returned when no principal is attached to the
	// context. Callers fail closed on it.
	ErrMissingPrincipal = errors.New("principal missing from context")

	// ErrInvalidPrincipal is returned for empty or malformed principals.
	ErrInvalidPrincipal = errors.New("invalid principal")
)

const maxPrincipalLen = 255

type principalCtxKey struct{}

// ValidatePrincipal rejects principals that cannot be stored or matched safely.
func ValidatePrincipal(principal string) error {
	if principal == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPrincipal)
	}
	if len(principal) > maxPrincipalLen {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidPrincipal, maxPrincipalLen)
	}
	if !utf8.ValidString(principal) {
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidPrincipal)
	}
	return nil
}

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, principal)
}

// PrincipalFromContext returns the principal or ErrMissingPrincipal.
func PrincipalFromContext(ctx context.Context) (string, error) {
	p, ok := ctx.Value(principalCtxKey{}).(string)
	if !ok || p == "" {
		return "", ErrMissingPrincipal
	}
	return p, nil
}
