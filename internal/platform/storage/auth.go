package storage

import (
	"context"
	"errors"

	"github.com/agrilink/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller lacks permission to access the object.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeAccess validates whether the identity may touch an object owned by ownerID.
// Admins always pass; other callers must own the object.
func AuthorizeAccess(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	if allowAnonymous {
		return nil
	}
	if identity == nil {
		return ErrPermissionDenied
	}
	if identity.CanAccess(ownerID) {
		return nil
	}
	return ErrPermissionDenied
}

// AuthorizeAccessFromContext extracts the identity from context and validates access.
func AuthorizeAccessFromContext(ctx context.Context, ownerID string, allowAnonymous bool) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok && !allowAnonymous {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeAccess(identity, ownerID, allowAnonymous); err != nil {
		return nil, err
	}
	return identity, nil
}
