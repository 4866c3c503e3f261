package services

import (
	"errors"
	"strings"

	domain "github.com/agrilink/api/internal/domain"
)

// ErrForbidden indicates the caller lacks permission for the requested operation.
var ErrForbidden = errors.New("services: forbidden")

// Actor identifies the authenticated principal performing an operation.
// Capability checks across all services go through this type so role rules
// live in one place.
type Actor struct {
	ID   string
	Role domain.Role
}

// Known reports whether the actor carries a usable identity.
func (a Actor) Known() bool {
	return strings.TrimSpace(a.ID) != ""
}

// Admin reports whether the actor holds the admin role.
func (a Actor) Admin() bool {
	return a.Role == domain.RoleAdmin
}

// Is reports whether the actor holds the given role. Admins satisfy every
// role check.
func (a Actor) Is(role domain.Role) bool {
	return a.Role == role || a.Admin()
}

// CanAccess reports whether the actor may act on a resource owned by any of
// the supplied principals.
func (a Actor) CanAccess(ownerIDs ...string) bool {
	if !a.Known() {
		return false
	}
	if a.Admin() {
		return true
	}
	for _, owner := range ownerIDs {
		if owner != "" && owner == a.ID {
			return true
		}
	}
	return false
}
