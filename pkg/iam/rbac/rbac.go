// Package rbac centralizes role checks: three totally-ordered roles,
// admin > user > read_only. Reads of own data need read_only, mutations of
// own data need user, and anything cross-user or configuration-shaped
// needs admin.
package rbac

import (
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/kernel"
)

// Require fails unless the principal holds at least the required role.
func Require(auth *kernel.AuthContext, required kernel.Role) error {
	if auth == nil || !auth.IsValid() {
		return iam.ErrUnauthorized()
	}
	if !auth.AtLeast(required) {
		return iam.ErrAccessDenied().
			WithDetail("required_role", required.String()).
			WithDetail("actual_role", auth.Role.String())
	}
	return nil
}

// RequireScope fails unless the credential's scope set covers the scope.
// Role and scope are independent gates: a token can hold a user's role but
// a narrower scope set.
func RequireScope(auth *kernel.AuthContext, scope string) error {
	if auth == nil || !auth.IsValid() {
		return iam.ErrUnauthorized()
	}
	if !auth.HasScope(scope) {
		return iam.ErrAccessDenied().WithDetail("missing_scope", scope)
	}
	return nil
}

// ResolveTarget returns the user whose data the request may touch. A
// non-empty target different from the principal requires admin.
func ResolveTarget(auth *kernel.AuthContext, target kernel.UserID) (kernel.UserID, error) {
	if auth == nil || !auth.IsValid() {
		return "", iam.ErrUnauthorized()
	}
	if target.IsEmpty() || target == *auth.UserID {
		return *auth.UserID, nil
	}
	if auth.Role != kernel.RoleAdmin {
		return "", iam.ErrAccessDenied().WithDetail("reason", "cross-user access requires admin")
	}
	return target, nil
}
