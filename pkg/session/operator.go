package session

import (
	"fmt"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// Operator is the signed-in account performing an administrative action
type Operator struct {
	ID   string
	Role auth.Role
}

// authorize enforces the account administration ceiling: only a super_admin may
// touch a super_admin account or grant super_admin, and nobody changes their own
// platform role.
func (op Operator) authorize(target *auth.UserProfile, role *auth.Role) error {
	if op.Role == auth.RoleSuperAdmin {
		if role != nil && target.ID == op.ID && *role != target.Role {
			return fmt.Errorf("%w: cannot change own role", auth.ErrPermissionDenied)
		}
		return nil
	}
	if target.Role == auth.RoleSuperAdmin {
		return fmt.Errorf("%w: super_admin accounts are managed by super_admin only", auth.ErrPermissionDenied)
	}
	if role == nil {
		return nil
	}
	if *role == auth.RoleSuperAdmin {
		return fmt.Errorf("%w: only super_admin may grant super_admin", auth.ErrPermissionDenied)
	}
	if target.ID == op.ID && *role != target.Role {
		return fmt.Errorf("%w: cannot change own role", auth.ErrPermissionDenied)
	}
	return nil
}
