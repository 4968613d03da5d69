// Package auth is the authorization gate in front of the ledger engines:
// a capability table keyed by role, the account status rules, and the
// resolution of bearer tokens into identities.
package auth

import (
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
)

// Identity is the authenticated caller of an operation.
type Identity struct {
	ID                string      `json:"id"`
	Role              models.Role `json:"role"`
	IsActive          bool        `json:"is_active"`
	PasswordChangedAt *time.Time  `json:"password_changed_at,omitempty"`
}

func IdentityOf(u models.User) Identity {
	return Identity{
		ID:                u.ID,
		Role:              u.Role,
		IsActive:          u.IsActive,
		PasswordChangedAt: u.PasswordChangedAt,
	}
}

type Operation string

const (
	OpTransfer            Operation = "balance.transfer"
	OpViewBalance         Operation = "balance.view"
	OpViewDownline        Operation = "downline.view"
	OpCreateChild         Operation = "user.create_child"
	OpChangeChildPassword Operation = "user.change_child_password"

	OpAdminCredit   Operation = "admin.credit"
	OpAdminView     Operation = "admin.view"
	OpToggleStatus  Operation = "admin.toggle_status"
	OpCreateAnyUser Operation = "admin.create_user"

	OpRecharge    Operation = "owner.recharge"
	OpCreateAdmin Operation = "owner.create_admin"
)

var (
	userOps  = []Operation{OpTransfer, OpViewBalance, OpViewDownline, OpCreateChild, OpChangeChildPassword}
	adminOps = append(append([]Operation{}, userOps...), OpAdminCredit, OpAdminView, OpToggleStatus, OpCreateAnyUser)
	ownerOps = append(append([]Operation{}, adminOps...), OpRecharge, OpCreateAdmin)
)

var capabilities = map[models.Role]map[Operation]struct{}{
	models.RoleUser:  setOf(userOps),
	models.RoleAdmin: setOf(adminOps),
	models.RoleOwner: setOf(ownerOps),
}

func setOf(ops []Operation) map[Operation]struct{} {
	set := make(map[Operation]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// Can reports whether role is granted op by the capability table.
func Can(role models.Role, op Operation) bool {
	_, ok := capabilities[role][op]
	return ok
}

// Authorize permits op for id or returns ErrUnauthenticated / ErrPermissionDenied.
func Authorize(id Identity, op Operation) error {
	if id.ID == "" {
		return domain.ErrUnauthenticated
	}
	if !id.IsActive {
		return fmt.Errorf("%w: %w", domain.ErrUnauthenticated, domain.ErrInactiveUser)
	}
	if !Can(id.Role, op) {
		return fmt.Errorf("%w: role %q cannot perform %s", domain.ErrPermissionDenied, id.Role, op)
	}
	return nil
}

// CheckDeactivation enforces that nobody deactivates themselves or an owner.
func CheckDeactivation(caller Identity, target models.User) error {
	if caller.ID == target.ID {
		return fmt.Errorf("%w: cannot deactivate your own account", domain.ErrSelfOperationForbidden)
	}
	if target.Role == models.RoleOwner {
		return fmt.Errorf("%w: cannot deactivate owner account", domain.ErrSelfOperationForbidden)
	}
	return nil
}
