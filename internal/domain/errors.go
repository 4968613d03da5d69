package domain

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorizedRelation   = errors.New("receiver is not a direct downline user")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrSelfOperationForbidden = errors.New("operation not allowed on this account")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrInactiveUser           = errors.New("user is inactive")
	ErrUserExists             = errors.New("user with this email or username already exists")
	ErrAlreadyBootstrapped    = errors.New("system already has users")
	ErrTraversalLimit         = errors.New("downline traversal limit reached")
	ErrInvalidCredentials     = errors.New("invalid credentials")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrNotFound, "not_found"},
	{ErrUnauthorizedRelation, "unauthorized_relation"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrSelfOperationForbidden, "self_operation_forbidden"},
	// checked before inactive_user: inactive callers are wrapped in both
	{ErrUnauthenticated, "unauthenticated"},
	{ErrInactiveUser, "inactive_user"},
	{ErrUserExists, "user_exists"},
	{ErrAlreadyBootstrapped, "already_bootstrapped"},
	{ErrTraversalLimit, "traversal_limit"},
	{ErrInvalidCredentials, "invalid_credentials"},
}

// Kind names the failure class of err, "ok" for nil and "internal" for
// anything outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
