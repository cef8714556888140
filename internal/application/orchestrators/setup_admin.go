package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"waitlist/internal/domain/account"
)

// ErrMalformedEmail is returned for an address that is not a valid email.
var ErrMalformedEmail = errors.New("invalid email address")

// AccountStoreForSetup defines the store interface needed by SetupAdmin.
type AccountStoreForSetup interface {
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	Save(ctx context.Context, a account.Account) error
}

// SetupAdminInput carries the credentials of the admin to provision.
type SetupAdminInput struct {
	Email    string
	Password string
}

// SetupAdminResult reports what was done.
type SetupAdminResult struct {
	AccountID string
	Created   bool // false when an existing account was granted the claim
}

// SetupAdminDeps holds dependencies for SetupAdmin.
type SetupAdminDeps struct {
	AccountStore AccountStoreForSetup
	GenerateID   func() string
	Now          func() time.Time
	// IsNotFound reports whether a lookup error means the account does not exist.
	IsNotFound func(error) bool
}

// ExecuteSetupAdmin creates an admin principal, or grants the admin claim to an
// existing one without touching its password.
// PRE: Email is well formed; Password has at least account.MinPasswordLength characters
// POST: the account with Email carries the admin claim
func ExecuteSetupAdmin(ctx context.Context, input SetupAdminInput, deps SetupAdminDeps) (SetupAdminResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !govalidator.IsEmail(email) {
		return SetupAdminResult{}, ErrMalformedEmail
	}
	if len(input.Password) < account.MinPasswordLength {
		return SetupAdminResult{}, account.ErrPasswordTooShort
	}

	existing, err := deps.AccountStore.GetByEmail(ctx, email)
	switch {
	case err == nil:
		existing.GrantAdmin()
		if err := deps.AccountStore.Save(ctx, existing); err != nil {
			return SetupAdminResult{}, err
		}
		slog.Info("auth_event", "event", "admin_claim_granted", "email", email)
		return SetupAdminResult{AccountID: existing.ID}, nil
	case deps.IsNotFound != nil && !deps.IsNotFound(err):
		return SetupAdminResult{}, err
	}

	acct := account.Account{
		ID:        deps.GenerateID(),
		Email:     email,
		CreatedAt: deps.Now(),
	}
	if err := acct.Validate(); err != nil {
		return SetupAdminResult{}, err
	}
	if err := acct.SetPassword(input.Password); err != nil {
		return SetupAdminResult{}, err
	}
	acct.GrantAdmin()

	if err := deps.AccountStore.Save(ctx, acct); err != nil {
		return SetupAdminResult{}, err
	}
	slog.Info("auth_event", "event", "admin_created", "email", email)
	return SetupAdminResult{AccountID: acct.ID, Created: true}, nil
}
