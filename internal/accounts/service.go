// Package accounts links note.com accounts by logging in through the automation driver.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/automation"
	"github.com/JakeFAU/note-autopublisher/internal/clock/system"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

const minPasswordLength = 6

// Authenticator logs in and returns the resulting session.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (automation.Session, error)
}

// Store is the persistence surface the Service needs.
type Store interface {
	ListAccounts(ctx context.Context, userID string) ([]jobs.Account, error)
	InsertAccount(ctx context.Context, account jobs.Account) (jobs.Account, error)
	UpdateAccountToken(ctx context.Context, account jobs.Account) (jobs.Account, error)
}

// Credentials are the login details submitted by the user. They are never persisted.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the credential shape before a browser is launched.
func (c Credentials) Validate() error {
	if !strings.Contains(c.Email, "@") {
		return &jobs.ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if len(c.Password) < minPasswordLength {
		return &jobs.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	return nil
}

// View is the account projection returned to callers. The token is omitted.
type View struct {
	ID           string     `json:"id"`
	ExternalID   string     `json:"noteUserId"`
	DisplayName  string     `json:"noteUsername"`
	IsPrimary    bool       `json:"isPrimary"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// NewView projects an account.
func NewView(a jobs.Account) View {
	return View{
		ID:           a.ID,
		ExternalID:   a.ExternalID,
		DisplayName:  a.DisplayName,
		IsPrimary:    a.IsPrimary,
		CreatedAt:    a.CreatedAt,
		LastSyncedAt: a.LastSyncedAt,
	}
}

// Service authenticates and upserts linked accounts.
type Service struct {
	auth   Authenticator
	store  Store
	vault  jobs.Vault
	ids    jobs.IDGenerator
	clock  jobs.Clock
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(auth Authenticator, store Store, vault jobs.Vault, ids jobs.IDGenerator, clock jobs.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{auth: auth, store: store, vault: vault, ids: ids, clock: clock, logger: logger}
}

// Link logs in with creds and stores the encrypted session for userID. An account with
// the same external ID is updated in place; otherwise a new one is inserted and becomes
// primary when it is the user's first. created reports whether a row was inserted.
func (s *Service) Link(ctx context.Context, userID string, creds Credentials) (account jobs.Account, created bool, err error) {
	if strings.TrimSpace(userID) == "" {
		return jobs.Account{}, false, &jobs.ValidationError{Field: "user", Reason: "required"}
	}
	if err := creds.Validate(); err != nil {
		return jobs.Account{}, false, err
	}

	session, err := s.auth.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		s.logger.Warn("note authentication failed",
			zap.String("user_id", userID),
			zap.String("kind", string(automation.KindOf(err))),
			zap.Error(err),
		)
		return jobs.Account{}, false, fmt.Errorf("authenticate: %w", err)
	}

	encrypted, err := s.vault.Encrypt(session.SessionToken)
	if err != nil {
		return jobs.Account{}, false, fmt.Errorf("encrypt session: %w", err)
	}

	existing, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return jobs.Account{}, false, fmt.Errorf("list accounts: %w", err)
	}
	now := s.clock.Now()

	for _, a := range existing {
		if a.ExternalID != session.ExternalID {
			continue
		}
		a.EncryptedToken = encrypted
		a.DisplayName = session.DisplayName
		a.LastSyncedAt = jobs.TimePtr(now)
		a.UpdatedAt = now
		updated, err := s.store.UpdateAccountToken(ctx, a)
		if err != nil {
			return jobs.Account{}, false, fmt.Errorf("update account: %w", err)
		}
		s.logger.Info("note account refreshed", zap.String("account_id", updated.ID))
		return updated, false, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return jobs.Account{}, false, fmt.Errorf("account id: %w", err)
	}
	inserted, err := s.store.InsertAccount(ctx, jobs.Account{
		ID:             id,
		UserID:         userID,
		ExternalID:     session.ExternalID,
		DisplayName:    session.DisplayName,
		EncryptedToken: encrypted,
		IsPrimary:      len(existing) == 0,
		LastSyncedAt:   jobs.TimePtr(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return jobs.Account{}, false, fmt.Errorf("insert account: %w", err)
	}
	s.logger.Info("note account linked", zap.String("account_id", inserted.ID), zap.Bool("primary", inserted.IsPrimary))
	return inserted, true, nil
}

// IsAuthenticationFailure reports whether err came from the browser login flow.
func IsAuthenticationFailure(err error) bool {
	var ae *automation.Error
	return errors.As(err, &ae)
}
