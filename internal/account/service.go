// Package account orchestrates the user account lifecycle: register,
// confirm, login, and the password reset flows.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mwielgosz/userhub/internal/logging"
	"github.com/mwielgosz/userhub/internal/password"
	"github.com/mwielgosz/userhub/internal/token"
	"github.com/mwielgosz/userhub/internal/user"
)

var (
	ErrUnknownUser        = errors.New("user does not exist")
	ErrWrongPassword      = errors.New("invalid password")
	ErrNotConfirmed       = errors.New("account not confirmed")
	ErrEmailNotRegistered = errors.New("email not registered")
)

// ValidationErrors collects every violated rule of a submission so the
// user sees them all at once rather than one per attempt.
type ValidationErrors []string

func (e ValidationErrors) Error() string {
	return strings.Join(e, "; ")
}

// UserStore is the credential store contract the workflow depends on.
// *user.Repository satisfies it.
type UserStore interface {
	Create(ctx context.Context, u *user.User) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByUsername(ctx context.Context, username string) (*user.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*user.User, error)
	GetByID(ctx context.Context, id int64) (*user.User, error)
	List(ctx context.Context) ([]user.User, error)
	MarkConfirmed(ctx context.Context, userID int64) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// Mailer sends the account emails. Delivery is best-effort: the flows
// report success to the user regardless of the send outcome.
type Mailer interface {
	SendConfirmationEmail(ctx context.Context, toEmail, link string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, link string) error
}

// SessionRevoker ends every session of a user, used after a password
// reset.
type SessionRevoker interface {
	DestroyAllForUser(ctx context.Context, userID int64) error
}

// Service implements the account workflow on top of the credential
// store, hasher, token signer, and mailer.
type Service struct {
	store    UserStore
	signer   *token.Signer
	mailer   Mailer
	sessions SessionRevoker
	logger   *logging.Logger
	baseURL  string
}

func NewService(store UserStore, signer *token.Signer, mailer Mailer, sessions SessionRevoker, logger *logging.Logger, baseURL string) *Service {
	return &Service{
		store:    store,
		signer:   signer,
		mailer:   mailer,
		sessions: sessions,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// RegisterInput carries the registration form fields. Birthdate is the
// raw form value in YYYY-MM-DD.
type RegisterInput struct {
	Name            string
	Surname         string
	Birthdate       string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register validates the submission, creates the unconfirmed user, and
// mails the confirmation link. Every violated rule is collected into
// one ValidationErrors value; no user is created unless all pass.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	var violations ValidationErrors

	birthdate, err := time.Parse("2006-01-02", in.Birthdate)
	if err != nil || birthdate.After(time.Now()) {
		violations = append(violations, "Invalid birthdate. Please select a valid date.")
	}

	if in.Username == "" {
		violations = append(violations, "Username is required.")
	}
	if in.Email == "" {
		violations = append(violations, "Email is required.")
	}

	if in.Email != "" {
		if _, err := s.store.GetByEmail(ctx, in.Email); err == nil {
			violations = append(violations, "Email address already exists.")
		} else if !errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
	}
	if in.Username != "" {
		if _, err := s.store.GetByUsername(ctx, in.Username); err == nil {
			violations = append(violations, "Username already exists.")
		} else if !errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("failed to check username: %w", err)
		}
	}

	if in.Password != in.ConfirmPassword {
		violations = append(violations, "Passwords do not match.")
	}
	if !password.MeetsPolicy(in.Password) {
		violations = append(violations, password.PolicyDescription)
	}

	if len(violations) > 0 {
		return nil, violations
	}

	passwordHash, err := password.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.store.Create(ctx, &user.User{
		Name:         in.Name,
		Surname:      in.Surname,
		Birthdate:    birthdate,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
	})
	if err != nil {
		// the existence checks above can lose a race with a
		// concurrent create; the constraint is the arbiter
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, ValidationErrors{"Email address already exists."}
		}
		if errors.Is(err, user.ErrDuplicateUsername) {
			return nil, ValidationErrors{"Username already exists."}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.sendConfirmationLink(newUser.Email)

	return newUser, nil
}

// Login resolves the identifier (email or username) and verifies the
// password. Unconfirmed accounts are refused even with correct
// credentials.
func (s *Service) Login(ctx context.Context, identifier, plaintext string) (*user.User, error) {
	u, err := s.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !password.Verify(plaintext, u.PasswordHash) {
		return nil, ErrWrongPassword
	}

	if !u.Confirmed {
		return nil, ErrNotConfirmed
	}

	return u, nil
}

// Confirm redeems a confirmation token and flips the confirmed flag.
// The first return is false when the account was already confirmed;
// confirming twice is a no-op, not an error.
func (s *Service) Confirm(ctx context.Context, tokenStr string) (bool, error) {
	email, err := s.signer.Redeem(tokenStr, token.PurposeConfirm)
	if err != nil {
		return false, err
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return false, token.ErrInvalid
		}
		return false, fmt.Errorf("failed to get user: %w", err)
	}

	if u.Confirmed {
		return false, nil
	}

	if err := s.store.MarkConfirmed(ctx, u.ID); err != nil {
		return false, fmt.Errorf("failed to confirm user: %w", err)
	}

	return true, nil
}

// ForgotPassword issues a reset token and mails the reset link. An
// unknown email is reported; no token is issued for it.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrEmailNotRegistered
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	s.sendResetLink(u.Email)
	return nil
}

// ValidateResetToken redeems a reset token and resolves it to the user
// it was issued for. Used both to show the reset form and to accept it.
func (s *Service) ValidateResetToken(ctx context.Context, tokenStr string) (*user.User, error) {
	email, err := s.signer.Redeem(tokenStr, token.PurposeReset)
	if err != nil {
		return nil, err
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, token.ErrInvalid
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

// ResetPassword replaces the password of the user a reset token was
// issued for, then ends all of that user's sessions.
func (s *Service) ResetPassword(ctx context.Context, tokenStr, newPassword, confirmPassword string) error {
	u, err := s.ValidateResetToken(ctx, tokenStr)
	if err != nil {
		return err
	}

	var violations ValidationErrors

	if newPassword != confirmPassword {
		violations = append(violations, "Passwords do not match.")
	}
	if password.Verify(newPassword, u.PasswordHash) {
		violations = append(violations, "The new password cannot be the same as the current password.")
	}
	if !password.MeetsPolicy(newPassword) {
		violations = append(violations, password.PolicyDescription)
	}

	if len(violations) > 0 {
		return violations
	}

	passwordHash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, u.ID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	// stolen sessions must not outlive the password they were opened with
	if err := s.sessions.DestroyAllForUser(ctx, u.ID); err != nil {
		s.logger.Warn("failed to destroy sessions after password reset", "user_id", u.ID, "error", err)
	}

	return nil
}

// RequestPasswordChange re-verifies the current password of an
// authenticated user and mails a reset link; the actual change happens
// through the reset flow.
func (s *Service) RequestPasswordChange(ctx context.Context, userID int64, currentPassword string) error {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !password.Verify(currentPassword, u.PasswordHash) {
		return ErrWrongPassword
	}

	s.sendResetLink(u.Email)
	return nil
}

// ListUsers returns all users for the dashboard.
func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.List(ctx)
}

func (s *Service) sendConfirmationLink(email string) {
	tok, err := s.signer.Issue(email, token.PurposeConfirm)
	if err != nil {
		s.logger.Warn("failed to issue confirmation token", "email", email, "error", err)
		return
	}

	link := fmt.Sprintf("%s/confirm/%s", s.baseURL, tok)

	go func() {
		// fresh context: the request that triggered the mail does
		// not wait for it
		if err := s.mailer.SendConfirmationEmail(context.Background(), email, link); err != nil {
			s.logger.Warn("failed to send confirmation email", "email", email, "error", err)
		}
	}()
}

func (s *Service) sendResetLink(email string) {
	tok, err := s.signer.Issue(email, token.PurposeReset)
	if err != nil {
		s.logger.Warn("failed to issue reset token", "email", email, "error", err)
		return
	}

	link := fmt.Sprintf("%s/reset_password/%s", s.baseURL, tok)

	go func() {
		if err := s.mailer.SendPasswordResetEmail(context.Background(), email, link); err != nil {
			s.logger.Warn("failed to send password reset email", "email", email, "error", err)
		}
	}()
}
