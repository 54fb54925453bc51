package account

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgosz/userhub/internal/logging"
	"github.com/mwielgosz/userhub/internal/password"
	"github.com/mwielgosz/userhub/internal/token"
	"github.com/mwielgosz/userhub/internal/user"
)

// fakeStore is an in-memory UserStore enforcing the same uniqueness
// rules as the real table.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*user.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, users: map[int64]*user.User{}}
}

func (s *fakeStore) Create(ctx context.Context, u *user.User) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return nil, user.ErrDuplicateEmail
		}
		if existing.Username == u.Username {
			return nil, user.ErrDuplicateUsername
		}
	}

	created := *u
	created.ID = s.nextID
	created.Confirmed = false
	s.nextID++
	s.users[created.ID] = &created

	copied := created
	return &copied, nil
}

func (s *fakeStore) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.find(func(u *user.User) bool { return u.Email == email })
}

func (s *fakeStore) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return s.find(func(u *user.User) bool { return u.Username == username })
}

func (s *fakeStore) GetByIdentifier(ctx context.Context, identifier string) (*user.User, error) {
	return s.find(func(u *user.User) bool { return u.Email == identifier || u.Username == identifier })
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return s.find(func(u *user.User) bool { return u.ID == id })
}

func (s *fakeStore) List(ctx context.Context) ([]user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []user.User
	for _, u := range s.users {
		users = append(users, *u)
	}
	return users, nil
}

func (s *fakeStore) MarkConfirmed(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.Confirmed = true
	return nil
}

func (s *fakeStore) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *fakeStore) find(match func(*user.User) bool) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, user.ErrNotFound
}

type sentMail struct {
	to   string
	link string
}

// fakeMailer records sends; the workflow mails from a goroutine, so
// access is synchronized.
type fakeMailer struct {
	mu            sync.Mutex
	confirmations []sentMail
	resets        []sentMail
}

func (m *fakeMailer) SendConfirmationEmail(ctx context.Context, toEmail, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, sentMail{to: toEmail, link: link})
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(ctx context.Context, toEmail, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, sentMail{to: toEmail, link: link})
	return nil
}

func (m *fakeMailer) lastConfirmation() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.confirmations) == 0 {
		return sentMail{}, false
	}
	return m.confirmations[len(m.confirmations)-1], true
}

func (m *fakeMailer) lastReset() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		return sentMail{}, false
	}
	return m.resets[len(m.resets)-1], true
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []int64
}

func (r *fakeRevoker) DestroyAllForUser(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, userID)
	return nil
}

type testEnv struct {
	service *Service
	store   *fakeStore
	mailer  *fakeMailer
	revoker *fakeRevoker
	signer  *token.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signer, err := token.NewSigner([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	store := newFakeStore()
	mailer := &fakeMailer{}
	revoker := &fakeRevoker{}
	logger := logging.NewLogger(true)

	return &testEnv{
		service: NewService(store, signer, mailer, revoker, logger, "http://localhost:8080"),
		store:   store,
		mailer:  mailer,
		revoker: revoker,
		signer:  signer,
	}
}

func validInput() RegisterInput {
	return RegisterInput{
		Name:            "Alice",
		Surname:         "Smith",
		Birthdate:       "1990-05-01",
		Username:        "alice",
		Email:           "alice@x.com",
		Password:        "Abc12345!",
		ConfirmPassword: "Abc12345!",
	}
}

// register creates and confirms a user, returning it ready for login.
func (e *testEnv) registerConfirmed(t *testing.T, in RegisterInput) *user.User {
	t.Helper()

	u, err := e.service.Register(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, e.store.MarkConfirmed(context.Background(), u.ID))
	return u
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.service.Register(ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@x.com", u.Email)
	assert.False(t, u.Confirmed)
	assert.NotEmpty(t, u.PasswordHash)
	assert.NotContains(t, u.PasswordHash, "Abc12345!")

	// confirmation email goes out asynchronously
	require.Eventually(t, func() bool {
		_, ok := env.mailer.lastConfirmation()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	mail, _ := env.mailer.lastConfirmation()
	assert.Equal(t, "alice@x.com", mail.to)

	// the emailed link carries a token that redeems for the email
	tok := strings.TrimPrefix(mail.link, "http://localhost:8080/confirm/")
	email, err := env.signer.Redeem(tok, token.PurposeConfirm)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", email)
}

func TestRegisterRejectsFutureBirthdate(t *testing.T) {
	env := newTestEnv(t)

	in := validInput()
	in.Birthdate = time.Now().AddDate(1, 0, 0).Format("2006-01-02")

	_, err := env.service.Register(context.Background(), in)

	var violations ValidationErrors
	require.ErrorAs(t, err, &violations)
	assert.Contains(t, violations, "Invalid birthdate. Please select a valid date.")

	// no user was created
	_, err = env.store.GetByEmail(context.Background(), in.Email)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestRegisterCollectsAllViolations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, validInput())
	require.NoError(t, err)

	in := validInput() // duplicate email and username
	in.Birthdate = "3000-01-01"
	in.Password = "weak"
	in.ConfirmPassword = "different"

	_, err = env.service.Register(ctx, in)

	var violations ValidationErrors
	require.ErrorAs(t, err, &violations)
	assert.Contains(t, violations, "Invalid birthdate. Please select a valid date.")
	assert.Contains(t, violations, "Email address already exists.")
	assert.Contains(t, violations, "Username already exists.")
	assert.Contains(t, violations, "Passwords do not match.")
	assert.Contains(t, violations, password.PolicyDescription)
	assert.Len(t, violations, 5)
}

func TestRegisterRejectsDuplicateEmailOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Username = "alice2"

	_, err = env.service.Register(ctx, in)

	var violations ValidationErrors
	require.ErrorAs(t, err, &violations)
	assert.Equal(t, ValidationErrors{"Email address already exists."}, violations)

	// the existing row is untouched
	existing, err := env.store.GetByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", existing.Username)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered := env.registerConfirmed(t, validInput())

	t.Run("by username", func(t *testing.T) {
		u, err := env.service.Login(ctx, "alice", "Abc12345!")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, u.ID)
	})

	t.Run("by email", func(t *testing.T) {
		u, err := env.service.Login(ctx, "alice@x.com", "Abc12345!")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, u.ID)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := env.service.Login(ctx, "nobody", "Abc12345!")
		assert.ErrorIs(t, err, ErrUnknownUser)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.service.Login(ctx, "alice", "Wrong1234!")
		assert.ErrorIs(t, err, ErrWrongPassword)
	})
}

func TestLoginRefusedBeforeConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = env.service.Login(ctx, "alice", "Abc12345!")
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.service.Register(ctx, validInput())
	require.NoError(t, err)

	tok, err := env.signer.Issue(u.Email, token.PurposeConfirm)
	require.NoError(t, err)

	confirmedNow, err := env.service.Confirm(ctx, tok)
	require.NoError(t, err)
	assert.True(t, confirmedNow)

	stored, err := env.store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.Confirmed)

	// confirming twice is a no-op, not an error
	confirmedNow, err = env.service.Confirm(ctx, tok)
	require.NoError(t, err)
	assert.False(t, confirmedNow)

	stored, err = env.store.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.Confirmed)
}

func TestConfirmRejectsResetToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.service.Register(ctx, validInput())
	require.NoError(t, err)

	tok, err := env.signer.Issue(u.Email, token.PurposeReset)
	require.NoError(t, err)

	_, err = env.service.Confirm(ctx, tok)
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestConfirmRejectsGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Confirm(context.Background(), "garbage")
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestForgotPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registerConfirmed(t, validInput())

	require.NoError(t, env.service.ForgotPassword(ctx, "alice@x.com"))

	require.Eventually(t, func() bool {
		_, ok := env.mailer.lastReset()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	mail, _ := env.mailer.lastReset()
	assert.Equal(t, "alice@x.com", mail.to)
	assert.Contains(t, mail.link, "/reset_password/")
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	err := env.service.ForgotPassword(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, ErrEmailNotRegistered)

	// no reset email was triggered
	_, ok := env.mailer.lastReset()
	assert.False(t, ok)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.registerConfirmed(t, validInput())

	tok, err := env.signer.Issue(u.Email, token.PurposeReset)
	require.NoError(t, err)

	require.NoError(t, env.service.ResetPassword(ctx, tok, "Xyz98765#", "Xyz98765#"))

	// old password no longer works, new one does
	_, err = env.service.Login(ctx, "alice", "Abc12345!")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = env.service.Login(ctx, "alice", "Xyz98765#")
	assert.NoError(t, err)

	// every session of the user was ended
	assert.Equal(t, []int64{u.ID}, env.revoker.revoked)
}

func TestResetPasswordValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.registerConfirmed(t, validInput())

	tok, err := env.signer.Issue(u.Email, token.PurposeReset)
	require.NoError(t, err)

	t.Run("mismatch", func(t *testing.T) {
		err := env.service.ResetPassword(ctx, tok, "Xyz98765#", "Other123!")
		var violations ValidationErrors
		require.ErrorAs(t, err, &violations)
		assert.Contains(t, violations, "Passwords do not match.")
	})

	t.Run("same as current", func(t *testing.T) {
		err := env.service.ResetPassword(ctx, tok, "Abc12345!", "Abc12345!")
		var violations ValidationErrors
		require.ErrorAs(t, err, &violations)
		assert.Contains(t, violations, "The new password cannot be the same as the current password.")
	})

	t.Run("policy", func(t *testing.T) {
		err := env.service.ResetPassword(ctx, tok, "weak", "weak")
		var violations ValidationErrors
		require.ErrorAs(t, err, &violations)
		assert.Contains(t, violations, password.PolicyDescription)
	})

	t.Run("confirm token rejected", func(t *testing.T) {
		confirmTok, err := env.signer.Issue(u.Email, token.PurposeConfirm)
		require.NoError(t, err)

		err = env.service.ResetPassword(ctx, confirmTok, "Xyz98765#", "Xyz98765#")
		assert.ErrorIs(t, err, token.ErrInvalid)
	})
}

func TestRequestPasswordChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.registerConfirmed(t, validInput())

	t.Run("wrong current password", func(t *testing.T) {
		err := env.service.RequestPasswordChange(ctx, u.ID, "Wrong1234!")
		assert.ErrorIs(t, err, ErrWrongPassword)
	})

	t.Run("correct current password mails a reset link", func(t *testing.T) {
		require.NoError(t, env.service.RequestPasswordChange(ctx, u.ID, "Abc12345!"))

		require.Eventually(t, func() bool {
			_, ok := env.mailer.lastReset()
			return ok
		}, 2*time.Second, 10*time.Millisecond)

		mail, _ := env.mailer.lastReset()
		assert.Equal(t, "alice@x.com", mail.to)
	})
}
