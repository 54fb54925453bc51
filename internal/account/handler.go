package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwielgosz/userhub/internal/logging"
	"github.com/mwielgosz/userhub/internal/session"
	"github.com/mwielgosz/userhub/internal/token"
	"github.com/mwielgosz/userhub/internal/user"
)

// Renderer draws the HTML pages. The rendering layer is an external
// collaborator; handlers only name the page and hand over the data.
type Renderer interface {
	Render(w http.ResponseWriter, statusCode int, page string, data *PageData)
}

// PageData is everything a page template can use.
type PageData struct {
	Flashes  []string
	Form     map[string]string
	Users    []user.User
	Token    string
	Today    string
	LoggedIn bool
}

// Handler contains the HTTP handlers for the account flows.
type Handler struct {
	service  *Service
	sessions *session.Manager
	renderer Renderer
}

func NewHandler(service *Service, sessions *session.Manager, renderer Renderer) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
		renderer: renderer,
	}
}

// Landing renders the welcome page.
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "index", &PageData{})
}

// RegisterForm renders the registration form.
func (h *Handler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register", &PageData{
		Today: time.Now().Format("2006-01-02"),
		Form:  map[string]string{},
	})
}

// Register handles the registration submit. Validation failures are all
// reported together on the re-rendered form with the fields preserved.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		h.flash(w, r, "Invalid form submission.")
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	in := RegisterInput{
		Name:            r.PostFormValue("name"),
		Surname:         r.PostFormValue("surname"),
		Birthdate:       r.PostFormValue("birthdate"),
		Username:        r.PostFormValue("username"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	newUser, err := h.service.Register(r.Context(), in)
	if err != nil {
		var violations ValidationErrors
		if errors.As(err, &violations) {
			h.renderer.Render(w, http.StatusUnprocessableEntity, "register", &PageData{
				Flashes: violations,
				Today:   time.Now().Format("2006-01-02"),
				Form: map[string]string{
					"name":      in.Name,
					"surname":   in.Surname,
					"birthdate": in.Birthdate,
					"username":  in.Username,
					"email":     in.Email,
				},
			})
			return
		}
		logger.Error("registration failed", "error", err.Error())
		h.flash(w, r, "Something went wrong. Please try again.")
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}

	logger.Info("user registered", "user_id", newUser.ID, "username", newUser.Username)

	h.flash(w, r, "Successfully registered! Check your email to confirm your account.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// LoginForm renders the login form.
func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login", &PageData{})
}

// Login handles the login submit. The three refusals (unknown user,
// wrong password, unconfirmed account) are reported distinctly.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		h.flash(w, r, "Invalid form submission.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	identifier := r.PostFormValue("identifier")
	plaintext := r.PostFormValue("password")

	u, err := h.service.Login(r.Context(), identifier, plaintext)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownUser):
			h.flash(w, r, "User does not exist.")
		case errors.Is(err, ErrWrongPassword):
			h.flash(w, r, "Invalid password.")
		case errors.Is(err, ErrNotConfirmed):
			h.flash(w, r, "Account not confirmed. Check your email for the confirmation link.")
		default:
			logger.Error("login failed", "error", err.Error())
			h.flash(w, r, "Something went wrong. Please try again.")
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if err := h.sessions.Start(r.Context(), w, r, u.ID); err != nil {
		logger.Error("failed to start session", "user_id", u.ID, "error", err.Error())
		h.flash(w, r, "Something went wrong. Please try again.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	logger.Info("user logged in", "user_id", u.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Confirm redeems a confirmation token from the emailed link.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	confirmedNow, err := h.service.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, token.ErrInvalid) || errors.Is(err, token.ErrExpired) {
			h.flash(w, r, "The confirmation link is invalid or has expired.")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		logger.Error("confirmation failed", "error", err.Error())
		h.flash(w, r, "Something went wrong. Please try again.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if !confirmedNow {
		h.flash(w, r, "Account already confirmed. Please login.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	h.render(w, r, http.StatusOK, "confirmed", &PageData{})
}

// Dashboard lists all users. Protected.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		logger.Error("failed to list users", "error", err.Error())
		h.flash(w, r, "Something went wrong. Please try again.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	h.render(w, r, http.StatusOK, "dashboard", &PageData{
		Users:    users,
		LoggedIn: true,
	})
}

// Logout ends the session. Protected.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(r.Context(), w, r); err != nil && !errors.Is(err, session.ErrNoSession) {
		logging.GetLoggerFromContext(r.Context()).Warn("failed to end session", "error", err.Error())
	}

	h.flash(w, r, "You have been logged out.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ForgotPasswordForm renders the reset-link request form.
func (h *Handler) ForgotPasswordForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "forgot_password", &PageData{})
}

// ForgotPassword handles the reset-link request.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		h.flash(w, r, "Invalid form submission.")
		http.Redirect(w, r, "/forgot_password", http.StatusSeeOther)
		return
	}

	err := h.service.ForgotPassword(r.Context(), r.PostFormValue("email"))
	if err != nil {
		if errors.Is(err, ErrEmailNotRegistered) {
			h.render(w, r, http.StatusOK, "forgot_password", &PageData{
				Flashes: []string{"Email not registered in our system."},
			})
			return
		}
		logger.Error("forgot password failed", "error", err.Error())
		h.flash(w, r, "Something went wrong. Please try again.")
		http.Redirect(w, r, "/forgot_password", http.StatusSeeOther)
		return
	}

	h.flash(w, r, "Check your email for instructions to reset your password.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ResetPasswordForm shows the new-password form when the token in the
// link is still good.
func (h *Handler) ResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")

	if _, err := h.service.ValidateResetToken(r.Context(), tok); err != nil {
		h.redirectBadResetToken(w, r)
		return
	}

	h.render(w, r, http.StatusOK, "reset_password", &PageData{Token: tok})
}

// ResetPassword handles the new-password submit.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	tok := chi.URLParam(r, "token")

	if err := r.ParseForm(); err != nil {
		h.flash(w, r, "Invalid form submission.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	err := h.service.ResetPassword(r.Context(), tok,
		r.PostFormValue("password"),
		r.PostFormValue("confirm_password"),
	)
	if err != nil {
		var violations ValidationErrors
		switch {
		case errors.As(err, &violations):
			h.renderer.Render(w, http.StatusUnprocessableEntity, "reset_password", &PageData{
				Flashes: violations,
				Token:   tok,
			})
		case errors.Is(err, token.ErrInvalid), errors.Is(err, token.ErrExpired):
			h.redirectBadResetToken(w, r)
		default:
			logger.Error("password reset failed", "error", err.Error())
			h.flash(w, r, "Something went wrong. Please try again.")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		}
		return
	}

	logger.Info("password reset completed")

	h.flash(w, r, "Your password has been updated!")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ChangePasswordForm renders the change-password-request form. Protected.
func (h *Handler) ChangePasswordForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "change_password_request", &PageData{LoggedIn: true})
}

// ChangePassword re-verifies the current password and mails a reset
// link. Protected.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.flash(w, r, "Invalid form submission.")
		http.Redirect(w, r, "/change_password_request", http.StatusSeeOther)
		return
	}

	err := h.service.RequestPasswordChange(r.Context(), userID, r.PostFormValue("current_password"))
	if err != nil {
		if errors.Is(err, ErrWrongPassword) {
			h.render(w, r, http.StatusOK, "change_password_request", &PageData{
				Flashes:  []string{"Incorrect current password."},
				LoggedIn: true,
			})
			return
		}
		logger.Error("change password request failed", "user_id", userID, "error", err.Error())
		h.flash(w, r, "Something went wrong. Please try again.")
		http.Redirect(w, r, "/change_password_request", http.StatusSeeOther)
		return
	}

	h.flash(w, r, "Check your email for instructions to reset your password.")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) redirectBadResetToken(w http.ResponseWriter, r *http.Request) {
	h.flash(w, r, "The reset link is invalid or has expired.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// render draws a page with the caller's queued flashes merged in.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, statusCode int, page string, data *PageData) {
	data.Flashes = append(h.sessions.PopFlashes(r.Context(), r), data.Flashes...)
	if !data.LoggedIn {
		_, data.LoggedIn = h.sessions.CurrentUserID(r.Context(), r)
	}
	h.renderer.Render(w, statusCode, page, data)
}

func (h *Handler) flash(w http.ResponseWriter, r *http.Request, message string) {
	if err := h.sessions.AddFlash(r.Context(), w, r, message); err != nil {
		logging.GetLoggerFromContext(r.Context()).Warn("failed to add flash", "error", err.Error())
	}
}
