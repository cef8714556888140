package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"waitlist/internal/adapters/http/middleware"
	"waitlist/internal/application/orchestrators"
)

// handleLoginForm handles GET /login
func handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetSessionFromContext(r.Context()); ok {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	renderTemplate(w, r, http.StatusOK, "login.html", map[string]any{"Email": ""})
}

// handleLogin handles POST /login
func handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))

	result, err := orchestrators.ExecuteLogin(r.Context(), orchestrators.LoginInput{
		Email:    email,
		Password: r.FormValue("password"),
	}, orchestrators.LoginDeps{
		AccountStore: stores.AccountStore,
		Now:          timeNow,
	})
	if err != nil {
		message := "Login failed: " + orchestrators.ErrInvalidCredentials.Error()
		switch {
		case errors.Is(err, orchestrators.ErrNoAdminPrivileges):
			message = "Access denied: " + err.Error()
		case errors.Is(err, orchestrators.ErrAccountLocked):
			message = "Login failed: " + err.Error()
		}
		renderTemplate(w, r, http.StatusUnauthorized, "login.html", map[string]any{
			"Email": email,
			"Flash": flash{Kind: flashError, Message: message},
		})
		return
	}

	token, err := sessions.Create(result.AccountID, result.Email)
	if err != nil {
		internalError(w, err)
		return
	}
	middleware.SetSessionCookie(w, token)
	slog.Info("auth_event", "event", "login_succeeded", "account_id", result.AccountID)
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

// handleLogout handles POST /logout
func handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessions.Delete(cookie.Value)
	}
	middleware.ClearSessionCookie(w)
	setFlash(w, flashInfo, "Logged out")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
