package web

import (
	"encoding/base64"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/csrf"

	"waitlist/internal/adapters/http/middleware"
	"waitlist/internal/domain/entry"
)

// AdminDateLayout renders entry timestamps in the admin table.
const AdminDateLayout = "02 Jan 2006, 03:04 pm"

const flashCookieName = "waitlist_flash"

// Flash kinds.
const (
	flashSuccess = "success"
	flashError   = "error"
	flashInfo    = "info"
)

// flash is a one-shot message carried across a redirect.
type flash struct {
	Kind    string
	Message string
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func templateFuncs(r *http.Request) template.FuncMap {
	email := ""
	sess, loggedIn := middleware.GetSessionFromContext(r.Context())
	if loggedIn {
		email = sess.Email
	}
	return template.FuncMap{
		"csrfField":    func() template.HTML { return csrf.TemplateField(r) },
		"isLoggedIn":   func() bool { return loggedIn },
		"currentEmail": func() string { return email },
		"coachName":    func() string { return settings.CoachName },
		"adminDate": func(t time.Time) string {
			return t.In(settings.Location).Format(AdminDateLayout)
		},
		"orDash": func(s string) string {
			if strings.TrimSpace(s) == "" {
				return "-"
			}
			return s
		},
		"telHref": func(phone string) template.URL {
			return template.URL("tel:" + entry.NormalizePhone(phone))
		},
		"seq": func(from, to int) []int {
			var out []int
			for i := from; i <= to; i++ {
				out = append(out, i)
			}
			return out
		},
	}
}

// renderTemplate executes page inside the shared layout.
func renderTemplate(w http.ResponseWriter, r *http.Request, status int, page string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	if f, ok := takeFlash(w, r); ok {
		if _, set := data["Flash"]; !set {
			data["Flash"] = f
		}
	}
	tpl, err := template.New("layout.html").Funcs(templateFuncs(r)).
		ParseFS(templateFS, "templates/layout.html", "templates/age_fields.html", "templates/"+page)
	if err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tpl.Execute(w, data); err != nil {
		slog.Error("render_failed", "page", page, "error", err)
	}
}

// renderFragment executes one named template without the layout.
func renderFragment(w http.ResponseWriter, r *http.Request, file, name string, data any) {
	tpl, err := template.New(file).Funcs(templateFuncs(r)).ParseFS(templateFS, "templates/"+file)
	if err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tpl.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("render_failed", "fragment", name, "error", err)
	}
}

func setFlash(w http.ResponseWriter, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(kind + "|" + message)),
		HttpOnly: true,
		Secure:   middleware.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

// takeFlash reads and clears the flash cookie.
func takeFlash(w http.ResponseWriter, r *http.Request) (flash, bool) {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return flash{}, false
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookieName, Path: "/", MaxAge: -1})
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return flash{}, false
	}
	kind, message, ok := strings.Cut(string(raw), "|")
	if !ok {
		return flash{}, false
	}
	return flash{Kind: kind, Message: message}, true
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
