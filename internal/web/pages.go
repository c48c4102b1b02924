package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	sa "github.com/panyam/secretauth"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"home", "login", "register", "secrets", "submit"}

// errorMessages are the user facing texts for the ?error= codes set by the
// auth handlers
var errorMessages = map[string]string{
	sa.ErrCodeMissingField:    "Please enter a username and password.",
	sa.ErrCodeInvalidUsername: "Usernames are 3-32 characters: letters, numbers, dots, @, underscores and hyphens.",
	sa.ErrCodeWeakPassword:    "Passwords need at least 8 characters.",
	sa.ErrCodeUsernameTaken:   "That username is already taken.",
	sa.ErrCodeInvalidCreds:    "Invalid username or password.",
	sa.ErrCodeAlreadyLinked:   "Your account already has a password.",
	sa.ErrCodeInternal:        "Something went wrong, please try again.",
	errCodeEmptySecret:        "Your secret can't be empty.",
	errCodeSecretTooLong:      "Your secret is too long.",
}

type pageData struct {
	User            *sa.Identity
	Error           string
	CallbackURL     string
	Providers       []string
	Secrets         []string
	Current         string
	MaxSecretLength int
}

type pages map[string]*template.Template

func loadPages() (pages, error) {
	funcs := template.FuncMap{
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
	}
	out := pages{}
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/providers.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		out[name] = tmpl
	}
	return out, nil
}

// render executes into a buffer first so a template error never leaves a
// half written page
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data *pageData) {
	if data == nil {
		data = &pageData{}
	}
	if identity, ok := sa.IdentityFromContext(r.Context()); ok {
		data.User = identity
	}
	if data.Error == "" {
		if code := r.URL.Query().Get("error"); code != "" {
			data.Error = errorMessages[code]
			if data.Error == "" {
				data.Error = errorMessages[sa.ErrCodeInternal]
			}
		}
	}

	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger().Error("failed to render page", "page", name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
