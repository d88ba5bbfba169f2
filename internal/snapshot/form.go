package snapshot

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FormConfig describes how to locate and fill the login form.
type FormConfig struct {
	Selector      string
	UsernameField string
	PasswordField string
	Extra         map[string]string
}

type loginForm struct {
	action    string
	method    string
	values    url.Values
	userField string
	passField string
}

var errNoLoginForm = errors.New("login form not found")

// findLoginForm picks the first form matching the selector that holds a
// password input, resolves its action against base and prefills hidden
// fields such as CSRF tokens.
func findLoginForm(doc *goquery.Document, base *url.URL, cfg FormConfig) (loginForm, error) {
	selector := cfg.Selector
	if selector == "" {
		selector = "form"
	}

	var form *goquery.Selection
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find(`input[type="password"]`).Length() > 0 || (cfg.PasswordField != "" && s.Find(fmt.Sprintf(`[name=%q]`, cfg.PasswordField)).Length() > 0) {
			form = s
			return false
		}
		return true
	})
	if form == nil {
		return loginForm{}, errNoLoginForm
	}

	action, _ := form.Attr("action")
	target, err := base.Parse(strings.TrimSpace(action))
	if err != nil {
		return loginForm{}, fmt.Errorf("resolve form action %q: %w", action, err)
	}

	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodPost)))
	if method != http.MethodGet {
		method = http.MethodPost
	}

	values := url.Values{}
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "file", "reset":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		values.Set(name, in.AttrOr("value", ""))
	})

	userField := cfg.UsernameField
	if userField == "" {
		userField = guessUsernameField(form)
	}
	passField := cfg.PasswordField
	if passField == "" {
		passField = form.Find(`input[type="password"]`).First().AttrOr("name", "password")
	}
	if userField == "" {
		return loginForm{}, errors.New("cannot determine username field")
	}

	for k, v := range cfg.Extra {
		values.Set(k, v)
	}

	return loginForm{
		action:    target.String(),
		method:    method,
		values:    values,
		userField: userField,
		passField: passField,
	}, nil
}

func (f loginForm) fill(username, password string) url.Values {
	out := url.Values{}
	for k, v := range f.values {
		out[k] = append([]string(nil), v...)
	}
	out.Set(f.userField, username)
	out.Set(f.passField, password)
	return out
}

func guessUsernameField(form *goquery.Selection) string {
	for _, sel := range []string{`input[type="email"]`, `input[autocomplete="username"]`, `input[name*="user"]`, `input[name*="email"]`, `input[name*="login"]`, `input[type="text"]`} {
		if name := form.Find(sel).First().AttrOr("name", ""); name != "" {
			return name
		}
	}
	return ""
}

// hasPasswordField reports whether the page still renders a login form,
// which after a submit means the credentials were rejected.
func hasPasswordField(doc *goquery.Document) bool {
	return doc.Find(`input[type="password"]`).Length() > 0
}
