package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const loginPage = `<html><head><title>Sign in</title></head><body>
<form action="/session" method="post">
  <input type="hidden" name="csrf" value="tok-123">
  <input type="email" name="email">
  <input type="password" name="pass">
  <button type="submit">Sign in</button>
</form></body></html>`

const dashboardPage = `<html><head><title>Dashboard</title><style>.x{}</style></head><body>
<h1>My application</h1>
<div>Estado do processo</div>
<p>Em análise pelo departamento</p>
<script>var hidden = "nope";</script>
<div hidden>secret text</div>
<table><tr><td>Ref</td><td>42</td></tr></table>
</body></html>`

func portal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, loginPage)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("csrf") != "tok-123" || r.PostForm.Get("email") != "ana@example.com" || r.PostForm.Get("pass") != "hunter2" {
			_, _ = io.WriteString(w, loginPage)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "abc" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		_, _ = io.WriteString(w, dashboardPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFormLoginCapturesLandingPage(t *testing.T) {
	srv := portal(t)
	p, err := NewHTTPProvider(HTTPConfig{
		LoginURL: srv.URL + "/login",
		Username: "ana@example.com",
		Password: "hunter2",
	}, quietLogger())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	page, err := Capture(context.Background(), p)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if page.Title != "Dashboard" {
		t.Fatalf("unexpected title %q", page.Title)
	}
	if !strings.Contains(page.Text, "Estado do processo\nEm análise pelo departamento") {
		t.Fatalf("status lines missing from text:\n%s", page.Text)
	}
	for _, hidden := range []string{"nope", "secret text", ".x{}"} {
		if strings.Contains(page.Text, hidden) {
			t.Fatalf("text leaked %q:\n%s", hidden, page.Text)
		}
	}
	if !strings.HasSuffix(page.URL, "/home") {
		t.Fatalf("unexpected url %q", page.URL)
	}
}

func TestFormLoginStatusURLReusesSession(t *testing.T) {
	srv := portal(t)
	p, err := NewHTTPProvider(HTTPConfig{
		LoginURL:  srv.URL + "/login",
		StatusURL: srv.URL + "/home",
		Username:  "ana@example.com",
		Password:  "hunter2",
	}, quietLogger())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	page, err := Capture(context.Background(), p)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !strings.Contains(page.Text, "Em análise") {
		t.Fatalf("unexpected text %q", page.Text)
	}
}

func TestFormLoginRejectedCredentials(t *testing.T) {
	srv := portal(t)
	p, _ := NewHTTPProvider(HTTPConfig{
		LoginURL: srv.URL + "/login",
		Username: "ana@example.com",
		Password: "wrong",
	}, quietLogger())

	_, err := Capture(context.Background(), p)
	if !IsKind(err, KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestForbiddenIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(HTTPConfig{LoginURL: srv.URL, Flow: FlowNone}, quietLogger())
	_, err := Capture(context.Background(), p)
	if !IsKind(err, KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestServerErrorIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(HTTPConfig{LoginURL: srv.URL, Flow: FlowNone}, quietLogger())
	_, err := Capture(context.Background(), p)
	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestSlowServerIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := NewHTTPProvider(HTTPConfig{LoginURL: srv.URL, Timeout: 50 * time.Millisecond}, quietLogger())
	_, err := Capture(context.Background(), p)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestBasicFlowSendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ana" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "<p>Status: Approved</p>")
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(HTTPConfig{LoginURL: srv.URL, Flow: FlowBasic, Username: "ana", Password: "pw"}, quietLogger())
	page, err := Capture(context.Background(), p)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if page.Text != "Status: Approved" {
		t.Fatalf("unexpected text %q", page.Text)
	}
}

func TestTokenFlowReplaysCapturedToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["user"] != "ana" || body["pass"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data": {"token": "t0k"}}`)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t0k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "<div>Status</div><div>Decision published</div>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		LoginURL:  srv.URL + "/api/login",
		StatusURL: srv.URL + "/status",
		Flow:      FlowHTTPToken,
		Username:  "ana",
		Password:  "pw",
		Token: TokenConfig{
			Body:        `{"user": {{ var "username" | to_json }}, "pass": {{ var "password" | to_json }}}`,
			CapturePath: "$.data.token",
		},
	}, quietLogger())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	page, err := Capture(context.Background(), p)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if page.Text != "Status\nDecision published" {
		t.Fatalf("unexpected text %q", page.Text)
	}
}

func TestSettleHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<p>ok</p>")
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(HTTPConfig{LoginURL: srv.URL, Flow: FlowNone, Settle: time.Hour}, quietLogger())
	sess, err := p.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sess.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewHTTPProviderValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  HTTPConfig
	}{
		{"missing login url", HTTPConfig{}},
		{"unknown flow", HTTPConfig{LoginURL: "http://example.com", Flow: "oauth"}},
		{"token without capture", HTTPConfig{LoginURL: "http://example.com", Flow: FlowHTTPToken}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewHTTPProvider(tc.cfg, nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestVisibleTextBlocks(t *testing.T) {
	title, text, err := VisibleText(strings.NewReader(`<html><head><title> T </title></head><body>
<ul><li>one</li><li>two</li></ul>line<br>break <span>inline</span>
<noscript>js off</noscript></body></html>`))
	if err != nil {
		t.Fatalf("visible text: %v", err)
	}
	if title != "T" {
		t.Fatalf("unexpected title %q", title)
	}
	want := "one\ntwo\nline\nbreak inline"
	if text != want {
		t.Fatalf("got %q want %q", text, want)
	}
}
