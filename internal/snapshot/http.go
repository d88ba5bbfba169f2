package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oliveagle/jsonpath"
	"github.com/osbits/statuswatch/internal/render"
	"golang.org/x/net/publicsuffix"
)

const (
	FlowForm      = "form"
	FlowHTTPToken = "http-token"
	FlowBasic     = "basic"
	FlowNone      = "none"

	DefaultTimeout   = 30 * time.Second
	DefaultSettle    = 2 * time.Second
	DefaultUserAgent = "statuswatch/1.0 (+https://github.com/osbits/statuswatch)"

	maxBodyBytes = 5 << 20
)

// TokenConfig drives the http-token flow: a templated login request whose
// JSON answer carries a token that is replayed as a header.
type TokenConfig struct {
	URL         string
	Method      string
	Body        string
	Headers     map[string]string
	CapturePath string
	Header      string
	Prefix      string
}

// HTTPConfig configures the HTTP snapshot provider.
type HTTPConfig struct {
	LoginURL  string
	StatusURL string
	Username  string
	Password  string
	Flow      string
	Form      FormConfig
	Token     TokenConfig
	Timeout   time.Duration
	Settle    time.Duration
	UserAgent string
	// Visible raises navigation logs to info so an operator can follow each step.
	Visible bool

	Secrets   map[string]string
	Engine    *render.Engine
	Transport http.RoundTripper
}

// HTTPProvider logs in over plain HTTP and captures the visible page text.
type HTTPProvider struct {
	cfg    HTTPConfig
	logger *slog.Logger
}

// NewHTTPProvider validates cfg and fills defaults.
func NewHTTPProvider(cfg HTTPConfig, logger *slog.Logger) (*HTTPProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		return nil, errors.New("snapshot: login url is required")
	}
	if _, err := url.Parse(cfg.LoginURL); err != nil {
		return nil, fmt.Errorf("snapshot: parse login url: %w", err)
	}
	cfg.Flow = strings.ToLower(strings.TrimSpace(cfg.Flow))
	if cfg.Flow == "" {
		cfg.Flow = FlowForm
	}
	switch cfg.Flow {
	case FlowForm, FlowBasic, FlowNone:
	case FlowHTTPToken:
		if cfg.Token.CapturePath == "" {
			return nil, errors.New("snapshot: http-token flow requires a capture path")
		}
	default:
		return nil, fmt.Errorf("snapshot: unsupported login flow %q", cfg.Flow)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Engine == nil {
		cfg.Engine = render.New()
	}
	return &HTTPProvider{cfg: cfg, logger: logger.With("component", "snapshot")}, nil
}

// Open creates a fresh cookie jar and transport and performs the login.
func (p *HTTPProvider) Open(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "cookie jar", Err: err}
	}
	transport := p.cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	s := &httpSession{
		cfg:       p.cfg,
		logger:    p.logger,
		transport: transport,
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   p.cfg.Timeout,
		},
		headers: http.Header{},
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if err := s.login(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

type httpSession struct {
	cfg       HTTPConfig
	logger    *slog.Logger
	transport http.RoundTripper
	client    *http.Client
	headers   http.Header
	basic     bool

	landing *goquery.Document
	url     string
	closed  bool
}

func (s *httpSession) step(msg string, args ...any) {
	if s.cfg.Visible {
		s.logger.Info(msg, args...)
		return
	}
	s.logger.Debug(msg, args...)
}

func (s *httpSession) login(ctx context.Context) error {
	switch s.cfg.Flow {
	case FlowNone:
		return nil
	case FlowBasic:
		s.basic = true
		return nil
	case FlowHTTPToken:
		return s.tokenLogin(ctx)
	default:
		return s.formLogin(ctx)
	}
}

func (s *httpSession) formLogin(ctx context.Context) error {
	s.step("opening login page", "url", s.cfg.LoginURL)
	doc, finalURL, err := s.get(ctx, s.cfg.LoginURL)
	if err != nil {
		return err
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return wrap("parse login url", err)
	}
	form, err := findLoginForm(doc, base, s.cfg.Form)
	if err != nil {
		if errors.Is(err, errNoLoginForm) && !hasPasswordField(doc) {
			// Already signed in, e.g. a long-lived cookie on the same host.
			s.landing, s.url = doc, finalURL
			return nil
		}
		return &Error{Kind: KindNetwork, Op: "find login form", Err: err}
	}

	values := form.fill(s.cfg.Username, s.cfg.Password)
	s.step("submitting credentials", "action", form.action, "method", form.method)

	var req *http.Request
	if form.method == http.MethodGet {
		target, _ := url.Parse(form.action)
		target.RawQuery = values.Encode()
		req, err = s.newRequest(ctx, http.MethodGet, target.String(), nil)
	} else {
		req, err = s.newRequest(ctx, http.MethodPost, form.action, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return wrap("build login request", err)
	}
	req.Header.Set("Referer", finalURL)

	doc, landed, err := s.do(req)
	if err != nil {
		return err
	}
	if hasPasswordField(doc) {
		return authError("login", errors.New("login page still shown after submitting credentials"))
	}
	s.step("login complete", "url", landed)
	s.landing, s.url = doc, landed
	return nil
}

func (s *httpSession) tokenLogin(ctx context.Context) error {
	tc := s.cfg.Token
	target := tc.URL
	if target == "" {
		target = s.cfg.LoginURL
	}
	method := strings.ToUpper(tc.Method)
	if method == "" {
		method = http.MethodPost
	}
	rctx := render.TemplateContext{
		Secrets: s.cfg.Secrets,
		Vars: map[string]string{
			"username": s.cfg.Username,
			"password": s.cfg.Password,
		},
	}
	body, err := s.cfg.Engine.RenderString(tc.Body, rctx)
	if err != nil {
		return &Error{Kind: KindAuth, Op: "render token body", Err: err}
	}
	headers, err := render.RenderMap(tc.Headers, rctx, s.cfg.Engine)
	if err != nil {
		return &Error{Kind: KindAuth, Op: "render token headers", Err: err}
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := s.newRequest(ctx, method, target, reader)
	if err != nil {
		return wrap("build token request", err)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	s.step("requesting token", "url", target)
	resp, err := s.client.Do(req)
	if err != nil {
		return wrap("token request", err)
	}
	defer resp.Body.Close()
	if err := statusError("token request", resp); err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return wrap("read token response", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return authError("parse token response", err)
	}
	val, err := jsonpath.JsonPathLookup(payload, tc.CapturePath)
	if err != nil {
		return authError("capture token", err)
	}
	token := fmt.Sprintf("%v", val)
	if val == nil || token == "" {
		return authError("capture token", fmt.Errorf("empty value at %s", tc.CapturePath))
	}

	header := tc.Header
	if header == "" {
		header = "Authorization"
	}
	prefix := tc.Prefix
	if prefix == "" && strings.EqualFold(header, "Authorization") {
		prefix = "Bearer "
	}
	s.headers.Set(header, prefix+token)
	return nil
}

// Fetch waits for the settle delay and captures the status page.
func (s *httpSession) Fetch(ctx context.Context) (Page, error) {
	if s.closed {
		return Page{}, &Error{Kind: KindNetwork, Op: "fetch", Err: errors.New("session closed")}
	}
	if s.cfg.Settle > 0 {
		timer := time.NewTimer(s.cfg.Settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Page{}, wrap("settle", ctx.Err())
		case <-timer.C:
		}
	}

	doc, pageURL := s.landing, s.url
	if s.cfg.StatusURL != "" || doc == nil {
		target := s.cfg.StatusURL
		if target == "" {
			target = s.cfg.LoginURL
		}
		s.step("opening status page", "url", target)
		var err error
		doc, pageURL, err = s.get(ctx, target)
		if err != nil {
			return Page{}, err
		}
		if s.cfg.Flow == FlowForm && hasPasswordField(doc) {
			return Page{}, authError("fetch status page", errors.New("redirected back to login"))
		}
	}

	title, text, err := documentText(doc)
	if err != nil {
		return Page{}, wrap("render text", err)
	}
	s.step("page captured", "url", pageURL, "title", title, "chars", len(text))
	return Page{URL: pageURL, Title: title, Text: text}, nil
}

// Close drops pooled connections. Calling it twice is harmless.
func (s *httpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.landing = nil
	if c, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (s *httpSession) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	for k, v := range s.headers {
		req.Header[k] = v
	}
	if s.basic {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	return req, nil
}

func (s *httpSession) get(ctx context.Context, target string) (*goquery.Document, string, error) {
	req, err := s.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", wrap("build request", err)
	}
	return s.do(req)
}

func (s *httpSession) do(req *http.Request) (*goquery.Document, string, error) {
	op := strings.ToLower(req.Method) + " " + req.URL.Path
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", wrap(op, err)
	}
	defer resp.Body.Close()
	if err := statusError(op, resp); err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", wrap(op, err)
	}
	return doc, resp.Request.URL.String(), nil
}

func statusError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return authError(op, fmt.Errorf("server answered %s", resp.Status))
	case resp.StatusCode >= 400:
		return &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("server answered %s", resp.Status)}
	}
	return nil
}
