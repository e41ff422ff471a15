package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL      = "https://note.com"
	defaultLoginPath    = "/login"
	defaultComposerPath = "/my/notes/new"
	defaultProfilePath  = "/api/v2/profile"
	defaultTimeout      = 60 * time.Second
	defaultLookup       = 5 * time.Second
	captureTimeout      = 10 * time.Second
)

// Config controls the login and publish flows.
type Config struct {
	BaseURL          string
	LoginPath        string
	ComposerPath     string
	ProfilePath      string
	Timeout          time.Duration
	LookupTimeout    time.Duration
	CaptureArtifacts bool
	Selectors        *Selectors
}

// Session is what a successful login yields.
type Session struct {
	ExternalID   string
	DisplayName  string
	SessionToken string
}

// Article is the content handed to Publish.
type Article struct {
	Title   string
	Content string
}

// Result is the outcome of a successful publish.
type Result struct {
	PublishedURL string
}

// Driver runs the platform flows against a Browser.
type Driver struct {
	browser   Browser
	cfg       Config
	base      *url.URL
	selectors Selectors
	logger    *zap.Logger
}

// NewDriver validates cfg and applies defaults.
func NewDriver(browser Browser, cfg Config, logger *zap.Logger) (*Driver, error) {
	if browser == nil {
		return nil, fmt.Errorf("browser is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Hostname() == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}
	if cfg.ComposerPath == "" {
		cfg.ComposerPath = defaultComposerPath
	}
	if cfg.ProfilePath == "" {
		cfg.ProfilePath = defaultProfilePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LookupTimeout <= 0 || cfg.LookupTimeout > cfg.Timeout {
		cfg.LookupTimeout = min(defaultLookup, cfg.Timeout)
	}
	selectors := DefaultSelectors()
	if cfg.Selectors != nil {
		selectors = *cfg.Selectors
	}
	return &Driver{
		browser:   browser,
		cfg:       cfg,
		base:      base,
		selectors: selectors,
		logger:    logger,
	}, nil
}

// Host is the platform host sessions and published URLs are scoped to.
func (d *Driver) Host() string {
	return d.base.Hostname()
}

func (d *Driver) url(path string) string {
	return d.base.String() + path
}

// Authenticate logs in with email and password and returns the captured session.
// Failures never carry artifacts: the page holds the filled-in credentials.
func (d *Driver) Authenticate(ctx context.Context, email, password string) (Session, error) {
	page, closePage, err := d.browser.Open(ctx)
	if err != nil {
		return Session{}, newError(KindBrowserFailure, "launch browser", err)
	}
	defer closePage()

	if err := d.navigate(ctx, page, d.url(d.cfg.LoginPath)); err != nil {
		return Session{}, err
	}
	if err := d.fillFirst(ctx, page, "email", d.selectors.Email, email, KindFormFieldNotFound); err != nil {
		return Session{}, err
	}
	if err := d.fillFirst(ctx, page, "password", d.selectors.Password, password, KindFormFieldNotFound); err != nil {
		return Session{}, err
	}
	before, err := page.URL(ctx)
	if err != nil {
		return Session{}, newError(KindBrowserFailure, "read url", err)
	}
	if err := d.clickFirst(ctx, page, "submit", d.selectors.Submit, KindSubmitControlNotFound); err != nil {
		return Session{}, err
	}

	current, err := d.waitURLChange(ctx, page, before)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return Session{}, newError(KindBrowserFailure, "wait for login redirect", err)
	}
	if ctx.Err() != nil {
		return Session{}, newError(KindNavigationTimeout, "login redirect", ctx.Err())
	}
	if current == "" || d.isLoginURL(current) {
		return Session{}, newError(KindAuthenticationRejected, "still on login page after submit", nil)
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return Session{}, newError(KindSessionExtractionFailed, "read cookies", err)
	}
	scoped := ScopeCookies(cookies, d.Host())
	if len(scoped) == 0 {
		return Session{}, newError(KindSessionExtractionFailed, "no platform cookies after login", nil)
	}

	profile, err := d.fetchProfile(ctx, page)
	if err != nil {
		return Session{}, err
	}
	d.logger.Info("platform login succeeded", zap.String("external_id", profile.ExternalID))
	return Session{
		ExternalID:   profile.ExternalID,
		DisplayName:  profile.DisplayName,
		SessionToken: SerializeCookies(scoped),
	}, nil
}

// Publish restores the session and publishes the article, returning its public URL.
func (d *Driver) Publish(ctx context.Context, sessionToken string, article Article) (result Result, err error) {
	cookies := ParseSessionToken(sessionToken, d.Host())
	if len(cookies) == 0 {
		return Result{}, newError(KindInvalidSessionToken, "session token holds no cookies", nil)
	}

	page, closePage, err := d.browser.Open(ctx)
	if err != nil {
		return Result{}, newError(KindBrowserFailure, "launch browser", err)
	}
	defer closePage()
	defer d.attachArtifacts(ctx, page, &err)

	if err := page.SetCookies(ctx, cookies); err != nil {
		return Result{}, newError(KindBrowserFailure, "inject session cookies", err)
	}
	if err := d.navigate(ctx, page, d.url(d.cfg.ComposerPath)); err != nil {
		return Result{}, err
	}
	if err := d.fillFirst(ctx, page, "title", d.selectors.Title, article.Title, KindTitleFieldNotFound); err != nil {
		return Result{}, err
	}

	editor, ok, err := d.findFirst(ctx, page, d.selectors.Editor)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, newError(KindEditorNotFound, "no editor candidate matched", nil)
	}
	if err := page.ReplaceParagraphs(ctx, editor, SplitParagraphs(article.Content)); err != nil {
		return Result{}, newError(KindEditorNotFound, "write body", err)
	}

	before, err := page.URL(ctx)
	if err != nil {
		return Result{}, newError(KindBrowserFailure, "read url", err)
	}
	if err := d.clickFirst(ctx, page, "publish", d.selectors.Publish, KindPublishControlNotFound); err != nil {
		return Result{}, err
	}
	published, err := d.waitURLChange(ctx, page, before)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, newError(KindNavigationTimeout, "wait for published page", err)
		}
		return Result{}, newError(KindBrowserFailure, "wait for published page", err)
	}
	if !onHost(published, d.Host()) {
		return Result{}, newError(KindPublishURLUnresolved, fmt.Sprintf("unexpected url %q", published), nil)
	}
	d.logger.Info("article published", zap.String("url", published))
	return Result{PublishedURL: published}, nil
}

func (d *Driver) navigate(ctx context.Context, page Page, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	if err := page.Navigate(navCtx, target); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return newError(KindNavigationTimeout, target, err)
		}
		return newError(KindBrowserFailure, "navigate "+target, err)
	}
	return nil
}

func (d *Driver) waitURLChange(ctx context.Context, page Page, before string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	current, err := page.WaitURLChange(waitCtx, before)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The page may have settled without a redirect; report where it is now.
		if now, urlErr := page.URL(ctx); urlErr == nil {
			current = now
		}
	}
	return current, err
}

// findFirst returns the highest ranked candidate present on the page.
func (d *Driver) findFirst(ctx context.Context, page Page, candidates []Locator) (Locator, bool, error) {
	for _, loc := range candidates {
		lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
		found, err := page.Exists(lookupCtx, loc)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Locator{}, false, newError(KindNavigationTimeout, "element lookup", ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return Locator{}, false, newError(KindBrowserFailure, "lookup "+loc.String(), err)
		}
		if found {
			return loc, true, nil
		}
	}
	return Locator{}, false, nil
}

func (d *Driver) fillFirst(ctx context.Context, page Page, field string, candidates []Locator, value string, missing Kind) error {
	loc, ok, err := d.findFirst(ctx, page, candidates)
	if err != nil {
		return err
	}
	if !ok {
		return newError(missing, "no "+field+" candidate matched", nil)
	}
	d.logger.Debug("filling field", zap.String("field", field), zap.Stringer("locator", loc))
	if err := page.Fill(ctx, loc, value); err != nil {
		return newError(missing, "fill "+field, err)
	}
	return nil
}

func (d *Driver) clickFirst(ctx context.Context, page Page, control string, candidates []Locator, missing Kind) error {
	loc, ok, err := d.findFirst(ctx, page, candidates)
	if err != nil {
		return err
	}
	if !ok {
		return newError(missing, "no "+control+" candidate matched", nil)
	}
	d.logger.Debug("clicking control", zap.String("control", control), zap.Stringer("locator", loc))
	if err := page.Click(ctx, loc); err != nil {
		return newError(missing, "click "+control, err)
	}
	return nil
}

func (d *Driver) isLoginURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(raw, d.cfg.LoginPath)
	}
	return strings.HasPrefix(u.Path, d.cfg.LoginPath)
}

type profile struct {
	ExternalID  string
	DisplayName string
}

type profileEnvelope struct {
	Data struct {
		User *profileUser `json:"user"`
	} `json:"data"`
}

type profileUser struct {
	URLName  string `json:"urlname"`
	Nickname string `json:"nickname"`
	Name     string `json:"name"`
}

func (d *Driver) fetchProfile(ctx context.Context, page Page) (profile, error) {
	body, err := page.FetchText(ctx, d.url(d.cfg.ProfilePath))
	if err != nil {
		return profile{}, newError(KindProfileFetchFailed, "request profile", err)
	}
	if body == "" {
		return profile{}, newError(KindProfileFetchFailed, "profile request returned no body", nil)
	}
	return parseProfile([]byte(body))
}

func parseProfile(body []byte) (profile, error) {
	var env profileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return profile{}, newError(KindProfileFetchFailed, "decode profile", err)
	}
	user := env.Data.User
	if user == nil || user.URLName == "" {
		return profile{}, newError(KindProfileFetchFailed, "profile has no account identifier", nil)
	}
	display := user.Nickname
	if display == "" {
		display = user.Name
	}
	if display == "" {
		display = user.URLName
	}
	return profile{ExternalID: user.URLName, DisplayName: display}, nil
}

func (d *Driver) attachArtifacts(ctx context.Context, page Page, errp *error) {
	if !d.cfg.CaptureArtifacts || *errp == nil {
		return
	}
	var ae *Error
	if !errors.As(*errp, &ae) || ae.Artifacts != nil {
		return
	}
	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()
	artifacts, err := page.Capture(captureCtx)
	if err != nil {
		d.logger.Warn("capture failure artifacts", zap.String("kind", string(ae.Kind)), zap.Error(err))
		return
	}
	ae.Artifacts = artifacts
}
