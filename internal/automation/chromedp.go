package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const urlPollInterval = 250 * time.Millisecond

var errNoMatch = errors.New("no element matched")

// ChromeConfig controls the chromedp browser.
type ChromeConfig struct {
	Headless    bool
	UserAgent   string
	MaxParallel int
	NoSandbox   bool
}

// Chrome implements Browser with chromedp. Each Open launches a fresh browser
// process with its own profile, so sessions never share cookies.
type Chrome struct {
	cfg         ChromeConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChrome creates a chromedp-backed browser.
func NewChrome(cfg ChromeConfig, logger *zap.Logger) (*Chrome, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chrome{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (c *Chrome) Close() {
	c.allocCancel()
}

// Open launches a browser and returns its page.
func (c *Chrome) Open(ctx context.Context) (Page, func(), error) {
	if err := c.acquire(ctx); err != nil {
		return nil, func() {}, err
	}
	tabCtx, tabCancel := chromedp.NewContext(c.allocator)
	stop := context.AfterFunc(ctx, tabCancel)

	closeFn := func() {
		stop()
		if err := chromedp.Cancel(tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("browser close failed", zap.Error(err))
		}
		tabCancel()
		c.release()
	}

	if err := chromedp.Run(tabCtx, c.setupAction()); err != nil {
		closeFn()
		return nil, func() {}, fmt.Errorf("start browser: %w", err)
	}
	return &chromePage{tab: tabCtx}, closeFn, nil
}

func (c *Chrome) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Chrome) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (c *Chrome) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

type chromePage struct {
	tab context.Context
}

// run executes actions on the tab while honoring the caller's deadline and cancellation.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.tab, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.tab)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *chromePage) nodes(ctx context.Context, loc Locator) ([]cdp.NodeID, error) {
	var nodes []*cdp.Node
	by := chromedp.ByQueryAll
	if loc.UsesXPath() {
		by = chromedp.BySearch
	}
	if err := p.run(ctx, chromedp.Nodes(loc.Expression(), &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	ids := make([]cdp.NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.NodeID)
	}
	return ids, nil
}

func (p *chromePage) first(ctx context.Context, loc Locator) ([]cdp.NodeID, error) {
	ids, err := p.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, errNoMatch)
	}
	return ids[:1], nil
}

func (p *chromePage) Exists(ctx context.Context, loc Locator) (bool, error) {
	ids, err := p.nodes(ctx, loc)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (p *chromePage) Fill(ctx context.Context, loc Locator, value string) error {
	ids, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	return p.run(ctx,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.SetValue(ids, "", chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	)
}

func (p *chromePage) Click(ctx context.Context, loc Locator) error {
	ids, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.Click(ids, chromedp.ByNodeID))
}

func (p *chromePage) ReplaceParagraphs(ctx context.Context, loc Locator, paragraphs []string) error {
	payload, err := json.Marshal(paragraphs)
	if err != nil {
		return fmt.Errorf("encode paragraphs: %w", err)
	}
	script := fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) { return false; }
  el.focus();
  el.innerHTML = "";
  for (const text of %s) {
    const p = document.createElement("p");
    p.textContent = text;
    el.appendChild(p);
  }
  el.dispatchEvent(new InputEvent("input", { bubbles: true }));
  return true;
})()`, loc.Resolver(), payload)

	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", loc, errNoMatch)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var current string
	if err := p.run(ctx, chromedp.Location(&current)); err != nil {
		return "", err
	}
	return current, nil
}

func (p *chromePage) WaitURLChange(ctx context.Context, previous string) (string, error) {
	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()
	for {
		current, err := p.URL(ctx)
		if err != nil {
			return "", err
		}
		if current != previous {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *chromePage) FetchText(ctx context.Context, url string) (string, error) {
	target, err := json.Marshal(url)
	if err != nil {
		return "", fmt.Errorf("encode url: %w", err)
	}
	script := fmt.Sprintf(`fetch(%s, { credentials: "include" }).then(r => r.ok ? r.text() : "")`, target)
	var body string
	err = p.run(ctx, chromedp.Evaluate(script, &body, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		return "", err
	}
	return body, nil
}

func (p *chromePage) Capture(ctx context.Context) (*Artifacts, error) {
	var (
		shot    []byte
		html    string
		current string
	)
	err := p.run(ctx,
		chromedp.Location(&current),
		chromedp.FullScreenshot(&shot, 80),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return &Artifacts{Screenshot: shot, HTML: html, URL: current}, nil
}
