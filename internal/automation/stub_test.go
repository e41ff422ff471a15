package automation

import (
	"context"
	"sync"
)

type stubPage struct {
	mu sync.Mutex

	present     map[string]bool
	navigateErr error
	current     string
	redirects   map[string]string
	cookies     []Cookie
	profileBody string
	hangOnWait  bool

	visited    []string
	fills      map[string]string
	clicks     []string
	paragraphs []string
	injected   []Cookie
	captured   int
}

func newStubPage(present ...Locator) *stubPage {
	p := &stubPage{
		present:   map[string]bool{},
		redirects: map[string]string{},
		fills:     map[string]string{},
	}
	for _, loc := range present {
		p.present[loc.String()] = true
	}
	return p
}

func (p *stubPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.visited = append(p.visited, url)
	p.current = url
	return nil
}

func (p *stubPage) Exists(_ context.Context, loc Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[loc.String()], nil
}

func (p *stubPage) Fill(_ context.Context, loc Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[loc.String()] = value
	return nil
}

func (p *stubPage) Click(_ context.Context, loc Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, loc.String())
	if next, ok := p.redirects[loc.String()]; ok {
		p.current = next
	}
	return nil
}

func (p *stubPage) ReplaceParagraphs(_ context.Context, _ Locator, paragraphs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paragraphs = append([]string(nil), paragraphs...)
	return nil
}

func (p *stubPage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *stubPage) WaitURLChange(ctx context.Context, previous string) (string, error) {
	p.mu.Lock()
	current, hang := p.current, p.hangOnWait
	p.mu.Unlock()
	if current != previous && !hang {
		return current, nil
	}
	<-ctx.Done()
	return current, ctx.Err()
}

func (p *stubPage) Cookies(context.Context) ([]Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Cookie(nil), p.cookies...), nil
}

func (p *stubPage) SetCookies(_ context.Context, cookies []Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected = append(p.injected, cookies...)
	return nil
}

func (p *stubPage) FetchText(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profileBody, nil
}

func (p *stubPage) Capture(context.Context) (*Artifacts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured++
	return &Artifacts{Screenshot: []byte("png"), HTML: "<html></html>", URL: p.current}, nil
}

type stubBrowser struct {
	page    *stubPage
	openErr error
	opened  int
	closed  int
}

func (b *stubBrowser) Open(context.Context) (Page, func(), error) {
	if b.openErr != nil {
		return nil, func() {}, b.openErr
	}
	b.opened++
	return b.page, func() { b.closed++ }, nil
}
