package automation

import "context"

// Page is one isolated browser session. Every method honors ctx cancellation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Exists(ctx context.Context, loc Locator) (bool, error)
	Fill(ctx context.Context, loc Locator, value string) error
	Click(ctx context.Context, loc Locator) error
	// ReplaceParagraphs clears the rich-text element and inserts one paragraph per entry.
	ReplaceParagraphs(ctx context.Context, loc Locator, paragraphs []string) error
	URL(ctx context.Context) (string, error)
	// WaitURLChange blocks until the page URL differs from previous.
	WaitURLChange(ctx context.Context, previous string) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	// FetchText issues a same-origin GET from the page and returns the body, or "" on a non-2xx.
	FetchText(ctx context.Context, url string) (string, error)
	Capture(ctx context.Context) (*Artifacts, error)
}

// Browser opens isolated sessions. The returned close func must always be called.
type Browser interface {
	Open(ctx context.Context) (Page, func(), error)
}
