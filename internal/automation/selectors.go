package automation

// Selectors holds the ranked candidates for every DOM-dependent step.
type Selectors struct {
	Email    []Locator
	Password []Locator
	Submit   []Locator
	Title    []Locator
	Editor   []Locator
	Publish  []Locator
}

// DefaultSelectors returns the candidates known to work against the current platform UI.
func DefaultSelectors() Selectors {
	return Selectors{
		Email: []Locator{
			CSS("input[type=email]"),
			CSS("input[name=email]"),
			XPath("//input[@autocomplete='username' or @autocomplete='email']"),
		},
		Password: []Locator{
			CSS("input[type=password]"),
			CSS("input[name=password]"),
			XPath("//input[@autocomplete='current-password']"),
		},
		Submit: []Locator{
			CSS(`button[type="submit"]`),
			CSS(`button[data-testid="login-submit"]`),
			Text("button", "ログイン"),
		},
		Title: []Locator{
			CSS(`textarea[data-testid="note-title-input"]`),
			CSS(`textarea[placeholder="タイトル"]`),
			CSS(`input[name="note-title"]`),
		},
		Editor: []Locator{
			CSS(`[data-testid="note-editor"] div[contenteditable="true"]`),
			CSS(".ProseMirror"),
			CSS(`[contenteditable="true"]`),
		},
		Publish: []Locator{
			CSS(`button[data-testid="note-publish-button"]`),
			CSS(`button[aria-label="公開"]`),
			CSS(`button[aria-label="投稿"]`),
			Text("button", "公開"),
			Text("button", "投稿"),
		},
	}
}
