package automation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocatorExpression(t *testing.T) {
	t.Parallel()

	require.Equal(t, "input[type=email]", CSS("input[type=email]").Expression())
	require.False(t, CSS("a").UsesXPath())
	require.Equal(t, `//button[contains(normalize-space(.), "公開")]`, Text("button", "公開").Expression())
	require.Equal(t, `//*[contains(normalize-space(.), 'say "hi"')]`, Text("", `say "hi"`).Expression())
	require.Equal(t, `//a[contains(normalize-space(.), concat("it's ", '"', "ok", '"'))]`,
		Text("a", `it's "ok"`).Expression())
	require.True(t, XPath("//input").UsesXPath())
}

func TestLocatorResolver(t *testing.T) {
	t.Parallel()

	require.Equal(t, `document.querySelector(".ProseMirror")`, CSS(".ProseMirror").Resolver())
	require.Contains(t, Text("button", "投稿").Resolver(), "document.evaluate(")
	require.Equal(t, "text:button[公開]", Text("button", "公開").String())
	require.Equal(t, "css:.x", CSS(".x").String())
}

func TestDefaultSelectorsAreRanked(t *testing.T) {
	t.Parallel()

	sel := DefaultSelectors()
	for name, list := range map[string][]Locator{
		"email": sel.Email, "password": sel.Password, "submit": sel.Submit,
		"title": sel.Title, "editor": sel.Editor, "publish": sel.Publish,
	} {
		require.GreaterOrEqual(t, len(list), 2, name)
	}
	require.Equal(t, ModeText, sel.Publish[len(sel.Publish)-1].Mode)
}

func TestChromeValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChrome(ChromeConfig{MaxParallel: -1}, nil)
	require.Error(t, err)
	chrome, err := NewChrome(ChromeConfig{MaxParallel: 2, Headless: true}, nil)
	require.NoError(t, err)
	defer chrome.Close()
	require.Equal(t, 2, cap(chrome.limiter))
}
