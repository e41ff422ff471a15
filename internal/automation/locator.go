package automation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode tells the page how to evaluate a Locator.
type Mode int

// Locator matching modes.
const (
	// ModeCSS matches with document.querySelector semantics.
	ModeCSS Mode = iota
	// ModeXPath matches a structural XPath expression.
	ModeXPath
	// ModeText matches an element of Tag whose normalized text contains Value.
	ModeText
)

func (m Mode) String() string {
	switch m {
	case ModeCSS:
		return "css"
	case ModeXPath:
		return "xpath"
	case ModeText:
		return "text"
	default:
		return "unknown"
	}
}

// Locator is one candidate strategy for finding an element.
type Locator struct {
	Mode  Mode
	Value string
	Tag   string
}

// CSS builds a CSS selector locator.
func CSS(selector string) Locator {
	return Locator{Mode: ModeCSS, Value: selector}
}

// XPath builds a structural XPath locator.
func XPath(expr string) Locator {
	return Locator{Mode: ModeXPath, Value: expr}
}

// Text builds a locator matching tag elements by visible label.
func Text(tag, label string) Locator {
	if tag == "" {
		tag = "*"
	}
	return Locator{Mode: ModeText, Value: label, Tag: tag}
}

// Expression returns the CSS selector, or the XPath expression for XPath and text locators.
func (l Locator) Expression() string {
	switch l.Mode {
	case ModeText:
		return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", l.Tag, xpathLiteral(l.Value))
	default:
		return l.Value
	}
}

// UsesXPath reports whether Expression is an XPath expression.
func (l Locator) UsesXPath() bool {
	return l.Mode != ModeCSS
}

// Resolver returns a JavaScript expression evaluating to the first matching element or null.
func (l Locator) Resolver() string {
	expr, _ := json.Marshal(l.Expression())
	if l.UsesXPath() {
		return fmt.Sprintf(
			"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue",
			expr,
		)
	}
	return fmt.Sprintf("document.querySelector(%s)", expr)
}

func (l Locator) String() string {
	if l.Mode == ModeText {
		return fmt.Sprintf("text:%s[%s]", l.Tag, l.Value)
	}
	return l.Mode.String() + ":" + l.Value
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if part != "" {
			quoted = append(quoted, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
