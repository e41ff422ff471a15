package automation

import (
	"net/url"
	"regexp"
	"strings"
)

// Cookie is the subset of browser cookie fields carried in a session token.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	HTTPOnly bool
	Secure   bool
}

// ParseSessionToken splits "a=1; b=2" into cookies scoped to domain.
// Chunks without a name or value are skipped.
func ParseSessionToken(token, domain string) []Cookie {
	var cookies []Cookie
	for _, chunk := range strings.Split(token, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		name, value, ok := strings.Cut(chunk, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || value == "" {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:     name,
			Value:    value,
			Domain:   "." + strings.TrimPrefix(domain, "."),
			Path:     "/",
			HTTPOnly: true,
			Secure:   true,
		})
	}
	return cookies
}

// SerializeCookies joins cookies into a session token string.
func SerializeCookies(cookies []Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// ScopeCookies keeps cookies whose domain is host or one of its subdomains.
func ScopeCookies(cookies []Cookie, host string) []Cookie {
	host = strings.ToLower(strings.TrimPrefix(host, "."))
	var scoped []Cookie
	for _, c := range cookies {
		if matchesHost(strings.TrimPrefix(c.Domain, "."), host) {
			scoped = append(scoped, c)
		}
	}
	return scoped
}

func matchesHost(candidate, host string) bool {
	candidate = strings.ToLower(candidate)
	return candidate == host || strings.HasSuffix(candidate, "."+host)
}

// onHost reports whether rawURL points at host or one of its subdomains.
func onHost(rawURL, host string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return matchesHost(u.Hostname(), strings.ToLower(host))
}

var blankLine = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

// SplitParagraphs splits content on blank lines and drops empty blocks.
func SplitParagraphs(content string) []string {
	var paragraphs []string
	for _, block := range blankLine.Split(content, -1) {
		block = strings.TrimSpace(block)
		if block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}
