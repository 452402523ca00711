package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Thresholds for IsSufficient.
const (
	minBodyBytes   = 256
	minVisibleText = 200
	minTextRatio   = 0.10
)

var spaShells = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether an HTTP body carries enough visible text to
// skip browser rendering. Small bodies, bodies under 10% text and known SPA
// mount points are insufficient.
func IsSufficient(body []byte) bool {
	if len(body) < minBodyBytes {
		return false
	}
	lower := bytes.ToLower(body)
	for _, shell := range spaShells {
		if bytes.Contains(lower, shell) {
			return false
		}
	}
	text := visibleBytes(body)
	if text < minVisibleText {
		return false
	}
	return float64(text)/float64(len(body)) >= minTextRatio
}

// visibleBytes counts non-whitespace text bytes outside script and style.
func visibleBytes(body []byte) int {
	z := html.NewTokenizer(bytes.NewReader(body))
	n := 0
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawTextTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				n += len(strings.Join(strings.Fields(string(z.Text())), ""))
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	s := string(name)
	return s == "script" || s == "style"
}
