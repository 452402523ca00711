package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var competitorHTML = `<!DOCTYPE html>
<html>
<head>
<title>  Acme
  Pricing </title>
<meta name="generator" content="WordPress 6.4">
<meta name="description" content="Old description">
<meta property="og:title" content="Acme">
<meta name="description" content="New description">
<meta name="empty" content="">
<meta content="orphan">
<link rel="stylesheet" href="/wp-content/themes/acme/style.css">
<script src="https://cdn.example.com/react.production.min.js"></script>
<style>.hidden { display: none }</style>
</head>
<body>
<nav><a href="/">Home</a> <a href="/pricing">Pricing</a></nav>
<main>
<h1>Plans</h1>
<p>Starter   costs	$10
per month.</p>
<p>Pro costs <b>$25</b>&nbsp;per month.</p>
<script>var tracking = "do not include";</script>
<noscript>Enable JavaScript</noscript>
<template><p>Hidden template</p></template>
</main>
<footer>© Acme</footer>
</body>
</html>`

// WHAT: A page with a React bundle and a WordPress theme path yields both
// technologies, sorted.
func TestExtract_ReactWordPress(t *testing.T) {
	c, err := Extract(`<html><head><script src="/static/react.js"></script>` +
		`<link href="/wp-content/style.css"></head><body>x</body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"React", "WordPress"}
	if diff := cmp.Diff(want, c.Technologies); diff != "" {
		t.Errorf("technologies (-want +got):\n%s", diff)
	}
}

func TestExtract_Fields(t *testing.T) {
	c, err := Extract(competitorHTML)
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "Acme Pricing" {
		t.Errorf("Title = %q", c.Title)
	}
	wantText := "Home Pricing Plans Starter costs $10 per month. Pro costs $25 per month. © Acme"
	if c.Text != wantText {
		t.Errorf("Text:\n got %q\nwant %q", c.Text, wantText)
	}
	wantMeta := map[string]string{
		"generator":   "WordPress 6.4",
		"description": "New description",
		"og:title":    "Acme",
	}
	if diff := cmp.Diff(wantMeta, c.Metadata); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"React", "WordPress"}, c.Technologies); diff != "" {
		t.Errorf("technologies (-want +got):\n%s", diff)
	}
	if len(c.Hash) != 64 {
		t.Errorf("Hash = %q", c.Hash)
	}
	if !strings.Contains(c.Markdown, "Plans") {
		t.Errorf("Markdown missing heading: %q", c.Markdown)
	}
}

// WHAT: Text never contains two consecutive whitespace characters.
func TestExtract_NoDoubleWhitespace(t *testing.T) {
	inputs := []string{
		competitorHTML,
		"<p>a  b</p>",
		"<body>\n\n\t  \n</body>",
		"<div>one</div><div>two</div>\r\n<span> three </span>",
		"",
		"plain   text\n\nwithout tags",
	}
	for _, in := range inputs {
		c, err := Extract(in)
		if err != nil {
			t.Fatalf("Extract(%q): %v", in, err)
		}
		for i := 1; i < len(c.Text); i++ {
			if isSpace(c.Text[i-1]) && isSpace(c.Text[i]) {
				t.Fatalf("double whitespace in %q", c.Text)
			}
		}
		if c.Text != strings.TrimSpace(c.Text) {
			t.Fatalf("untrimmed text %q", c.Text)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

// WHAT: Extraction is deterministic.
func TestExtract_Idempotent(t *testing.T) {
	a, err := Extract(competitorHTML)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Extract(competitorHTML)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
}

// WHAT: Blocks are separated but inline markup is not split.
func TestExtract_InlineVsBlock(t *testing.T) {
	c, _ := Extract("<p>Pri<b>ce</b></p><p>next</p>")
	if c.Text != "Price next" {
		t.Errorf("Text = %q", c.Text)
	}
}

// WHAT: Pages without head, title or meta still extract.
func TestExtract_Degraded(t *testing.T) {
	c, err := Extract("<div>only body")
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "" || len(c.Metadata) != 0 || len(c.Technologies) != 0 {
		t.Errorf("unexpected fields: %+v", c)
	}
	if c.Text != "only body" {
		t.Errorf("Text = %q", c.Text)
	}
}

func TestExtract_AllDefaultTechnologies(t *testing.T) {
	page := `<html><head>
<meta name="generator" content="Shopify">
<script src="/angular.min.js"></script>
<script src="/vue.global.js"></script>
<script src="/jquery-3.7.js"></script>
<link href="/bootstrap.min.css">
<link href="/tailwind.css">
</head><body></body></html>`
	c, err := Extract(page)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Angular", "Bootstrap", "Shopify", "Tailwind CSS", "Vue.js", "jQuery"}
	if diff := cmp.Diff(want, c.Technologies); diff != "" {
		t.Errorf("technologies (-want +got):\n%s", diff)
	}
}

// WHAT: Matching is case-sensitive.
func TestExtract_CaseSensitive(t *testing.T) {
	c, _ := Extract(`<script src="/React.js"></script>`)
	if len(c.Technologies) != 0 {
		t.Errorf("technologies = %v", c.Technologies)
	}
}

func TestCustomRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	os.WriteFile(path, []byte(`rules:
  - technology: Next.js
    kind: script_src
    pattern: /_next/
`), 0o644)

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(rules).Extract(`<script src="/_next/static/app.js"></script><script src="/react.js"></script>`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Next.js"}, c.Technologies); diff != "" {
		t.Errorf("technologies (-want +got):\n%s", diff)
	}
}

func TestParseRules_Invalid(t *testing.T) {
	cases := []string{
		"rules: [{technology: X, kind: body_text, pattern: y}]",
		"rules: [{kind: script_src, pattern: y}]",
		"rules: [{technology: X, kind: script_src}]",
		"rules: [unclosed",
	}
	for _, in := range cases {
		if _, err := ParseRules([]byte(in)); err == nil {
			t.Errorf("ParseRules(%q) succeeded", in)
		}
	}
}

func TestDefaultRules(t *testing.T) {
	if n := len(DefaultRules()); n != 14 {
		t.Errorf("default rules = %d, want 14", n)
	}
}
