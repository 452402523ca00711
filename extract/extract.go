// Package extract turns raw page markup into the normalized content a
// snapshot stores: visible text, title, meta tags, detected technologies and
// a markdown rendition.
//
// The pipeline: raw HTML → parse → walk body text → query head/assets →
// fingerprint technologies → convert to markdown.
//
// Extraction degrades rather than fails: a page with no title, no meta tags
// or broken markdown conversion still yields the fields that could be read.
package extract

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Content is the output of extraction.
type Content struct {
	Text         string            // visible body text, whitespace collapsed
	Title        string            // <title>, whitespace collapsed
	Metadata     map[string]string // meta name|property → content
	Technologies []string          // sorted, unique
	Markdown     string            // body as markdown, empty when conversion fails
	Hash         string            // SHA-256 of Text
}

// Extractor runs extraction with a fixed technology rule set. Safe for
// concurrent use.
type Extractor struct {
	rules []Rule
	md    *converter.Converter
}

// New creates an Extractor. A nil rule slice uses DefaultRules.
func New(rules []Rule) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{
		rules: rules,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

var defaultExtractor = New(nil)

// Empty is the Content of a page that yielded nothing: no text, no
// metadata, no technologies.
func Empty() *Content {
	return &Content{
		Metadata:     map[string]string{},
		Technologies: []string{},
		Hash:         hashText(""),
	}
}

// Extract runs the default extractor on markup.
func Extract(markup string) (*Content, error) {
	return defaultExtractor.Extract(markup)
}

// Extract parses markup into Content.
func (e *Extractor) Extract(markup string) (*Content, error) {
	return e.ExtractPage(markup, "")
}

// ExtractPage is Extract with the page URL, used to resolve relative links
// in the markdown rendition.
func (e *Extractor) ExtractPage(markup, pageURL string) (*Content, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("extract: parse HTML: %w", err)
	}
	gq := goquery.NewDocumentFromNode(doc)

	text := collapse(visibleText(findBody(doc)))
	c := &Content{
		Text:         text,
		Title:        collapse(gq.Find("title").First().Text()),
		Metadata:     metadata(gq),
		Technologies: e.technologies(gq),
		Hash:         hashText(text),
	}

	var md string
	if pageURL != "" {
		md, err = e.md.ConvertString(markup, converter.WithDomain(pageURL))
	} else {
		md, err = e.md.ConvertString(markup)
	}
	if err == nil {
		c.Markdown = strings.TrimSpace(md)
	}
	return c, nil
}

// metadata collects every <meta> tag keyed by name, else property. Entries
// without a key or content are skipped; later tags overwrite earlier ones.
func metadata(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("name")
		if key == "" {
			key, _ = s.Attr("property")
		}
		content, _ := s.Attr("content")
		if key == "" || content == "" {
			return
		}
		out[key] = content
	})
	return out
}

func (e *Extractor) technologies(doc *goquery.Document) []string {
	var scripts, links, generators []string
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		scripts = append(scripts, s.AttrOr("src", ""))
	})
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		links = append(links, s.AttrOr("href", ""))
	})
	doc.Find(`meta[name="generator"]`).Each(func(_ int, s *goquery.Selection) {
		generators = append(generators, s.AttrOr("content", ""))
	})

	found := make(map[string]bool)
	for _, r := range e.rules {
		var haystack []string
		switch r.Kind {
		case KindScriptSrc:
			haystack = scripts
		case KindLinkHref:
			haystack = links
		case KindMetaGenerator:
			haystack = generators
		}
		for _, v := range haystack {
			if strings.Contains(v, r.Pattern) {
				found[r.Technology] = true
				break
			}
		}
	}

	techs := make([]string, 0, len(found))
	for t := range found {
		techs = append(techs, t)
	}
	sort.Strings(techs)
	return techs
}

// collapse replaces every whitespace run with one space and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// hashText returns the SHA-256 hex digest of text.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
