package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/titanous/json5"
	"golang.org/x/net/html/atom"
)

// ParseError reports an engine answer that holds no usable JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("classify: parse engine response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	fenceJSON  = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n?```")
	fencePlain = regexp.MustCompile("(?s)```\\s*\\n(.*?)\\n?```")
	strict     = bluemonday.StrictPolicy()
)

// stripFences returns the body of the first ```json or ``` block, or raw
// unchanged when there is none.
func stripFences(raw string) string {
	if m := fenceJSON.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := fencePlain.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// outerObject trims anything before the first '{' and after the last '}'.
func outerObject(s string) (string, bool) {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j < i {
		return "", false
	}
	return s[i : j+1], true
}

// ParseResponse decodes an engine answer into a normalized Result. Strict
// JSON is tried first, then JSON5 for trailing commas and single quotes.
func ParseResponse(raw string) (Result, error) {
	body, ok := outerObject(stripFences(raw))
	if !ok {
		return Result{}, &ParseError{Raw: raw, Err: errors.New("no JSON object")}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		if err5 := json5.Unmarshal([]byte(body), &fields); err5 != nil {
			return Result{}, &ParseError{Raw: raw, Err: err}
		}
	}
	return normalize(fields), nil
}

func normalize(f map[string]any) Result {
	rawSummary := stringField(f, "summary")
	res := Result{
		Summary:     sanitize(rawSummary),
		Severity:    ParseSeverity(stringField(f, "severity")),
		Details:     sanitize(stringField(f, "details")),
		ImpactAreas: impactAreas(f),
	}
	switch {
	case res.Summary == "" && rawSummary != "":
		// Nothing but markup: not a statement that the page is unchanged.
		res.Summary = FallbackSummary
	case res.Summary == "":
		res.Summary = NoChangeSummary
	}
	if res.Details == "" {
		res.Details = NoDetails
	}
	res.HasChange = !strings.EqualFold(strings.TrimSpace(res.Summary), NoChangeSummary)
	if v, ok := f["hasChange"].(bool); ok && !v {
		res.HasChange = false
	}
	return res
}

func stringField(f map[string]any, key string) string {
	s, _ := f[key].(string)
	return strings.TrimSpace(s)
}

// impactAreas accepts impactAreas or impact_areas, as a list or a single
// string, and returns trimmed unique tags in first-seen order.
func impactAreas(f map[string]any) []string {
	v, ok := f["impactAreas"]
	if !ok {
		v = f["impact_areas"]
	}
	var raw []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(t, ",")
	}

	out := []string{}
	seen := make(map[string]bool)
	for _, s := range raw {
		s = sanitize(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// sanitize turns engine text into HTML-safe text. Entities are decoded
// exactly once, before the policy runs, so encoded markup is stripped like
// literal markup. A '<' that does not open a known HTML element is kept as
// text. The result is stored escaped; terminal output unescapes it.
func sanitize(s string) string {
	s = strings.TrimSpace(html.UnescapeString(s))
	if s == "" {
		return ""
	}
	return strings.TrimSpace(strict.Sanitize(escapeStrayBrackets(s)))
}

// escapeStrayBrackets escapes every '<' whose tag name is not an HTML
// element, so "<Enterprise>" survives the strict policy as text.
func escapeStrayBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '<' && !opensElement(s[i+1:]) {
			b.WriteString("&lt;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func opensElement(rest string) bool {
	rest = strings.TrimPrefix(rest, "/")
	n := 0
	for n < len(rest) && isTagByte(rest[n]) {
		n++
	}
	if n == 0 {
		// "<!--" and "<?" are dropped by the policy.
		return strings.HasPrefix(rest, "!") || strings.HasPrefix(rest, "?")
	}
	return atom.Lookup([]byte(strings.ToLower(rest[:n]))) != 0
}

func isTagByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
