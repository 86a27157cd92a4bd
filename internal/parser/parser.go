// Package parser reads and writes the YAML frontmatter of materialized notes
// and extracts local attachment embeds from Markdown bodies.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// SourceMarker is the frontmatter "source" value of every materialized note.
const SourceMarker = "blinko"

var (
	wikiEmbedRe = regexp.MustCompile(`!?\[\[([^\]|#^]+)(?:[#^][^\]|]*)?(?:\|[^\]]*)?\]\]`)
	mdEmbedRe   = regexp.MustCompile(`!?\[[^\]]*\]\(<?([^)\s>]+)>?(?:\s+"[^"]*")?\)`)
	headingRe   = regexp.MustCompile(`^#+\s*`)
)

// Frontmatter is the fixed-order header written to every materialized note.
// yaml.v3 emits struct fields in declaration order.
type Frontmatter struct {
	ID          int64    `yaml:"id"`
	Date        string   `yaml:"date"`
	Updated     string   `yaml:"updated"`
	Source      string   `yaml:"source"`
	Type        string   `yaml:"type"`
	TypeCode    int      `yaml:"typeCode"`
	Attachments []string `yaml:"attachments"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Embeds      []string
}

// Meta is the subset of frontmatter that identifies a materialized note.
type Meta struct {
	ID          int64
	HasID       bool
	Source      string
	Attachments []string
	HasList     bool
}

// IsBlinko reports whether the frontmatter carries the source marker.
func (m Meta) IsBlinko() bool { return m.Source == SourceMarker }

// Render serializes fm and body into the on-disk note format: frontmatter,
// a blank line, then the body.
func Render(fm Frontmatter, body string) ([]byte, error) {
	if fm.Attachments == nil {
		fm.Attachments = []string{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("---\n")
	out.Write(buf.Bytes())
	out.WriteString("---\n\n")
	out.WriteString(body)
	return out.Bytes(), nil
}

// Parse extracts frontmatter, body and local embeds from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Embeds:      ExtractEmbeds(body),
	}, nil
}

// ReadMeta returns the identifying frontmatter fields of data.
func ReadMeta(data []byte) Meta {
	fm, _ := splitFrontmatter(data)
	return metaFrom(fm)
}

func metaFrom(fm map[string]interface{}) Meta {
	var m Meta
	if fm == nil {
		return m
	}
	if s, ok := fm["source"].(string); ok {
		m.Source = strings.TrimSpace(s)
	}
	switch v := fm["id"].(type) {
	case int:
		m.ID, m.HasID = int64(v), true
	case int64:
		m.ID, m.HasID = v, true
	case float64:
		m.ID, m.HasID = int64(v), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			m.ID, m.HasID = n, true
		}
	}
	if list, ok := fm["attachments"].([]interface{}); ok {
		m.HasList = true
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				m.Attachments = append(m.Attachments, strings.TrimSpace(s))
			}
		}
	}
	return m
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the whole file is body.
		return nil, string(data)
	}
	return fm, body
}

// ExtractEmbeds returns the deduplicated base names of local files referenced
// by wiki embeds/links and relative Markdown links. Remote URLs are skipped.
func ExtractEmbeds(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(target string) {
		target = strings.TrimSpace(target)
		if target == "" {
			return
		}
		if u, err := url.PathUnescape(target); err == nil {
			target = u
		}
		name := path.Base(strings.ReplaceAll(target, `\`, "/"))
		if name == "." || name == "/" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, m := range wikiEmbedRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	for _, m := range mdEmbedRe.FindAllStringSubmatch(body, -1) {
		target := m[1]
		if strings.Contains(target, "://") || strings.HasPrefix(target, "/") || strings.HasPrefix(target, "#") {
			continue
		}
		add(target)
	}
	return out
}

// FirstLineTitle returns the first non-empty line of content with leading
// heading markers stripped, truncated to maxRunes.
func FirstLineTitle(content string, maxRunes int) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(headingRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		if maxRunes > 0 && utf8.RuneCountInString(line) > maxRunes {
			line = string([]rune(line)[:maxRunes])
		}
		return strings.TrimSpace(line)
	}
	return ""
}
