package materialize

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/datefmt"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

// DefaultPathTemplate groups notes by type folder and creation day.
const DefaultPathTemplate = "{typeFolder}/{created:YYYY-MM-DD} {title}"

const defaultDateFormat = "YYYY-MM-DD"

var (
	tokenRe      = regexp.MustCompile(`\{(id|type|typeFolder|title|created|updated)(?::([^}]*))?\}`)
	idTokenRe    = regexp.MustCompile(`\{id(?::[^}]*)?\}`)
	illegalRe    = regexp.MustCompile(`[\\/:*?"<>|#^\[\]]`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	titleReplacer = strings.NewReplacer("/", "-", `\`, "-")
)

// renderPath returns the vault-relative file path of note. A template
// without {id} gets a -blinko-{id} suffix on its last segment so distinct
// notes never collide. An empty last segment falls back to blinko-{id} and
// is reported as a TemplateError alongside the usable path.
func renderPath(layout models.Layout, note models.RemoteNote, title string) (string, error) {
	tmpl := layout.PathTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultPathTemplate
	}
	id := strconv.FormatInt(note.ID, 10)
	if title == "" {
		title = id
	}
	loc := layout.Loc()

	rendered := tokenRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		m := tokenRe.FindStringSubmatch(tok)
		switch m[1] {
		case "id":
			return id
		case "type":
			return note.Type.Normalize().String()
		case "typeFolder":
			return layout.TypeFolder(note.Type)
		case "created":
			return datefmt.Format(note.CreatedAt.In(loc), orDefault(m[2], defaultDateFormat))
		case "updated":
			return datefmt.Format(note.UpdatedAt.In(loc), orDefault(m[2], defaultDateFormat))
		default:
			// Titles are content; a slash in them must not open a folder.
			return titleReplacer.Replace(title)
		}
	})

	raw := strings.Split(strings.ReplaceAll(rendered, `\`, "/"), "/")
	var segments []string
	for i, seg := range raw {
		seg = sanitizeSegment(seg)
		if i == len(raw)-1 {
			seg = strings.TrimSuffix(seg, ".md")
			seg = strings.TrimSpace(seg)
		}
		if seg == "" && i < len(raw)-1 {
			continue
		}
		segments = append(segments, seg)
	}

	var tmplErr error
	last := ""
	if n := len(segments); n > 0 {
		last = segments[n-1]
		segments = segments[:n-1]
	}
	switch {
	case last == "":
		tmplErr = &apperr.TemplateError{Template: tmpl}
		last = "blinko-" + id
	case !idTokenRe.MatchString(tmpl):
		last += "-blinko-" + id
	}
	segments = append(segments, last+".md")

	parts := append(splitFolder(layout.NoteFolder), segments...)
	return path.Join(parts...), tmplErr
}

// sanitizeSegment strips characters that are illegal in file names or
// meaningful to Obsidian links, collapses whitespace and trims dots so the
// result is never hidden.
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = illegalRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " .")
}

// sanitizeFilename cleans an attachment name, falling back when nothing
// usable remains.
func sanitizeFilename(name, fallback string) string {
	if s := sanitizeSegment(name); s != "" {
		return s
	}
	return sanitizeSegment(fallback)
}

func splitFolder(folder string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(folder, `\`, "/"), "/") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
