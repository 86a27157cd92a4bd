package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

// inlineLinkRe matches ![alias](url "title") and [alias](url).
var inlineLinkRe = regexp.MustCompile(`(!?)\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)

// attachmentPass carries the per-note result of attachment processing.
type attachmentPass struct {
	content string
	names   []string
	trailer []string
}

// processAttachments downloads missing attachments, rewrites inline
// references to local embeds and collects trailer lines for attachments
// that are unreferenced or failed. Individual failures never abort the note.
func (m *Materializer) processAttachments(ctx context.Context, note models.RemoteNote, layout models.Layout, content string) attachmentPass {
	pass := attachmentPass{content: content}
	seen := make(map[string]struct{}, len(note.Attachments))

	for _, att := range note.Attachments {
		name := sanitizeFilename(att.Name, path.Base(att.Path))
		if name == "" || name == "." {
			name = "attachment-" + strconv.FormatInt(att.ID, 10)
		}

		if strings.TrimSpace(att.Path) == "" {
			pass.trailer = append(pass.trailer, fmt.Sprintf("> [!warning] Attachment %q has no remote path", name))
			continue
		}

		if err := m.ensureAttachment(ctx, layout, name, att.Path); err != nil {
			m.logger.Warn("materialize: attachment failed",
				slog.Int64("note", note.ID), slog.String("error", err.Error()))
			pass.trailer = append(pass.trailer, fmt.Sprintf("> [!warning] Failed to download attachment %q: %v", name, unwrapAttachment(err)))
			continue
		}

		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			pass.names = append(pass.names, name)
		}

		var found bool
		pass.content, found = rewriteInline(pass.content, name, m.candidateURLs(att.Path))
		if !found && !hasWikiRef(pass.content, name) {
			pass.trailer = append(pass.trailer, "![["+name+"]]")
		}
	}
	return pass
}

// ensureAttachment downloads remotePath into the attachment folder unless a
// file of that name is already there. Existence alone decides; content is
// never compared.
func (m *Materializer) ensureAttachment(ctx context.Context, layout models.Layout, name, remotePath string) error {
	local := path.Join(append(splitFolder(layout.AttachmentFolder), name)...)
	exists, err := m.store.Exists(local)
	if err != nil {
		return &apperr.AttachmentError{Name: name, Err: err}
	}
	if exists {
		return nil
	}
	data, err := m.source.FetchAttachmentBytes(ctx, remotePath)
	if err != nil {
		return &apperr.AttachmentError{Name: name, Err: err}
	}
	if err := m.store.Write(local, data); err != nil {
		return &apperr.AttachmentError{Name: name, Err: err}
	}
	m.logger.Debug("materialize: attachment downloaded", slog.String("path", local), slog.Int("bytes", len(data)))
	return nil
}

func (m *Materializer) candidateURLs(remotePath string) []string {
	p := strings.TrimSpace(remotePath)
	out := []string{p}
	if abs := m.source.ResolveAttachmentURL(p); abs != p {
		out = append(out, abs)
	}
	return out
}

// rewriteInline replaces Markdown links and images pointing at any of urls
// with Obsidian wiki embeds of name, keeping a non-trivial alias.
func rewriteInline(content, name string, urls []string) (string, bool) {
	found := false
	out := inlineLinkRe.ReplaceAllStringFunc(content, func(match string) string {
		sub := inlineLinkRe.FindStringSubmatch(match)
		bang, alias, target := sub[1], strings.TrimSpace(sub[2]), sub[3]
		if !matchesAny(target, urls) {
			return match
		}
		found = true
		ref := name
		if alias != "" && alias != name {
			ref += "|" + alias
		}
		return bang + "[[" + ref + "]]"
	})
	return out, found
}

func matchesAny(target string, urls []string) bool {
	for _, u := range urls {
		if u != "" && target == u {
			return true
		}
	}
	return false
}

func hasWikiRef(content, name string) bool {
	return strings.Contains(content, "[["+name+"]]") || strings.Contains(content, "[["+name+"|")
}

func unwrapAttachment(err error) error {
	var ae *apperr.AttachmentError
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err
	}
	return err
}
