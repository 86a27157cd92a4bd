package materialize

import (
	"strings"

	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

// flattenTags returns one slash-joined path per leaf tag. A tag that is the
// parent of another tag on the same note contributes nothing on its own.
// Parent 0 means no parent.
func flattenTags(tags []models.Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	byID := make(map[int64]models.Tag, len(tags))
	parents := make(map[int64]struct{}, len(tags))
	for _, t := range tags {
		if t.ID != 0 {
			byID[t.ID] = t
		}
		if t.Parent != 0 {
			parents[t.Parent] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		if t.ID != 0 {
			if _, isParent := parents[t.ID]; isParent {
				continue
			}
		}
		p := tagPath(t, byID)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func tagPath(leaf models.Tag, byID map[int64]models.Tag) string {
	var names []string
	visited := map[int64]bool{}
	cur := leaf
	for {
		if name := cleanTagName(cur.Name); name != "" {
			names = append(names, name)
		}
		if cur.ID != 0 {
			visited[cur.ID] = true
		}
		if cur.Parent == 0 || visited[cur.Parent] {
			break
		}
		next, ok := byID[cur.Parent]
		if !ok {
			break
		}
		cur = next
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}

func cleanTagName(name string) string {
	return strings.Trim(strings.TrimSpace(name), "#/")
}
