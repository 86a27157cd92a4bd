// Package titles resolves display titles for notes that arrive without one.
package titles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

// Resolver suggests a title for note given its rewritten content. An empty
// string with a nil error means "no title" and is a normal outcome.
type Resolver interface {
	Resolve(ctx context.Context, note models.RemoteNote, content string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, note models.RemoteNote, content string) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, note models.RemoteNote, content string) (string, error) {
	return f(ctx, note, content)
}

// Limited caps the number of in-flight resolutions. Waiters are admitted
// in FIFO order.
type Limited struct {
	next Resolver
	sem  *semaphore.Weighted
}

// NewLimited wraps next with a ceiling of n concurrent calls (minimum 1).
func NewLimited(next Resolver, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{next: next, sem: semaphore.NewWeighted(int64(n))}
}

// Resolve implements Resolver.
func (l *Limited) Resolve(ctx context.Context, note models.RemoteNote, content string) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.next.Resolve(ctx, note, content)
}

// HTTPResolver asks an external endpoint for a title. The endpoint receives
// {"id", "content"} and answers {"title": "..."}; null or empty is "no title".
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPResolver returns a resolver posting to endpoint.
func NewHTTPResolver(endpoint string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPResolver{endpoint: strings.TrimSpace(endpoint), client: client}
}

// Resolve implements Resolver.
func (h *HTTPResolver) Resolve(ctx context.Context, note models.RemoteNote, content string) (string, error) {
	payload, err := json.Marshal(map[string]any{"id": note.ID, "content": content})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("titles: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", &apperr.RemoteError{Op: "POST title", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &apperr.RemoteError{Op: "POST title", Status: resp.StatusCode, Snippet: apperr.Snippet(body, 200)}
	}

	var out struct {
		Title *string `json:"title"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &apperr.RemoteError{Op: "POST title", Status: resp.StatusCode, Snippet: apperr.Snippet(body, 200), Err: err}
	}
	if out.Title == nil {
		return "", nil
	}
	return strings.TrimSpace(*out.Title), nil
}
