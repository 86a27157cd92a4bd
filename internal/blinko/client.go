// Package blinko talks to the Blinko HTTP API: paginated note listing,
// batch lookup by id and attachment downloads.
package blinko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

const snippetLen = 200

// Source is the remote note feed consumed by the sync and reconciliation engines.
type Source interface {
	// FetchPage returns one page of non-recycled notes, newest first.
	FetchPage(ctx context.Context, page, size int) ([]models.RemoteNote, error)
	// FetchByIDs returns the notes that still exist remotely, recycled ones included.
	FetchByIDs(ctx context.Context, ids []int64) ([]models.RemoteNote, error)
	// FetchAttachmentBytes downloads the raw bytes behind an attachment path.
	FetchAttachmentBytes(ctx context.Context, path string) ([]byte, error)
	// ResolveAttachmentURL turns an attachment path into an absolute URL.
	ResolveAttachmentURL(path string) string
}

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is the HTTP implementation of Source.
type Client struct {
	baseURL    string
	origin     string
	token      string
	httpClient *http.Client
}

var _ Source = (*Client)(nil)

// New validates cfg and returns a Client. A missing base URL or token is a
// ConfigurationError and no request is ever made.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, &apperr.ConfigurationError{Field: "blinko.base_url", Reason: "is required"}
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, &apperr.ConfigurationError{Field: "blinko.token", Reason: "is required"}
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &apperr.ConfigurationError{Field: "blinko.base_url", Reason: "must be an absolute URL"}
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    base,
		origin:     u.Scheme + "://" + u.Host,
		token:      token,
		httpClient: httpClient,
	}, nil
}

type listRequest struct {
	Page      int    `json:"page"`
	Size      int    `json:"size"`
	OrderBy   string `json:"orderBy"`
	IsRecycle bool   `json:"isRecycle"`
	Type      int    `json:"type"`
}

// FetchPage implements Source.
func (c *Client) FetchPage(ctx context.Context, page, size int) ([]models.RemoteNote, error) {
	req := listRequest{Page: page, Size: size, OrderBy: "desc", IsRecycle: false, Type: -1}
	return c.postNotes(ctx, "note/list", req)
}

// FetchByIDs implements Source.
func (c *Client) FetchByIDs(ctx context.Context, ids []int64) ([]models.RemoteNote, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.postNotes(ctx, "note/list-by-ids", map[string]any{"ids": ids})
}

// FetchAttachmentBytes implements Source.
func (c *Client) FetchAttachmentBytes(ctx context.Context, path string) ([]byte, error) {
	target := c.ResolveAttachmentURL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("blinko: build request: %w", err)
	}
	// Absolute attachment URLs may point at third-party hosts; the token
	// only goes to the Blinko origin.
	if c.sameOrigin(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, &apperr.RemoteError{Op: "GET " + path, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &apperr.RemoteError{Op: "GET " + path, Status: status, Snippet: apperr.Snippet(body, snippetLen)}
	}
	return body, nil
}

// ResolveAttachmentURL implements Source. Absolute URLs pass through,
// origin-absolute paths resolve against the base's scheme and host, and
// anything else is joined onto the base URL.
func (c *Client) ResolveAttachmentURL(path string) string {
	p := strings.TrimSpace(path)
	lower := strings.ToLower(p)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return p
	case strings.HasPrefix(p, "/"):
		return c.origin + p
	default:
		return c.baseURL + "/" + p
	}
}

func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme+"://"+u.Host, c.origin)
}

func (c *Client) postNotes(ctx context.Context, endpoint string, payload any) ([]models.RemoteNote, error) {
	op := "POST " + endpoint
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("blinko: encode %s: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("blinko: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, &apperr.RemoteError{Op: op, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &apperr.RemoteError{Op: op, Status: status, Snippet: apperr.Snippet(body, snippetLen)}
	}
	notes, err := decodeNotes(body)
	if err != nil {
		return nil, &apperr.RemoteError{Op: op, Status: status, Snippet: apperr.Snippet(body, snippetLen), Err: err}
	}
	return notes, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
