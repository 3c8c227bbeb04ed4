// Package commerce talks to the storefront's catalog and draft endpoints.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrTimeout is returned when a downstream call exceeds its deadline.
var ErrTimeout = errors.New("downstream timeout")

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an HTTP client for the catalog and draft services.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// NewClient returns a Client for baseURL. A nil doer uses http.DefaultClient.
func NewClient(baseURL, token string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    doer,
	}
}

// ListCatalogProducts returns every active product, plus drafts when
// includeDrafts is set.
func (c *Client) ListCatalogProducts(ctx context.Context, includeDrafts bool) ([]Product, error) {
	q := url.Values{"include_drafts": {strconv.FormatBool(includeDrafts)}}
	var out struct {
		Products []Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/catalog/products?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list catalog products: %w", err)
	}
	return out.Products, nil
}

// CheckExistingContent returns what the storefront already shows for catalogID.
func (c *Client) CheckExistingContent(ctx context.Context, catalogID string) (*ExistingContent, error) {
	var out ExistingContent
	path := "/catalog/products/" + url.PathEscape(catalogID) + "/content"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("check existing content %s: %w", catalogID, err)
	}
	return &out, nil
}

// CreateDraft creates a listing draft for catalogID and returns its id.
func (c *Client) CreateDraft(ctx context.Context, catalogID string, in DraftInput) (string, error) {
	body := struct {
		CatalogID string `json:"catalog_id"`
		DraftInput
	}{catalogID, in}
	var out struct {
		DraftID string `json:"draft_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/drafts", body, &out); err != nil {
		return "", fmt.Errorf("create draft for %s: %w", catalogID, err)
	}
	if out.DraftID == "" {
		return "", fmt.Errorf("create draft for %s: empty draft id", catalogID)
	}
	return out.DraftID, nil
}

// GetAutoPublishSetting reports whether drafts in category publish without review.
func (c *Client) GetAutoPublishSetting(ctx context.Context, category string) (bool, error) {
	q := url.Values{"category": {category}}
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.do(ctx, http.MethodGet, "/settings/auto-publish?"+q.Encode(), nil, &out); err != nil {
		return false, fmt.Errorf("get auto-publish setting %q: %w", category, err)
	}
	return out.Enabled, nil
}

// ApproveDraft publishes the selected parts of a draft.
func (c *Client) ApproveDraft(ctx context.Context, draftID string, opts ApproveOptions) (*ApproveResult, error) {
	var out ApproveResult
	path := "/drafts/" + url.PathEscape(draftID) + "/approve"
	if err := c.do(ctx, http.MethodPost, path, opts, &out); err != nil {
		return nil, fmt.Errorf("approve draft %s: %w", draftID, err)
	}
	return &out, nil
}

// ── private helpers ────────────────────────────────────────────────────────

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return timeoutOr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return timeoutOr(ctx, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// timeoutOr maps an expired deadline to ErrTimeout, keeping err otherwise.
func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// IsTimeout reports whether err came from an expired downstream deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
