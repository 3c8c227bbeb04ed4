// Package templates calls the template auto-apply service. Every call is
// best-effort: callers log failures and move on.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNoTemplate is returned when no template is configured for a preset.
var ErrNoTemplate = errors.New("no template for preset")

// Result is the service's answer to an apply request.
type Result struct {
	Succeeded int `json:"succeeded"`
	Total     int `json:"total"`
}

// Applier applies preset templates to catalog products.
type Applier struct {
	baseURL  string
	byPreset map[string]string
	client   *http.Client
	backoff  func() retry.Backoff
	logger   *slog.Logger
}

// New returns an Applier. byPreset maps preset folder names to template ids.
func New(baseURL string, byPreset map[string]string, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		byPreset: byPreset,
		client:   &http.Client{},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
		},
		logger: logger.With("component", "templates"),
	}
}

// TemplateFor returns the template id configured for preset.
func (a *Applier) TemplateFor(preset string) (string, bool) {
	id, ok := a.byPreset[preset]
	return id, ok && id != ""
}

// ApplyForPreset applies the preset's template to catalogID.
func (a *Applier) ApplyForPreset(ctx context.Context, preset, catalogID string) (Result, error) {
	tid, ok := a.TemplateFor(preset)
	if !ok {
		return Result{}, fmt.Errorf("%w %q", ErrNoTemplate, preset)
	}
	return a.Apply(ctx, tid, catalogID)
}

// Apply posts an apply request, retrying 5xx responses and transport errors.
func (a *Applier) Apply(ctx context.Context, templateID, catalogID string) (Result, error) {
	endpoint := fmt.Sprintf("%s/templates/%s/apply/%s",
		a.baseURL, url.PathEscape(templateID), url.PathEscape(catalogID))

	var res Result
	attempt := 0
	err := retry.Do(ctx, a.backoff(), func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build apply request: %w", err)
		}
		resp, err := a.client.Do(req)
		if err != nil {
			a.logger.Debug("templates: apply attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			_, _ = io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(fmt.Errorf("apply returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("apply returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return fmt.Errorf("decode apply response: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply template %s to %s: %w", templateID, catalogID, err)
	}
	a.logger.Info("templates: applied",
		"template_id", templateID,
		"catalog_id", catalogID,
		"succeeded", res.Succeeded,
		"total", res.Total)
	return res, nil
}
