// Package match resolves a parsed product folder name to a catalog entry.
//
// Passes run in order and the first pass producing a candidate wins:
// exact substring (serial-boosted), token overlap, then serial-only.
package match

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/eargollo/studiowatch/internal/commerce"
	"github.com/eargollo/studiowatch/internal/watchlog"
)

// MinOverlap is the token-overlap ratio a candidate needs to be accepted.
const MinOverlap = 0.70

const (
	exactScore  = 1.0
	serialBoost = 1.5
)

// Result is a resolved catalog entry.
type Result struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Confidence watchlog.Confidence `json:"confidence"`
	Score      float64             `json:"score"`
}

type candidate struct {
	product commerce.Product
	score   float64
}

// Match runs the passes over catalog. It returns nil when nothing matches.
// catalog is expected to be pre-filtered by status.
func Match(logger *slog.Logger, productName, serial string, catalog []commerce.Product) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	query := strings.ToLower(strings.TrimSpace(productName))

	if query != "" {
		if c := exactPass(query, serial, catalog); len(c) > 0 {
			return pick(logger, "exact", productName, c, watchlog.ConfidenceExact)
		}
		if c := overlapPass(query, catalog); len(c) > 0 {
			return pick(logger, "token-overlap", productName, c, watchlog.ConfidenceFuzzy)
		}
	}
	if serial != "" {
		for _, p := range catalog {
			if hasSKUSuffix(p, serial) {
				return &Result{ID: p.ID, Title: p.Title, Confidence: watchlog.ConfidenceFuzzy}
			}
		}
	}
	return nil
}

// FilterByStatus keeps active products, plus drafts when includeDrafts is set.
func FilterByStatus(catalog []commerce.Product, includeDrafts bool) []commerce.Product {
	out := make([]commerce.Product, 0, len(catalog))
	for _, p := range catalog {
		switch strings.ToLower(p.Status) {
		case commerce.StatusActive:
			out = append(out, p)
		case commerce.StatusDraft:
			if includeDrafts {
				out = append(out, p)
			}
		}
	}
	return out
}

func exactPass(query, serial string, catalog []commerce.Product) []candidate {
	var out []candidate
	for _, p := range catalog {
		title := strings.ToLower(p.Title)
		if !strings.Contains(title, query) {
			continue
		}
		score := exactScore
		if serial != "" && (strings.Contains(title, serial) || hasSKUSuffix(p, serial)) {
			score = serialBoost
		}
		out = append(out, candidate{product: p, score: score})
	}
	return out
}

func overlapPass(query string, catalog []commerce.Product) []candidate {
	qt := Tokenize(query)
	var out []candidate
	for _, p := range catalog {
		if r := OverlapRatio(qt, Tokenize(p.Title)); r >= MinOverlap {
			out = append(out, candidate{product: p, score: r})
		}
	}
	return out
}

// pick ranks candidates by score, keeping catalog order among equals, and
// warns when the top score is shared.
func pick(logger *slog.Logger, pass, name string, cands []candidate, conf watchlog.Confidence) *Result {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	best := cands[0]
	if len(cands) > 1 && cands[1].score == best.score {
		ties := 1
		for _, c := range cands[1:] {
			if c.score == best.score {
				ties++
			}
		}
		logger.Warn("matcher: ambiguous match, using first candidate",
			"pass", pass,
			"query", name,
			"chosen_id", best.product.ID,
			"chosen_title", best.product.Title,
			"tied", ties,
			"score", best.score)
	}
	return &Result{ID: best.product.ID, Title: best.product.Title, Confidence: conf, Score: best.score}
}

func hasSKUSuffix(p commerce.Product, serial string) bool {
	for _, v := range p.Variants {
		if v.SKU != "" && strings.HasSuffix(v.SKU, serial) {
			return true
		}
	}
	return false
}

// Matcher resolves folder names against the cached catalog.
type Matcher struct {
	cache         *Cache
	includeDrafts bool
	logger        *slog.Logger
}

// NewMatcher creates a Matcher reading from cache.
func NewMatcher(cache *Cache, includeDrafts bool, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{cache: cache, includeDrafts: includeDrafts, logger: logger.With("component", "matcher")}
}

// Find matches productName/serial against the current catalog snapshot.
// A nil result with a nil error means no catalog entry matched.
func (m *Matcher) Find(ctx context.Context, productName, serial string) (*Result, error) {
	products, err := m.cache.Products(ctx, m.includeDrafts)
	if err != nil {
		return nil, err
	}
	res := Match(m.logger, productName, serial, FilterByStatus(products, m.includeDrafts))
	if res == nil {
		m.logger.Info("matcher: no match", "name", productName, "serial", serial, "catalog_size", len(products))
	} else {
		m.logger.Info("matcher: matched", "name", productName, "serial", serial,
			"id", res.ID, "title", res.Title, "confidence", res.Confidence)
	}
	return res, nil
}

// Invalidate drops the cached catalog so the next Find refetches it.
func (m *Matcher) Invalidate() {
	m.cache.Invalidate()
}
