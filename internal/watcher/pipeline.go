package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/eargollo/studiowatch/internal/commerce"
	"github.com/eargollo/studiowatch/internal/match"
	"github.com/eargollo/studiowatch/internal/media"
	"github.com/eargollo/studiowatch/internal/stabilize"
	"github.com/eargollo/studiowatch/internal/watchlog"
)

// Error messages recorded on watch log rows.
const (
	msgNoImages          = "no images found"
	msgDownstreamTimeout = "downstream timeout"
)

// task is one pass of a product folder through the pipeline.
type task struct {
	o      *Orchestrator
	c      Candidate
	stab   *stabilize.Stabilizer
	logger *slog.Logger

	detection watchlog.Detection
	id        int64
}

// runTask executes the pipeline for c. It never panics and never returns an
// error: every failure ends up on the folder's watch log row.
func (o *Orchestrator) runTask(c Candidate, stab *stabilize.Stabilizer, trigger string) {
	t := &task{
		o:    o,
		c:    c,
		stab: stab,
		logger: o.logger.With(
			"run", uuid.NewString()[:8],
			"path", c.AbsolutePath,
			"trigger", trigger),
	}
	// Pipeline tasks are not tied to the watcher's lifetime; after
	// stabilization they run to completion even across Stop.
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("pipeline: panic", "panic", r)
			t.fail(ctx, fmt.Sprintf("internal error: %v", r))
		}
	}()
	t.run(ctx)
}

func (t *task) run(ctx context.Context) {
	store := t.o.store

	// 1. Idempotency.
	entry, err := store.GetByPath(ctx, t.c.AbsolutePath)
	if err != nil {
		t.logger.Error("pipeline: lookup failed", "error", err)
		return
	}
	if entry != nil && entry.Status == watchlog.StatusDone {
		t.logger.Debug("pipeline: already processed")
		return
	}

	// 2. Parse.
	name, serial := match.ParseFolderName(t.c.ProductFolderName)
	t.detection = watchlog.Detection{
		FolderPath:   t.c.AbsolutePath,
		FolderName:   t.c.ProductFolderName,
		PresetName:   t.c.PresetName,
		ProductName:  name,
		SerialSuffix: serial,
	}

	// 3. Stabilize. Best-effort, except that a cancelled wait means the
	// watcher stopped; the next start's scan picks the folder up again.
	outcome, err := t.stab.WaitForStable(ctx, t.c.AbsolutePath)
	switch {
	case errors.Is(err, stabilize.ErrCancelled):
		t.logger.Info("pipeline: stabilization cancelled, skipping")
		return
	case err != nil:
		t.logger.Warn("pipeline: stabilization failed, continuing", "error", err)
	case outcome == stabilize.Forced:
		t.logger.Warn("pipeline: folder never went quiet, processing current files", "forced", true)
	}

	// 4. Collect images.
	imgs, err := media.CollectImages(t.c.AbsolutePath)
	if err != nil {
		t.logger.Warn("pipeline: cannot read folder", "error", err)
		t.recordFailure(ctx, entry, fmt.Sprintf("read folder: %v", err))
		return
	}
	if len(imgs) == 0 {
		t.logger.Warn("pipeline: no images found")
		t.recordFailure(ctx, entry, msgNoImages)
		return
	}
	t.detection.ImageCount = len(imgs)
	t.logger.Info("pipeline: images collected",
		"count", len(imgs),
		"size", humanize.Bytes(media.TotalSize(imgs)),
		"outcome", outcome)

	// 5. Ensure a row. Re-read it: a manual link may have landed while the
	// folder was stabilizing.
	entry, err = store.GetByPath(ctx, t.c.AbsolutePath)
	if err != nil {
		t.logger.Error("pipeline: lookup failed", "error", err)
		return
	}
	switch {
	case entry == nil:
		if t.id, err = store.RecordDetection(ctx, t.detection); err != nil {
			t.logger.Error("pipeline: record detection failed", "error", err)
			return
		}
	case entry.Status == watchlog.StatusDone:
		t.logger.Debug("pipeline: completed elsewhere")
		return
	default:
		t.id = entry.ID
		if err := store.UpdateImageCount(ctx, t.id, len(imgs)); err != nil {
			t.logger.Warn("pipeline: update image count failed", "error", err)
		}
	}
	t.logger = t.logger.With("id", t.id)

	// 6. Match, unless an operator already linked the folder.
	var res *match.Result
	if linked := manualLinkOf(entry); linked != nil {
		res = linked
		t.logger.Info("pipeline: using manual link", "catalog_id", res.ID)
		// A linked row that failed a previous handoff goes back to matched.
		if entry.Status != watchlog.StatusMatched {
			if err := store.ManualLink(ctx, t.id, res.ID, res.Title); err != nil {
				t.logger.Error("pipeline: restore manual link failed", "error", err)
				return
			}
		}
	} else {
		mctx, cancel := context.WithTimeout(ctx, t.o.cfg.DownstreamTimeout)
		res, err = t.o.matcher.Find(mctx, name, serial)
		cancel()
		if err != nil {
			t.downstreamError(ctx, "catalog lookup", err)
			return
		}
		if res == nil {
			if err := store.UpdateMatch(ctx, t.id, "", "", ""); err != nil {
				t.logger.Error("pipeline: record unmatched failed", "error", err)
				return
			}
			t.logger.Info("pipeline: no catalog match", "name", name, "serial", serial)
			return
		}
		if err := store.UpdateMatch(ctx, t.id, res.ID, res.Title, res.Confidence); err != nil {
			t.logger.Error("pipeline: record match failed", "error", err)
			return
		}
	}

	// 7. Draft handoff.
	if err := store.UpdateUploading(ctx, t.id); err != nil {
		t.logger.Error("pipeline: mark uploading failed", "error", err)
		return
	}
	dctx, cancel := context.WithTimeout(ctx, t.o.cfg.DownstreamTimeout)
	hr, err := t.o.drafts.Create(dctx, commerce.Handoff{
		CatalogID: res.ID,
		Title:     res.Title,
		Category:  t.c.PresetName,
		Images:    media.Paths(imgs),
	})
	cancel()
	if err != nil {
		t.downstreamError(ctx, "draft creation", err)
		return
	}

	// 8. Done.
	if err := store.UpdateDone(ctx, t.id, len(imgs)); err != nil {
		t.logger.Error("pipeline: mark done failed", "error", err)
		return
	}
	t.logger.Info("pipeline: folder done",
		"catalog_id", res.ID,
		"confidence", res.Confidence,
		"draft_id", hr.DraftID,
		"auto_published", hr.Approved,
		"images", len(imgs))

	if t.o.cfg.AutoApplyTemplates && t.o.templates != nil {
		t.applyTemplate(res.ID)
	}
}

// applyTemplate runs the auto-apply call in the background. Presets without
// a template are skipped; failures are logged only.
func (t *task) applyTemplate(catalogID string) {
	if _, ok := t.o.templates.TemplateFor(t.c.PresetName); !ok {
		t.logger.Debug("pipeline: no template for preset", "preset", t.c.PresetName)
		return
	}
	t.o.tasks.Add(1)
	go func() {
		defer t.o.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.o.cfg.DownstreamTimeout)
		defer cancel()
		if _, err := t.o.templates.ApplyForPreset(ctx, t.c.PresetName, catalogID); err != nil {
			t.logger.Warn("pipeline: template auto-apply failed", "preset", t.c.PresetName, "error", err)
		}
	}()
}

// downstreamError records a collaborator failure on the row.
func (t *task) downstreamError(ctx context.Context, step string, err error) {
	msg := fmt.Sprintf("%s: %v", step, err)
	if commerce.IsTimeout(err) {
		msg = msgDownstreamTimeout
	}
	t.logger.Warn("pipeline: downstream failure", "step", step, "error", err)
	if err := t.o.store.UpdateError(ctx, t.id, msg); err != nil {
		t.logger.Error("pipeline: record error failed", "error", err)
	}
}

// recordFailure writes a terminal error before a row id is known. A row that
// already exists keeps its history and gets the error in place.
func (t *task) recordFailure(ctx context.Context, entry *watchlog.Entry, msg string) {
	if entry == nil {
		if err := t.o.store.RecordFailure(ctx, t.detection, msg); err != nil {
			t.logger.Error("pipeline: record failure failed", "error", err)
		}
		return
	}
	if err := t.o.store.UpdateError(ctx, entry.ID, msg); err != nil && !errors.Is(err, watchlog.ErrInvalidTransition) {
		t.logger.Error("pipeline: record error failed", "error", err)
	}
}

// fail records msg against whatever row the task has reached.
func (t *task) fail(ctx context.Context, msg string) {
	if t.id != 0 {
		if err := t.o.store.UpdateError(ctx, t.id, msg); err != nil {
			t.logger.Error("pipeline: record error failed", "error", err)
		}
		return
	}
	if t.detection.FolderPath == "" {
		t.detection = watchlog.Detection{
			FolderPath: t.c.AbsolutePath,
			FolderName: t.c.ProductFolderName,
			PresetName: t.c.PresetName,
		}
	}
	if err := t.o.store.RecordFailure(ctx, t.detection, msg); err != nil {
		t.logger.Error("pipeline: record failure failed", "error", err)
	}
}

func manualLinkOf(e *watchlog.Entry) *match.Result {
	if e == nil || e.MatchedCatalogID == nil || e.MatchConfidence == nil ||
		watchlog.Confidence(*e.MatchConfidence) != watchlog.ConfidenceManual {
		return nil
	}
	res := &match.Result{ID: *e.MatchedCatalogID, Confidence: watchlog.ConfidenceManual}
	if e.MatchedCatalogTitle != nil {
		res.Title = *e.MatchedCatalogTitle
	}
	return res
}
