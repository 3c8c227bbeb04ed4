package commerce

import (
	"context"
	"log/slog"
)

// DraftService is the subset of Client the handoff needs.
type DraftService interface {
	CheckExistingContent(ctx context.Context, catalogID string) (*ExistingContent, error)
	CreateDraft(ctx context.Context, catalogID string, in DraftInput) (string, error)
	GetAutoPublishSetting(ctx context.Context, category string) (bool, error)
	ApproveDraft(ctx context.Context, draftID string, opts ApproveOptions) (*ApproveResult, error)
}

// Handoff describes one matched folder being turned into a listing draft.
type Handoff struct {
	CatalogID string
	Title     string
	Category  string // preset folder name
	Images    []string
}

// HandoffResult reports what the handoff did.
type HandoffResult struct {
	DraftID  string
	Approved bool
}

// DraftCreator composes the draft calls for a matched folder.
type DraftCreator struct {
	svc    DraftService
	logger *slog.Logger
}

// NewDraftCreator returns a DraftCreator over svc.
func NewDraftCreator(svc DraftService, logger *slog.Logger) *DraftCreator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DraftCreator{svc: svc, logger: logger.With("component", "drafts")}
}

// Create snapshots the product's current content, creates a draft with the
// new images, and approves it when the category auto-publishes. Errors from
// the content check, draft creation, or auto-publish lookup are returned; a
// failed approval is logged only because the draft already exists.
func (d *DraftCreator) Create(ctx context.Context, h Handoff) (HandoffResult, error) {
	existing, err := d.svc.CheckExistingContent(ctx, h.CatalogID)
	if err != nil {
		return HandoffResult{}, err
	}

	draftID, err := d.svc.CreateDraft(ctx, h.CatalogID, DraftInput{
		Title:               h.Title,
		Images:              h.Images,
		OriginalTitle:       existing.Title,
		OriginalDescription: existing.Description,
		OriginalImages:      existing.Images,
	})
	if err != nil {
		return HandoffResult{}, err
	}
	res := HandoffResult{DraftID: draftID}

	auto, err := d.svc.GetAutoPublishSetting(ctx, h.Category)
	if err != nil {
		return res, err
	}
	if !auto {
		d.logger.Info("drafts: draft created, awaiting review", "catalog_id", h.CatalogID, "draft_id", draftID)
		return res, nil
	}

	ar, err := d.svc.ApproveDraft(ctx, draftID, ApproveOptions{Photos: true, Description: existing.HasDescription})
	switch {
	case err != nil:
		d.logger.Warn("drafts: auto-approve failed", "draft_id", draftID, "error", err)
	case !ar.Success:
		d.logger.Warn("drafts: auto-approve rejected", "draft_id", draftID, "error", ar.Error)
	default:
		res.Approved = true
		d.logger.Info("drafts: draft auto-published", "catalog_id", h.CatalogID, "draft_id", draftID)
	}
	return res, nil
}

