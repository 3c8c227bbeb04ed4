package commerce

// Product is a catalog entry as returned by the catalog service.
type Product struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	Variants []Variant `json:"variants"`
}

// Variant is one purchasable variant of a product.
type Variant struct {
	SKU string `json:"sku"`
}

// Product statuses used for the matcher's status filter.
const (
	StatusActive = "active"
	StatusDraft  = "draft"
)

// ExistingContent is what the storefront already holds for a product.
type ExistingContent struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Images         []string `json:"images"`
	HasPhotos      bool     `json:"has_photos"`
	HasDescription bool     `json:"has_description"`
	Tags           []string `json:"tags"`
}

// DraftInput is the payload for a new listing draft.
type DraftInput struct {
	Title               string   `json:"title"`
	Images              []string `json:"images"`
	OriginalTitle       string   `json:"original_title"`
	OriginalDescription string   `json:"original_description"`
	OriginalImages      []string `json:"original_images"`
}

// ApproveOptions selects which parts of a draft are published.
type ApproveOptions struct {
	Photos      bool `json:"photos"`
	Description bool `json:"description"`
}

// ApproveResult is the service's answer to an approval request.
type ApproveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
