package recognizer

import (
	"context"
	"errors"

	"github.com/shoplens/shoplens/internal/product"
)

// Non-retryable failure classes. Transient upstream errors are retried inside
// the client; these propagate on first occurrence.
var (
	ErrBadInput = errors.New("recognizer: bad input")
	ErrAuth     = errors.New("recognizer: authentication failed")
)

// Certainty is the recognizer's own read on a detection.
type Certainty string

const (
	CertaintyDefinite  Certainty = "definite"
	CertaintyLikely    Certainty = "likely"
	CertaintyUncertain Certainty = "uncertain"
)

// DetectedObject is a product-shaped object spotted in an image. It is
// created by detection and mutated only by user validation.
type DetectedObject struct {
	ID                  string    `json:"id"`
	ObjectType          string    `json:"object_type"`
	ProductCategory     string    `json:"product_category"`
	VisualCues          []string  `json:"visual_cues,omitempty"`
	Certainty           Certainty `json:"certainty"`
	BoundingDescription string    `json:"bounding_description,omitempty"`
	SourceImageIndex    int       `json:"source_image_index"`
	Selected            bool      `json:"selected"`
	UserCorrection      string    `json:"user_correction,omitempty"`
}

// ProductAlternative is a secondary candidate, surfaced only on request.
type ProductAlternative struct {
	Name                   string   `json:"name"`
	Brand                  string   `json:"brand,omitempty"`
	ModelYear              string   `json:"model_year,omitempty"`
	Confidence             int      `json:"confidence"`
	DifferentiatingFactors []string `json:"differentiating_factors,omitempty"`
}

// IdentifiedProduct is the recognizer's best guess for a detected object.
type IdentifiedProduct struct {
	ID                    string               `json:"id"`
	Name                  string               `json:"name"`
	Brand                 string               `json:"brand,omitempty"`
	ModelYear             string               `json:"model_year,omitempty"`
	Generation            string               `json:"generation,omitempty"`
	Confidence            int                  `json:"confidence"`
	YearConfidence        int                  `json:"year_confidence"`
	MatchingReasons       []string             `json:"matching_reasons,omitempty"`
	Alternatives          []ProductAlternative `json:"alternatives,omitempty"`
	UserCorrectionApplied bool                 `json:"user_correction_applied,omitempty"`
	ConfirmedByUser       bool                 `json:"confirmed_by_user"`
}

// ValidationRecommendation classifies a product/image cross-check.
type ValidationRecommendation string

const (
	RecommendationConfirmed ValidationRecommendation = "confirmed"
	RecommendationLikely    ValidationRecommendation = "likely"
	RecommendationUncertain ValidationRecommendation = "uncertain"
	RecommendationMismatch  ValidationRecommendation = "mismatch"
)

// ValidationResult is the outcome of cross-validating an identified product
// against its source image.
type ValidationResult struct {
	Recommendation ValidationRecommendation `json:"recommendation"`
	MatchDetails   string                   `json:"match_details,omitempty"`
	Discrepancies  []string                 `json:"discrepancies,omitempty"`
}

// Enrichment is downstream detail fetched for a confirmed product.
type Enrichment struct {
	Links        []product.ProductLink `json:"links,omitempty"`
	Specs        map[string]string     `json:"specs,omitempty"`
	Price        string                `json:"price,omitempty"`
	ProductImage string                `json:"product_image,omitempty"`
	FunFacts     []string              `json:"fun_facts,omitempty"`
}

// IdentifyRequest carries one detection plus any user-supplied context into
// product identification.
type IdentifyRequest struct {
	Object        DetectedObject
	Image         []byte
	Correction    string
	CategoryHints []string
}

// TextExtractRequest asks the model to pull product mentions out of free text.
type TextExtractRequest struct {
	Text       string
	Kind       string // "description" or "transcript"
	Hints      []string
	KnownLinks []product.ProductLink
}

// Recognizer wraps the external vision/text model. Implementations retry
// transient failures with exponential backoff; ErrBadInput and ErrAuth
// propagate on first occurrence.
type Recognizer interface {
	DetectObjects(ctx context.Context, image []byte, hint string) ([]DetectedObject, error)
	IdentifyProduct(ctx context.Context, req IdentifyRequest) ([]IdentifiedProduct, error)
	ValidateProductMatch(ctx context.Context, p IdentifiedProduct, image []byte) (ValidationResult, error)
	EnrichProduct(ctx context.Context, p IdentifiedProduct) (Enrichment, error)
	ExtractFromText(ctx context.Context, req TextExtractRequest) ([]product.ExtractedProduct, error)
}
