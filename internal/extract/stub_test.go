package extract

import (
	"context"

	"github.com/shoplens/shoplens/internal/product"
	"github.com/shoplens/shoplens/internal/recognizer"
)

// stubRecognizer lets each test inject just the calls it cares about.
type stubRecognizer struct {
	detectObjects   func(image []byte, hint string) ([]recognizer.DetectedObject, error)
	extractFromText func(req recognizer.TextExtractRequest) ([]product.ExtractedProduct, error)
}

func (s *stubRecognizer) DetectObjects(_ context.Context, image []byte, hint string) ([]recognizer.DetectedObject, error) {
	if s.detectObjects == nil {
		return nil, nil
	}
	return s.detectObjects(image, hint)
}

func (s *stubRecognizer) IdentifyProduct(context.Context, recognizer.IdentifyRequest) ([]recognizer.IdentifiedProduct, error) {
	return nil, nil
}

func (s *stubRecognizer) ValidateProductMatch(context.Context, recognizer.IdentifiedProduct, []byte) (recognizer.ValidationResult, error) {
	return recognizer.ValidationResult{Recommendation: recognizer.RecommendationUncertain}, nil
}

func (s *stubRecognizer) EnrichProduct(context.Context, recognizer.IdentifiedProduct) (recognizer.Enrichment, error) {
	return recognizer.Enrichment{}, nil
}

func (s *stubRecognizer) ExtractFromText(_ context.Context, req recognizer.TextExtractRequest) ([]product.ExtractedProduct, error) {
	if s.extractFromText == nil {
		return nil, nil
	}
	return s.extractFromText(req)
}

// stubProvider serves a fixed transcript or error.
type stubProvider struct {
	segments []TranscriptSegment
	err      error
}

func (p *stubProvider) Fetch(context.Context, string) ([]TranscriptSegment, error) {
	return p.segments, p.err
}
