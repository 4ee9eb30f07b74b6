package extract

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/shoplens/shoplens/internal/merge"
	"github.com/shoplens/shoplens/internal/product"
)

// VideoInput is the raw material for unified extraction.
type VideoInput struct {
	VideoID     string `json:"video_id"`
	Description string `json:"description"`
}

// Unified runs the three evidence extractors independently and reconciles
// their outputs through the merge engine. Any extractor may fail outright
// without blocking the others: absence of evidence is not an error.
type Unified struct {
	description *DescriptionExtractor
	transcript  *TranscriptExtractor
	frames      *FrameExtractor
}

func NewUnified(description *DescriptionExtractor, transcript *TranscriptExtractor, frames *FrameExtractor) *Unified {
	return &Unified{description: description, transcript: transcript, frames: frames}
}

// Extract produces the confidence-ranked, link-paired product list for a
// video. The returned error is always nil today but kept in the signature
// for callers that stream.
func (u *Unified) Extract(ctx context.Context, input VideoInput) ([]product.ProductWithSources, error) {
	var (
		descProducts, transcriptProducts, frameProducts []product.ExtractedProduct
		links                                           []product.ProductLink
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if u.description != nil {
			descProducts, links = u.description.Extract(gctx, input.Description)
		}
		return nil
	})
	g.Go(func() error {
		if u.transcript != nil {
			transcriptProducts = u.transcript.Extract(gctx, input.VideoID)
		}
		return nil
	})
	g.Go(func() error {
		if u.frames != nil {
			frameProducts = u.frames.Extract(gctx, input.VideoID)
		}
		return nil
	})
	_ = g.Wait()

	merged := merge.Merge(descProducts, transcriptProducts, frameProducts)
	merged = merge.PairLinks(merged, links)

	log.Printf("[EXTRACT] Unified extraction for %s: %d products from %d description / %d transcript / %d frame mentions",
		input.VideoID, len(merged), len(descProducts), len(transcriptProducts), len(frameProducts))

	return merged, nil
}
