package extract

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/shoplens/shoplens/internal/merge"
	"github.com/shoplens/shoplens/internal/product"
	"github.com/shoplens/shoplens/internal/recognizer"
)

// Platform-provided thumbnails stand in for arbitrary-timestamp frame
// extraction, which this design does not support. The nearest available
// thumbnail is substituted and the approximation is surfaced on every
// frame-derived candidate, never hidden.
const frameApproximationNote = "seen in a sampled frame (nearest available thumbnail, not an exact timestamp)"

var thumbnailNames = []string{"maxresdefault", "hqdefault", "hq1", "hq2", "hq3", "sddefault", "mqdefault", "0"}

// FrameExtractor samples a bounded number of representative frames and asks
// the recognizer to detect objects in each, coalescing frame-level detections
// into candidate products.
type FrameExtractor struct {
	rec          recognizer.Recognizer
	thumbnailURL string // format string taking (videoID, thumbnailName)
	maxFrames    int
	httpClient   *retryablehttp.Client
}

func NewFrameExtractor(rec recognizer.Recognizer, maxFrames int) *FrameExtractor {
	if maxFrames <= 0 {
		maxFrames = 4
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 15 * time.Second

	return &FrameExtractor{
		rec:          rec,
		thumbnailURL: "https://i.ytimg.com/vi/%s/%s.jpg",
		maxFrames:    maxFrames,
		httpClient:   client,
	}
}

// Extract fetches up to maxFrames thumbnails and coalesces per-frame object
// detections into products. Any frame that cannot be fetched or analyzed is
// skipped; total failure returns an empty list.
func (e *FrameExtractor) Extract(ctx context.Context, videoID string) []product.ExtractedProduct {
	if e.rec == nil {
		return nil
	}

	var products []product.ExtractedProduct
	fetched := 0

	for _, name := range thumbnailNames {
		if fetched >= e.maxFrames {
			break
		}

		frame, err := e.fetchThumbnail(ctx, videoID, name)
		if err != nil {
			continue
		}
		fetched++

		objects, err := e.rec.DetectObjects(ctx, frame, "physical products only")
		if err != nil {
			log.Printf("[EXTRACT] Frame detection failed for %s/%s: %v", videoID, name, err)
			continue
		}

		for _, obj := range objects {
			products = coalesce(products, obj)
		}
	}

	log.Printf("[EXTRACT] Frame extraction for %s: %d frames sampled, %d candidate products", videoID, fetched, len(products))
	return products
}

func (e *FrameExtractor) fetchThumbnail(ctx context.Context, videoID, name string) ([]byte, error) {
	url := fmt.Sprintf(e.thumbnailURL, videoID, name)
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("thumbnail %s returned status %d", name, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// coalesce folds an object detection into the candidate list, merging
// detections of the same object across frames.
func coalesce(products []product.ExtractedProduct, obj recognizer.DetectedObject) []product.ExtractedProduct {
	name := obj.ObjectType
	if name == "" {
		return products
	}

	for i := range products {
		if merge.Similar("", products[i].Name, "", name) {
			return products
		}
	}

	context := frameApproximationNote
	if desc := frameDescription(obj); desc != "" {
		context = desc + "; " + frameApproximationNote
	}

	return append(products, product.ExtractedProduct{
		Name:     name,
		Category: obj.ProductCategory,
		Context:  context,
	})
}

func frameDescription(obj recognizer.DetectedObject) string {
	parts := make([]string, 0, 2)
	if obj.BoundingDescription != "" {
		parts = append(parts, obj.BoundingDescription)
	}
	if len(obj.VisualCues) > 0 {
		parts = append(parts, strings.Join(obj.VisualCues, ", "))
	}
	return strings.Join(parts, "; ")
}
