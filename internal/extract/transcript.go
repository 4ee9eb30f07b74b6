package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/shoplens/shoplens/internal/product"
	"github.com/shoplens/shoplens/internal/recognizer"
)

// ErrNoTranscript signals that no spoken-word transcript exists for a video.
// Extractors treat it as absence of evidence, never as a failure.
var ErrNoTranscript = errors.New("no transcript available")

// TranscriptSegment is one timed piece of spoken text.
type TranscriptSegment struct {
	Text     string
	StartSec int
}

// TranscriptProvider fetches a video's transcript from an external service.
type TranscriptProvider interface {
	Fetch(ctx context.Context, videoID string) ([]TranscriptSegment, error)
}

// mentionRe is the pattern first pass: verbs that typically introduce a
// product the speaker owns or endorses.
var mentionRe = regexp.MustCompile(`(?i)\b(using|wearing|bought|picked up|upgraded to|recommend|my (?:new|trusty|favorite)|this is my|i (?:use|love|got))\b`)

// TranscriptExtractor surfaces product mentions from spoken transcripts:
// a pattern pass collects candidate mentions with timestamps, then the
// recognizer turns them into structured products with transcript phrasing
// preserved as context.
type TranscriptExtractor struct {
	rec      recognizer.Recognizer
	provider TranscriptProvider
}

func NewTranscriptExtractor(rec recognizer.Recognizer, provider TranscriptProvider) *TranscriptExtractor {
	return &TranscriptExtractor{rec: rec, provider: provider}
}

// Extract returns products mentioned in speech. A missing transcript or a
// failed fetch yields an empty list and a nil error.
func (e *TranscriptExtractor) Extract(ctx context.Context, videoID string) []product.ExtractedProduct {
	if e.provider == nil {
		return nil
	}

	segments, err := e.provider.Fetch(ctx, videoID)
	if err != nil {
		if !errors.Is(err, ErrNoTranscript) {
			log.Printf("[EXTRACT] Transcript fetch failed for %s: %v", videoID, err)
		}
		return nil
	}
	if len(segments) == 0 {
		return nil
	}

	candidates := MentionCandidates(segments)

	var full strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&full, "[%s] %s\n", formatTimestamp(seg.StartSec), seg.Text)
	}

	if e.rec == nil {
		return nil
	}

	extracted, err := e.rec.ExtractFromText(ctx, recognizer.TextExtractRequest{
		Text:  full.String(),
		Kind:  "transcript",
		Hints: candidates,
	})
	if err != nil {
		log.Printf("[EXTRACT] Transcript LLM extraction failed for %s: %v", videoID, err)
		return nil
	}

	log.Printf("[EXTRACT] Transcript extraction found %d products (%d pattern candidates)", len(extracted), len(candidates))
	return extracted
}

// MentionCandidates runs the pattern first pass and returns timestamped
// candidate phrases used as hints for the LLM pass.
func MentionCandidates(segments []TranscriptSegment) []string {
	var candidates []string
	for _, seg := range segments {
		if mentionRe.MatchString(seg.Text) {
			candidates = append(candidates, fmt.Sprintf("%s at %s", strings.TrimSpace(seg.Text), formatTimestamp(seg.StartSec)))
		}
	}
	return candidates
}

func formatTimestamp(sec int) string {
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// HTTPTranscriptProvider fetches transcripts from a captions endpoint that
// returns JSON segments: [{"text": "...", "start": 12.5}, ...].
type HTTPTranscriptProvider struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

func NewHTTPTranscriptProvider(baseURL string) *HTTPTranscriptProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 30 * time.Second

	return &HTTPTranscriptProvider{baseURL: baseURL, httpClient: client}
}

func (p *HTTPTranscriptProvider) Fetch(ctx context.Context, videoID string) ([]TranscriptSegment, error) {
	reqURL := fmt.Sprintf("%s?video_id=%s", p.baseURL, url.QueryEscape(videoID))
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, ErrNoTranscript
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("transcript endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript response: %w", err)
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, ErrNoTranscript
	}

	var segments []TranscriptSegment
	parsed.ForEach(func(_, item gjson.Result) bool {
		text := strings.TrimSpace(item.Get("text").String())
		if text != "" {
			segments = append(segments, TranscriptSegment{
				Text:     text,
				StartSec: int(item.Get("start").Float()),
			})
		}
		return true
	})

	return segments, nil
}
