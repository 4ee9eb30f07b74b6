package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/shoplens/shoplens/internal/product"
)

const (
	defaultAPIURL = "https://api.openai.com/v1/chat/completions"
	defaultModel  = "gpt-4o"
)

// OpenAIClient implements Recognizer against the OpenAI chat completions API.
// Transient failures (429, 5xx, network) are retried with exponential backoff
// by the underlying client; auth and bad-input responses surface immediately.
type OpenAIClient struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *retryablehttp.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 8 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 60 * time.Second

	return &OpenAIClient{
		apiKey:     apiKey,
		apiURL:     defaultAPIURL,
		model:      defaultModel,
		httpClient: client,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func textPart(text string) contentPart {
	return contentPart{Type: "text", Text: text}
}

func imagePart(imageData []byte) contentPart {
	encoded := base64.StdEncoding.EncodeToString(imageData)
	return contentPart{
		Type:     "image_url",
		ImageURL: &imageURL{URL: fmt.Sprintf("data:image/jpeg;base64,%s", encoded)},
	}
}

// complete sends one user message and returns the model's text content.
func (c *OpenAIClient) complete(ctx context.Context, parts []contentPart) (string, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", ErrBadInput, gjson.GetBytes(body, "error.message").String())
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model API returned status %d", resp.StatusCode)
	}

	if errMsg := gjson.GetBytes(body, "error.message"); errMsg.Exists() {
		return "", fmt.Errorf("model API error: %s", errMsg.String())
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("no choices in model response")
	}

	return content.String(), nil
}

// jsonPayload strips markdown fences the model sometimes wraps JSON in and
// returns a parsed gjson result. An unparseable payload yields a null result;
// callers degrade to empty output instead of failing the session.
func jsonPayload(content string) gjson.Result {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	if !gjson.Valid(content) {
		return gjson.Result{}
	}
	return gjson.Parse(content)
}

func (c *OpenAIClient) DetectObjects(ctx context.Context, image []byte, hint string) ([]DetectedObject, error) {
	prompt := "Detect every distinct physical product visible in this image.\n" +
		"Respond with a JSON array only, one element per object:\n" +
		`[{"object_type":"...","product_category":"...","visual_cues":["..."],` +
		`"certainty":"definite|likely|uncertain","bounding_description":"..."}]`
	if hint != "" {
		prompt += "\nFocus hint: " + hint
	}

	content, err := c.complete(ctx, []contentPart{textPart(prompt), imagePart(image)})
	if err != nil {
		return nil, err
	}

	payload := jsonPayload(content)
	if !payload.IsArray() {
		log.Printf("[RECOGNIZER] Detection response was not a JSON array, returning no objects")
		return []DetectedObject{}, nil
	}

	var objects []DetectedObject
	payload.ForEach(func(_, item gjson.Result) bool {
		obj := DetectedObject{
			ID:                  uuid.New().String(),
			ObjectType:          item.Get("object_type").String(),
			ProductCategory:     item.Get("product_category").String(),
			Certainty:           parseCertainty(item.Get("certainty").String()),
			BoundingDescription: item.Get("bounding_description").String(),
		}
		for _, cue := range item.Get("visual_cues").Array() {
			obj.VisualCues = append(obj.VisualCues, cue.String())
		}
		if obj.ObjectType != "" {
			objects = append(objects, obj)
		}
		return true
	})

	return objects, nil
}

func (c *OpenAIClient) IdentifyProduct(ctx context.Context, req IdentifyRequest) ([]IdentifiedProduct, error) {
	var sb strings.Builder
	sb.WriteString("Identify the specific purchasable product shown, described as: ")
	sb.WriteString(req.Object.ObjectType)
	if req.Object.ProductCategory != "" {
		sb.WriteString(" (category: " + req.Object.ProductCategory + ")")
	}
	if len(req.Object.VisualCues) > 0 {
		sb.WriteString("\nVisual cues: " + strings.Join(req.Object.VisualCues, ", "))
	}
	if req.Correction != "" {
		sb.WriteString("\nUser correction, treat as authoritative: " + req.Correction)
	}
	if len(req.CategoryHints) > 0 {
		sb.WriteString("\nCategory hints: " + strings.Join(req.CategoryHints, ", "))
	}
	sb.WriteString("\nRespond with a JSON array of ranked candidates:\n" +
		`[{"name":"...","brand":"...","model_year":"...","generation":"...",` +
		`"confidence":0,"year_confidence":0,"matching_reasons":["..."],` +
		`"alternatives":[{"name":"...","brand":"...","model_year":"...","confidence":0,"differentiating_factors":["..."]}]}]`)

	parts := []contentPart{textPart(sb.String())}
	if len(req.Image) > 0 {
		parts = append(parts, imagePart(req.Image))
	}

	content, err := c.complete(ctx, parts)
	if err != nil {
		return nil, err
	}

	payload := jsonPayload(content)
	if !payload.IsArray() {
		log.Printf("[RECOGNIZER] Identification response was not a JSON array, returning no candidates")
		return []IdentifiedProduct{}, nil
	}

	var products []IdentifiedProduct
	payload.ForEach(func(_, item gjson.Result) bool {
		p := IdentifiedProduct{
			ID:             uuid.New().String(),
			Name:           item.Get("name").String(),
			Brand:          item.Get("brand").String(),
			ModelYear:      item.Get("model_year").String(),
			Generation:     item.Get("generation").String(),
			Confidence:     clampScore(item.Get("confidence").Int()),
			YearConfidence: clampScore(item.Get("year_confidence").Int()),
		}
		for _, r := range item.Get("matching_reasons").Array() {
			p.MatchingReasons = append(p.MatchingReasons, r.String())
		}
		for _, alt := range item.Get("alternatives").Array() {
			a := ProductAlternative{
				Name:       alt.Get("name").String(),
				Brand:      alt.Get("brand").String(),
				ModelYear:  alt.Get("model_year").String(),
				Confidence: clampScore(alt.Get("confidence").Int()),
			}
			for _, f := range alt.Get("differentiating_factors").Array() {
				a.DifferentiatingFactors = append(a.DifferentiatingFactors, f.String())
			}
			p.Alternatives = append(p.Alternatives, a)
		}
		if p.Name != "" {
			products = append(products, p)
		}
		return true
	})

	return products, nil
}

func (c *OpenAIClient) ValidateProductMatch(ctx context.Context, p IdentifiedProduct, image []byte) (ValidationResult, error) {
	prompt := fmt.Sprintf("Does this image show the product %q", p.Name)
	if p.Brand != "" {
		prompt += fmt.Sprintf(" by %s", p.Brand)
	}
	prompt += "?\nRespond with JSON only:\n" +
		`{"recommendation":"confirmed|likely|uncertain|mismatch","match_details":"...","discrepancies":["..."]}`

	content, err := c.complete(ctx, []contentPart{textPart(prompt), imagePart(image)})
	if err != nil {
		return ValidationResult{}, err
	}

	payload := jsonPayload(content)
	if !payload.IsObject() {
		log.Printf("[RECOGNIZER] Validation response was not a JSON object, degrading to uncertain")
		return ValidationResult{Recommendation: RecommendationUncertain}, nil
	}

	result := ValidationResult{
		Recommendation: parseRecommendation(payload.Get("recommendation").String()),
		MatchDetails:   payload.Get("match_details").String(),
	}
	for _, d := range payload.Get("discrepancies").Array() {
		result.Discrepancies = append(result.Discrepancies, d.String())
	}

	return result, nil
}

func (c *OpenAIClient) EnrichProduct(ctx context.Context, p IdentifiedProduct) (Enrichment, error) {
	prompt := fmt.Sprintf("Provide purchase details for the product %q", p.Name)
	if p.Brand != "" {
		prompt += fmt.Sprintf(" by %s", p.Brand)
	}
	if p.ModelYear != "" {
		prompt += fmt.Sprintf(" (%s)", p.ModelYear)
	}
	prompt += ".\nRespond with JSON only:\n" +
		`{"links":[{"url":"...","label":"..."}],"specs":{"key":"value"},"price":"...",` +
		`"product_image":"...","fun_facts":["..."]}`

	content, err := c.complete(ctx, []contentPart{textPart(prompt)})
	if err != nil {
		return Enrichment{}, err
	}

	payload := jsonPayload(content)
	if !payload.IsObject() {
		log.Printf("[RECOGNIZER] Enrichment response was not a JSON object, returning empty enrichment")
		return Enrichment{}, nil
	}

	enrichment := Enrichment{
		Price:        payload.Get("price").String(),
		ProductImage: payload.Get("product_image").String(),
	}
	for _, link := range payload.Get("links").Array() {
		enrichment.Links = append(enrichment.Links, product.ProductLink{
			URL:   link.Get("url").String(),
			Label: link.Get("label").String(),
		})
	}
	if specs := payload.Get("specs"); specs.IsObject() {
		enrichment.Specs = make(map[string]string)
		specs.ForEach(func(key, value gjson.Result) bool {
			enrichment.Specs[key.String()] = value.String()
			return true
		})
	}
	for _, fact := range payload.Get("fun_facts").Array() {
		enrichment.FunFacts = append(enrichment.FunFacts, fact.String())
	}

	return enrichment, nil
}

func (c *OpenAIClient) ExtractFromText(ctx context.Context, req TextExtractRequest) ([]product.ExtractedProduct, error) {
	var sb strings.Builder
	sb.WriteString("Extract every physical product mentioned in this video " + req.Kind + ".\n")
	sb.WriteString("Score hero_score 0-100 by narrative or novelty value within the content, " +
		"never by price or how new the product is.\n")
	if len(req.Hints) > 0 {
		sb.WriteString("Candidate mentions already spotted: " + strings.Join(req.Hints, "; ") + "\n")
	}
	if len(req.KnownLinks) > 0 {
		sb.WriteString("Links found in the text:\n")
		for _, l := range req.KnownLinks {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", l.URL, l.Label))
		}
	}
	sb.WriteString("Respond with a JSON array only:\n" +
		`[{"name":"...","brand":"...","category":"...","hero_score":0,` +
		`"story_signals":["..."],"context":"...","timestamp_sec":0}]` +
		"\n\nText:\n" + req.Text)

	content, err := c.complete(ctx, []contentPart{textPart(sb.String())})
	if err != nil {
		return nil, err
	}

	payload := jsonPayload(content)
	if !payload.IsArray() {
		log.Printf("[RECOGNIZER] Text extraction response was not a JSON array, returning no products")
		return []product.ExtractedProduct{}, nil
	}

	var products []product.ExtractedProduct
	payload.ForEach(func(_, item gjson.Result) bool {
		p := product.ExtractedProduct{
			Name:         item.Get("name").String(),
			Brand:        item.Get("brand").String(),
			Category:     item.Get("category").String(),
			HeroScore:    clampScore(item.Get("hero_score").Int()),
			Context:      item.Get("context").String(),
			TimestampSec: int(item.Get("timestamp_sec").Int()),
		}
		for _, sig := range item.Get("story_signals").Array() {
			p.StorySignals = append(p.StorySignals, sig.String())
		}
		if p.Name != "" {
			products = append(products, p)
		}
		return true
	})

	return products, nil
}

func parseCertainty(s string) Certainty {
	switch Certainty(strings.ToLower(s)) {
	case CertaintyDefinite:
		return CertaintyDefinite
	case CertaintyLikely:
		return CertaintyLikely
	default:
		return CertaintyUncertain
	}
}

func parseRecommendation(s string) ValidationRecommendation {
	switch ValidationRecommendation(strings.ToLower(s)) {
	case RecommendationConfirmed:
		return RecommendationConfirmed
	case RecommendationLikely:
		return RecommendationLikely
	case RecommendationMismatch:
		return RecommendationMismatch
	default:
		return RecommendationUncertain
	}
}

func clampScore(v int64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
