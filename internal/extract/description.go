package extract

import (
	"context"
	"log"
	"regexp"
	"strings"
	"unicode"

	"github.com/shoplens/shoplens/internal/product"
	"github.com/shoplens/shoplens/internal/recognizer"
)

// structuredThreshold is the number of product-shaped lines a description
// must contain before the structural parse is trusted. Below it, prose-only
// descriptions would produce false positives, so the LLM fallback runs.
const structuredThreshold = 3

var (
	timestampRe  = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
	numberingRe  = regexp.MustCompile(`^\s*\d+\s*[.)\-:]\s*`)
	bulletRe     = regexp.MustCompile(`^\s*[-*•▪►]\s*`)
	dividerRe    = regexp.MustCompile(`^\s*[-=_*~#]{3,}\s*$`)
	mdHeaderRe   = regexp.MustCompile(`^\s*#{1,6}\s`)
	mdLinkRe     = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)]+)\)`)
	defaultScore = 50
)

// DescriptionExtractor parses listed products and links out of a video
// description. Structured descriptions (link lists, numbered gear lists) are
// handled by the line scanner; prose falls back to the recognizer.
type DescriptionExtractor struct {
	rec recognizer.Recognizer
}

func NewDescriptionExtractor(rec recognizer.Recognizer) *DescriptionExtractor {
	return &DescriptionExtractor{rec: rec}
}

// Extract returns the products mentioned in the description plus every
// purchase link mined from it. It never fails hard: recognizer errors on the
// fallback path degrade to whatever the structural parse found.
func (e *DescriptionExtractor) Extract(ctx context.Context, description string) ([]product.ExtractedProduct, []product.ProductLink) {
	products, links, structured := ParseDescription(description)
	if structured {
		log.Printf("[EXTRACT] Description parsed structurally: %d products, %d links", len(products), len(links))
		return products, links
	}

	if e.rec == nil || strings.TrimSpace(description) == "" {
		return nil, links
	}

	extracted, err := e.rec.ExtractFromText(ctx, recognizer.TextExtractRequest{
		Text:       description,
		Kind:       "description",
		KnownLinks: links,
	})
	if err != nil {
		log.Printf("[EXTRACT] Description LLM fallback failed: %v", err)
		return nil, links
	}

	log.Printf("[EXTRACT] Description LLM fallback extracted %d products", len(extracted))
	return extracted, links
}

// ParseDescription is the structural first pass: it skips section headers,
// classifies product-shaped lines, and strips markers down to bare names.
// structured is true only when at least structuredThreshold product lines
// exist.
func ParseDescription(description string) (products []product.ExtractedProduct, links []product.ProductLink, structured bool) {
	for _, rawLine := range strings.Split(description, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || isSectionHeader(line) {
			continue
		}

		lineLinks := mineLinks(line)
		links = append(links, lineLinks...)

		if !isProductLine(line) {
			continue
		}

		name := stripMarkers(line)
		if name == "" {
			continue
		}

		p := product.ExtractedProduct{
			Name:      name,
			HeroScore: defaultScore,
			Links:     lineLinks,
		}
		products = append(products, p)
	}

	if len(products) < structuredThreshold {
		return nil, links, false
	}
	return products, links, true
}

func isSectionHeader(line string) bool {
	if dividerRe.MatchString(line) || mdHeaderRe.MatchString(line) {
		return true
	}
	if isAllCaps(line) {
		return true
	}
	r := []rune(line)[0]
	return r > unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			letters++
		}
	}
	return letters >= 4
}

func isProductLine(line string) bool {
	return timestampRe.MatchString(line) ||
		urlRe.MatchString(line) ||
		numberingRe.MatchString(line) ||
		bulletRe.MatchString(line)
}

// stripMarkers removes numbering, bullets, timestamps, URLs and markdown
// syntax, leaving the bare product name.
func stripMarkers(line string) string {
	line = mdLinkRe.ReplaceAllString(line, "$1")
	// Timestamps first: "0:45 Product" must not lose "0:" to the
	// numbering pattern.
	line = timestampRe.ReplaceAllString(line, "")
	line = numberingRe.ReplaceAllString(line, "")
	line = bulletRe.ReplaceAllString(line, "")
	line = urlRe.ReplaceAllString(line, "")
	line = strings.Trim(line, " \t-–—:|·")
	return strings.Join(strings.Fields(line), " ")
}

func mineLinks(line string) []product.ProductLink {
	var links []product.ProductLink

	for _, m := range mdLinkRe.FindAllStringSubmatch(line, -1) {
		links = append(links, product.ProductLink{URL: m[2], Label: strings.TrimSpace(m[1])})
	}

	stripped := mdLinkRe.ReplaceAllString(line, "")
	label := stripMarkers(stripped)
	for _, raw := range urlRe.FindAllString(stripped, -1) {
		url := strings.TrimRight(raw, ".,;:)")
		links = append(links, product.ProductLink{URL: url, Label: label})
	}

	return links
}
