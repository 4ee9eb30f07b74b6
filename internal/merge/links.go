package merge

import (
	"log"
	"net/url"
	"strings"

	"github.com/shoplens/shoplens/internal/product"
)

// minAttachScore is the floor below which a link is dropped rather than
// force-attached to the closest product.
const minAttachScore = 30

// PairLinks associates mined purchase links with merged products using
// textual similarity. Each link attaches to at most one product (the highest
// scorer at or above the floor); a product may collect multiple links.
func PairLinks(products []product.ProductWithSources, links []product.ProductLink) []product.ProductWithSources {
	for _, link := range links {
		hint := linkHint(link)
		if hint == "" {
			continue
		}

		bestIdx := -1
		bestScore := 0
		for i := range products {
			score := scoreLink(hint, &products[i])
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx >= 0 && bestScore >= minAttachScore {
			p := &products[bestIdx]
			if !containsLink(p.Links, link.URL) {
				p.Links = append(p.Links, link)
			}
		} else {
			log.Printf("[MERGE] Dropping unmatched link %s (best score %d)", link.URL, bestScore)
		}
	}
	return products
}

// linkHint derives the lowercase text a link is matched on: its label when
// present, otherwise the last path segment of the URL with separators spaced.
func linkHint(link product.ProductLink) string {
	if label := normalize(link.Label); label != "" {
		return label
	}
	u, err := url.Parse(link.URL)
	if err != nil {
		return ""
	}
	segment := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	segment = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(segment)
	return normalize(segment)
}

func scoreLink(hint string, p *product.ProductWithSources) int {
	name := normalize(p.Name)
	brand := normalize(p.Brand)
	full := strings.TrimSpace(brand + " " + name)

	if full != "" && strings.Contains(hint, full) {
		return 100
	}
	if name != "" && strings.Contains(hint, name) {
		return 80
	}
	if len(hint) >= fuzzyMinLen && strings.Contains(name, hint) {
		return 60
	}
	if brand != "" && strings.Contains(hint, brand) {
		if shared := sharedWords(hint, name); shared > 0 {
			return 50 + 10*shared
		}
		return 30
	}
	if cat := normalize(p.Category); cat != "" && strings.Contains(hint, cat) {
		return 20
	}
	return 0
}

func sharedWords(hint, name string) int {
	hintWords := make(map[string]bool)
	for _, w := range strings.Fields(hint) {
		hintWords[w] = true
	}
	shared := 0
	for _, w := range strings.Fields(name) {
		if hintWords[w] {
			shared++
		}
	}
	return shared
}
