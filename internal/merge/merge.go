package merge

import (
	"log"
	"sort"

	"github.com/shoplens/shoplens/internal/product"
)

// Per-source trust levels. Description text is typically the most structured
// channel, so it seeds entries at the highest base confidence. Transcript
// mentions free-form their wording; frame evidence is weakest since an object
// merely visible, never discussed, may be background clutter.
const (
	descriptionBase = 50
	transcriptBase  = 40
	frameBase       = 30

	transcriptBoost = 25
	frameBoost      = 20

	maxConfidence = 100
)

// Merge reconciles the three extractors' outputs into one ranked list.
// Corroboration across channels is the strongest trust signal: the output is
// ordered by source count first, confidence second, hero score third.
func Merge(description, transcript, frames []product.ExtractedProduct) []product.ProductWithSources {
	merged := make([]*product.ProductWithSources, 0, len(description)+len(transcript)+len(frames))

	for i := range description {
		p := &description[i]
		if existing := findSimilar(merged, p); existing != nil {
			// Duplicate within the description itself: fold it in without
			// another confidence boost, the channel only counts once.
			absorb(existing, p)
			continue
		}
		entry := &product.ProductWithSources{
			ExtractedProduct: *p,
			Sources:          []product.Source{product.SourceDescription},
			Confidence:       descriptionBase,
		}
		merged = append(merged, entry)
	}

	mergeSource(&merged, transcript, product.SourceTranscript, transcriptBase, transcriptBoost)
	mergeSource(&merged, frames, product.SourceFrame, frameBase, frameBoost)

	sort.SliceStable(merged, func(i, j int) bool {
		if len(merged[i].Sources) != len(merged[j].Sources) {
			return len(merged[i].Sources) > len(merged[j].Sources)
		}
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].HeroScore > merged[j].HeroScore
	})

	out := make([]product.ProductWithSources, len(merged))
	for i, m := range merged {
		out[i] = *m
	}

	log.Printf("[MERGE] Merged %d description + %d transcript + %d frame mentions into %d products",
		len(description), len(transcript), len(frames), len(out))

	return out
}

func mergeSource(merged *[]*product.ProductWithSources, mentions []product.ExtractedProduct, src product.Source, base, boost int) {
	for i := range mentions {
		p := &mentions[i]
		existing := findSimilar(*merged, p)
		if existing == nil {
			entry := &product.ProductWithSources{
				ExtractedProduct: *p,
				Sources:          []product.Source{src},
				Confidence:       base,
			}
			attachContext(entry, p, src)
			*merged = append(*merged, entry)
			continue
		}

		if !existing.HasSource(src) {
			existing.Sources = append(existing.Sources, src)
			existing.Confidence += boost
			if existing.Confidence > maxConfidence {
				existing.Confidence = maxConfidence
			}
		}
		absorb(existing, p)
		attachContext(existing, p, src)
	}
}

// absorb folds a matching mention into an existing entry: keep the higher
// hero score, union story signals and links.
func absorb(entry *product.ProductWithSources, p *product.ExtractedProduct) {
	if p.HeroScore > entry.HeroScore {
		entry.HeroScore = p.HeroScore
	}
	if entry.Brand == "" {
		entry.Brand = p.Brand
	}
	if entry.Category == "" {
		entry.Category = p.Category
	}
	for _, sig := range p.StorySignals {
		if !containsString(entry.StorySignals, sig) {
			entry.StorySignals = append(entry.StorySignals, sig)
		}
	}
	for _, link := range p.Links {
		if !containsLink(entry.Links, link.URL) {
			entry.Links = append(entry.Links, link)
		}
	}
}

func attachContext(entry *product.ProductWithSources, p *product.ExtractedProduct, src product.Source) {
	switch src {
	case product.SourceTranscript:
		if entry.TranscriptContext == "" {
			entry.TranscriptContext = p.Context
		}
		if entry.TimestampSec == 0 {
			entry.TimestampSec = p.TimestampSec
		}
	case product.SourceFrame:
		if entry.VisualDescription == "" {
			entry.VisualDescription = p.Context
		}
	}
}

func findSimilar(merged []*product.ProductWithSources, p *product.ExtractedProduct) *product.ProductWithSources {
	for _, m := range merged {
		if Similar(m.Brand, m.Name, p.Brand, p.Name) {
			return m
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsLink(links []product.ProductLink, url string) bool {
	for _, l := range links {
		if l.URL == url {
			return true
		}
	}
	return false
}
