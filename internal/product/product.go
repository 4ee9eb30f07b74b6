package product

// Source names an evidence channel a product was detected through.
type Source string

const (
	SourceDescription Source = "description"
	SourceTranscript  Source = "transcript"
	SourceFrame       Source = "frame"
)

// ProductLink is a purchase or affiliate link mined from text.
type ProductLink struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// ExtractedProduct is a single product mention as reported by one extractor.
type ExtractedProduct struct {
	Name         string        `json:"name"`
	Brand        string        `json:"brand,omitempty"`
	Category     string        `json:"category,omitempty"`
	HeroScore    int           `json:"hero_score"`
	StorySignals []string      `json:"story_signals,omitempty"`
	Context      string        `json:"context,omitempty"`
	TimestampSec int           `json:"timestamp_sec,omitempty"`
	Links        []ProductLink `json:"links,omitempty"`
}

// ProductWithSources is a merged product record. Its identity is derived by
// the merge engine: mentions from different channels that are judged to be
// the same product collapse into one record.
type ProductWithSources struct {
	ExtractedProduct
	Sources           []Source `json:"sources"`
	Confidence        int      `json:"confidence"`
	TranscriptContext string   `json:"transcript_context,omitempty"`
	VisualDescription string   `json:"visual_description,omitempty"`
}

// HasSource reports whether the record already carries evidence from src.
func (p *ProductWithSources) HasSource(src Source) bool {
	for _, s := range p.Sources {
		if s == src {
			return true
		}
	}
	return false
}
