package session

// Confidence band boundaries. 80 and above is trusted enough to pre-select;
// below 50 alternatives are surfaced by default.
const (
	highConfidenceFloor   = 80
	mediumConfidenceFloor = 50
)

// Level is a trust tier derived from a numeric confidence score.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Route is the routing decision for one result. Routing never blocks
// progress: it changes default selection state and messaging only, since the
// user remains the final authority at every checkpoint.
type Route struct {
	Level               Level  `json:"level"`
	Preselected         bool   `json:"preselected"`
	SurfaceAlternatives bool   `json:"surface_alternatives"`
	Message             string `json:"message,omitempty"`
}

// RouteConfidence maps a 0-100 confidence score to its trust tier.
func RouteConfidence(confidence int) Route {
	switch {
	case confidence >= highConfidenceFloor:
		return Route{
			Level:       LevelHigh,
			Preselected: true,
		}
	case confidence >= mediumConfidenceFloor:
		return Route{
			Level:   LevelMedium,
			Message: "This match looks plausible but is not certain. Double-check the model and year.",
		}
	default:
		return Route{
			Level:               LevelLow,
			SurfaceAlternatives: true,
			Message:             "Low confidence match. Review the alternatives before confirming.",
		}
	}
}
