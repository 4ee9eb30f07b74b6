package session

import (
	"context"
	"sync"
	"time"

	"github.com/shoplens/shoplens/internal/product"
	"github.com/shoplens/shoplens/internal/recognizer"
)

// Mode distinguishes a single-image session from a bulk batch.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeBulk   Mode = "bulk"
)

// Update is one typed event on a session's stream.
type Update struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Stream event types. Every run emits zero or more progress events followed
// by exactly one terminal event (complete, error, or cancelled).
const (
	UpdateState            = "state"
	UpdateObjects          = "objects"
	UpdateCandidates       = "candidates"
	UpdateProductCompleted = "product_completed"
	UpdateComplete         = "complete"
	UpdateError            = "error"
	UpdateCancelled        = "cancelled"
)

// ProductCandidate is an identified product awaiting user confirmation,
// annotated with its confidence routing decision.
type ProductCandidate struct {
	recognizer.IdentifiedProduct
	ObjectID         string `json:"object_id"`
	SourceImageIndex int    `json:"source_image_index"`
	Route            Route  `json:"route"`
}

// ValidatedProduct is the terminal record for one identification. Immutable
// once emitted, except that the user may skip it out of the final list.
type ValidatedProduct struct {
	recognizer.IdentifiedProduct
	Validation       recognizer.ValidationResult `json:"validation"`
	FinalConfidence  int                         `json:"final_confidence"`
	Links            []product.ProductLink       `json:"links,omitempty"`
	ProductImage     string                      `json:"product_image,omitempty"`
	FunFacts         []string                    `json:"fun_facts,omitempty"`
	Price            string                      `json:"price,omitempty"`
	Specs            map[string]string           `json:"specs,omitempty"`
	EnrichmentFailed bool                        `json:"enrichment_failed,omitempty"`
}

// ObjectValidation carries the user's decisions at the object checkpoint.
type ObjectValidation struct {
	SelectedIDs   []string       `json:"selected_ids"`
	Correction    string         `json:"correction,omitempty"`
	ManualObjects []ManualObject `json:"manual_objects,omitempty"`
	CategoryHints []string       `json:"category_hints,omitempty"`
}

// ManualObject is an object the user adds by hand when detection missed it.
type ManualObject struct {
	ObjectType      string `json:"object_type"`
	ProductCategory string `json:"product_category,omitempty"`
	Note            string `json:"note,omitempty"`
}

// ProductCorrection is a user fix applied at the product checkpoint.
type ProductCorrection struct {
	ProductID      string `json:"product_id"`
	CorrectionType string `json:"correction_type"`
	CorrectedValue string `json:"corrected_value"`
}

// ProductConfirmation carries the user's decisions at the product checkpoint.
type ProductConfirmation struct {
	ProductIDs         []string            `json:"product_ids"`
	Corrections        []ProductCorrection `json:"corrections,omitempty"`
	AlternativeChoices map[string]int      `json:"alternative_choices,omitempty"`
}

// Snapshot is a point-in-time view of a session, for reconnecting clients.
type Snapshot struct {
	ID              string                      `json:"id"`
	Mode            Mode                        `json:"mode"`
	State           State                       `json:"state"`
	Objects         []recognizer.DetectedObject `json:"objects,omitempty"`
	FailedImages    []int                       `json:"failed_images,omitempty"`
	Candidates      []ProductCandidate          `json:"candidates,omitempty"`
	Validated       []ValidatedProduct          `json:"validated,omitempty"`
	ErrorMessage    string                      `json:"error_message,omitempty"`
	RecoveryOptions []string                    `json:"recovery_options,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	CompletedAt     *time.Time                  `json:"completed_at,omitempty"`
}

// Session is one identification run. Single-threaded and cooperative: no two
// checkpoints are ever concurrently awaiting, and all pipeline work happens
// on one goroutine at a time.
type Session struct {
	ID        string
	Mode      Mode
	CreatedAt time.Time

	Updates chan Update

	mu              sync.Mutex
	state           State
	generation      uint64
	images          [][]byte
	hint            string
	categoryHints   []string
	objects         []recognizer.DetectedObject
	failedImages    []int
	candidates      []ProductCandidate
	validated       []ValidatedProduct
	errorMessage    string
	recoveryOptions []string
	completedAt     *time.Time
	cancelled       bool
	ctx             context.Context
	cancel          context.CancelFunc
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition applies the pure transition function under the session lock.
// On an illegal event the state is left unchanged and the error returned.
func (s *Session) transition(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Transition(s.state, e)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// isStale reports whether results produced by run generation gen must be
// discarded: the session was cancelled, or a newer run has started since the
// goroutine captured gen.
func (s *Session) isStale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled || s.generation != gen
}

// Snapshot copies the session's current view for API consumers.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:              s.ID,
		Mode:            s.Mode,
		State:           s.state,
		Objects:         append([]recognizer.DetectedObject(nil), s.objects...),
		FailedImages:    append([]int(nil), s.failedImages...),
		Candidates:      append([]ProductCandidate(nil), s.candidates...),
		Validated:       append([]ValidatedProduct(nil), s.validated...),
		ErrorMessage:    s.errorMessage,
		RecoveryOptions: append([]string(nil), s.recoveryOptions...),
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.completedAt,
	}
	return snap
}
