package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shoplens/shoplens/internal/corrections"
	"github.com/shoplens/shoplens/internal/recognizer"
)

var ErrSessionNotFound = errors.New("session not found")

const updatesBuffer = 256

var defaultRecoveryOptions = []string{"Try again", "Add manually"}

// Config tunes the session service.
type Config struct {
	// MaxDetectWorkers bounds per-image detection parallelism in bulk mode,
	// sized to stay under upstream rate limits.
	MaxDetectWorkers int64
}

// Service owns all live identification sessions and drives each one through
// the checkpoint state machine. One logical session is single-threaded and
// cooperative: pipeline phases run on one goroutine at a time, and user
// actions advance the machine between them.
type Service struct {
	rec              recognizer.Recognizer
	store            *corrections.Store
	maxDetectWorkers int64

	sessions   map[string]*Session
	sessionsMu sync.RWMutex
}

func NewService(rec recognizer.Recognizer, store *corrections.Store, config Config) *Service {
	if config.MaxDetectWorkers <= 0 {
		config.MaxDetectWorkers = 4
	}
	return &Service{
		rec:              rec,
		store:            store,
		maxDetectWorkers: config.MaxDetectWorkers,
		sessions:         make(map[string]*Session),
	}
}

// Start creates a session for one or more images and begins detection.
func (s *Service) Start(images [][]byte, hint string) (*Session, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("at least one image is required")
	}

	mode := ModeSingle
	if len(images) > 1 {
		mode = ModeBulk
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:        uuid.New().String(),
		Mode:      mode,
		CreatedAt: time.Now(),
		Updates:   make(chan Update, updatesBuffer),
		state:     StateIdle,
		images:    images,
		hint:      hint,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := sess.transition(EventDetect); err != nil {
		cancel()
		return nil, err
	}

	s.sessionsMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessionsMu.Unlock()

	log.Printf("[SESSION] Started %s session %s with %d image(s)", mode, sess.ID, len(images))

	go s.runDetection(ctx, sess, sess.generation)

	return sess, nil
}

// Get returns a live session by ID.
func (s *Service) Get(sessionID string) (*Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// NextPass re-enters detection from complete with a fresh batch, accumulating
// confirmed items across passes.
func (s *Service) NextPass(sessionID string, images [][]byte, hint string) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if len(images) == 0 {
		return fmt.Errorf("at least one image is required")
	}

	sess.mu.Lock()
	next, err := Transition(sess.state, EventDetect)
	if err != nil {
		sess.mu.Unlock()
		return err
	}
	sess.state = next
	sess.images = images
	sess.hint = hint
	sess.objects = nil
	sess.failedImages = nil
	sess.candidates = nil
	ctx, cancel := context.WithCancel(context.Background())
	sess.ctx, sess.cancel = ctx, cancel
	sess.cancelled = false
	// New generation: anything still in flight from before the restart is
	// stale and must not apply its results.
	sess.generation++
	gen := sess.generation
	sess.mu.Unlock()

	go s.runDetection(ctx, sess, gen)
	return nil
}

// Retry replays the session's original input through detection after an
// unrecoverable failure.
func (s *Service) Retry(sessionID string) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	next, err := Transition(sess.state, EventDetect)
	if err != nil {
		sess.mu.Unlock()
		return err
	}
	sess.state = next
	sess.errorMessage = ""
	sess.recoveryOptions = nil
	sess.objects = nil
	sess.failedImages = nil
	sess.candidates = nil
	ctx, cancel := context.WithCancel(context.Background())
	sess.ctx, sess.cancel = ctx, cancel
	sess.cancelled = false
	sess.generation++
	gen := sess.generation
	sess.mu.Unlock()

	go s.runDetection(ctx, sess, gen)
	return nil
}

// runDetection fans per-image detection out across a bounded worker pool and
// waits for the whole batch. One image failing marks its slot failed and
// excludes it from the validation set; it never aborts the batch.
func (s *Service) runDetection(ctx context.Context, sess *Session, gen uint64) {
	s.emit(sess, Update{Type: UpdateState, Data: map[string]interface{}{"state": StateDetecting}})

	sess.mu.Lock()
	images := sess.images
	hint := sess.hint
	sess.mu.Unlock()

	perImage := make([][]recognizer.DetectedObject, len(images))
	failures := make([]error, len(images))

	sem := semaphore.NewWeighted(s.maxDetectWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range images {
		if err := sem.Acquire(gctx, 1); err != nil {
			failures[i] = err
			continue
		}
		i := i
		g.Go(func() error {
			defer sem.Release(1)
			objects, err := s.rec.DetectObjects(gctx, images[i], hint)
			if err != nil {
				log.Printf("[SESSION] Detection failed for image %d in session %s: %v", i, sess.ID, err)
				failures[i] = err
				return nil
			}
			for j := range objects {
				objects[j].SourceImageIndex = i
				objects[j].Selected = objects[j].Certainty != recognizer.CertaintyUncertain
			}
			perImage[i] = objects
			return nil
		})
	}
	_ = g.Wait()

	if sess.isStale(gen) {
		log.Printf("[SESSION] Discarding stale detection results for session %s", sess.ID)
		return
	}

	var objects []recognizer.DetectedObject
	var failed []int
	for i := range images {
		if failures[i] != nil {
			// Auth and bad-input failures do not heal on retry: surface them
			// as an unrecoverable pipeline error instead of a failed slot.
			if errors.Is(failures[i], recognizer.ErrAuth) || errors.Is(failures[i], recognizer.ErrBadInput) {
				s.fail(sess, gen, fmt.Sprintf("Detection failed: %v", failures[i]))
				return
			}
			failed = append(failed, i)
			continue
		}
		objects = append(objects, perImage[i]...)
	}

	sess.mu.Lock()
	// Re-check under the lock: a cancel or restart between the check above and
	// here must still win over this batch.
	if sess.cancelled || sess.generation != gen {
		sess.mu.Unlock()
		log.Printf("[SESSION] Discarding stale detection results for session %s", sess.ID)
		return
	}
	sess.objects = objects
	sess.failedImages = failed
	next, err := Transition(sess.state, EventDetected)
	if err != nil {
		sess.mu.Unlock()
		log.Printf("[SESSION] Dropping detection results for session %s: %v", sess.ID, err)
		return
	}
	sess.state = next
	sess.mu.Unlock()

	// Empty results still surface to the user; the checkpoint is reached
	// either way and never silently ends the session.
	s.emit(sess, Update{Type: UpdateObjects, Data: map[string]interface{}{
		"objects":       objects,
		"failed_images": failed,
	}})
	log.Printf("[SESSION] Session %s detected %d object(s), %d failed image(s)", sess.ID, len(objects), len(failed))
}

// ValidateObjects is the explicit user action at the object checkpoint. Any
// state other than awaiting_object_validation rejects the call and the
// session is left unchanged.
func (s *Service) ValidateObjects(sessionID string, v ObjectValidation) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	next, err := Transition(sess.state, EventValidateObjects)
	if err != nil {
		sess.mu.Unlock()
		return err
	}
	sess.state = next

	selected := make(map[string]bool, len(v.SelectedIDs))
	for _, id := range v.SelectedIDs {
		selected[id] = true
	}
	var toIdentify []recognizer.DetectedObject
	for i := range sess.objects {
		sess.objects[i].Selected = selected[sess.objects[i].ID]
		if sess.objects[i].Selected {
			if v.Correction != "" {
				sess.objects[i].UserCorrection = v.Correction
			}
			toIdentify = append(toIdentify, sess.objects[i])
		}
	}
	for _, m := range v.ManualObjects {
		obj := recognizer.DetectedObject{
			ID:                  uuid.New().String(),
			ObjectType:          m.ObjectType,
			ProductCategory:     m.ProductCategory,
			Certainty:           recognizer.CertaintyDefinite,
			BoundingDescription: m.Note,
			SourceImageIndex:    -1,
			Selected:            true,
		}
		sess.objects = append(sess.objects, obj)
		toIdentify = append(toIdentify, obj)
	}
	sess.categoryHints = v.CategoryHints
	images := sess.images
	gen := sess.generation
	sess.mu.Unlock()

	if v.Correction != "" {
		for _, obj := range toIdentify {
			s.store.SaveBestEffort(context.Background(), corrections.Correction{
				InputType:      corrections.InputText,
				InputValue:     objectDescriptor(obj),
				Stage:          "object_validation",
				ProductID:      obj.ID,
				CorrectionType: "object",
				OriginalValue:  obj.ObjectType,
				CorrectedValue: v.Correction,
			})
		}
	}

	ctx := sessionContext(sess)
	go s.runIdentification(ctx, sess, toIdentify, images, v.CategoryHints, gen)
	return nil
}

func (s *Service) runIdentification(ctx context.Context, sess *Session, objects []recognizer.DetectedObject, images [][]byte, hints []string, gen uint64) {
	s.emit(sess, Update{Type: UpdateState, Data: map[string]interface{}{"state": StateIdentifying}})

	var candidates []ProductCandidate
	var lastErr error

	for _, obj := range objects {
		if sess.isStale(gen) {
			log.Printf("[SESSION] Discarding stale identification results for session %s", sess.ID)
			return
		}

		// An in-session correction already covers this object; the store is a
		// fallback for sessions where the user supplied none.
		correction := obj.UserCorrection
		if correction == "" {
			stored, err := s.store.Lookup(ctx, corrections.InputText, objectDescriptor(obj))
			if err != nil {
				log.Printf("[SESSION] Correction lookup failed: %v", err)
			} else if stored != nil {
				log.Printf("[SESSION] Reusing stored correction for %q", objectDescriptor(obj))
				correction = stored.CorrectedValue
			}
		}

		var image []byte
		if obj.SourceImageIndex >= 0 && obj.SourceImageIndex < len(images) {
			image = images[obj.SourceImageIndex]
		}

		products, err := s.rec.IdentifyProduct(ctx, recognizer.IdentifyRequest{
			Object:        obj,
			Image:         image,
			Correction:    correction,
			CategoryHints: hints,
		})
		if err != nil {
			if errors.Is(err, recognizer.ErrAuth) || errors.Is(err, recognizer.ErrBadInput) {
				s.fail(sess, gen, fmt.Sprintf("Identification failed: %v", err))
				return
			}
			log.Printf("[SESSION] Identification failed for object %s: %v", obj.ID, err)
			lastErr = err
			continue
		}
		if len(products) == 0 {
			continue
		}

		// The top-ranked guess becomes the candidate; the rest fold into its
		// alternatives unless the model supplied its own.
		top := products[0]
		if len(top.Alternatives) == 0 {
			for _, alt := range products[1:] {
				top.Alternatives = append(top.Alternatives, recognizer.ProductAlternative{
					Name:       alt.Name,
					Brand:      alt.Brand,
					ModelYear:  alt.ModelYear,
					Confidence: alt.Confidence,
				})
			}
		}
		if correction != "" {
			top.UserCorrectionApplied = true
		}

		candidates = append(candidates, ProductCandidate{
			IdentifiedProduct: top,
			ObjectID:          obj.ID,
			SourceImageIndex:  obj.SourceImageIndex,
			Route:             RouteConfidence(top.Confidence),
		})
	}

	if len(candidates) == 0 && lastErr != nil {
		s.fail(sess, gen, fmt.Sprintf("Identification failed: %v", lastErr))
		return
	}

	sess.mu.Lock()
	if sess.cancelled || sess.generation != gen {
		sess.mu.Unlock()
		log.Printf("[SESSION] Discarding stale identification results for session %s", sess.ID)
		return
	}
	sess.candidates = candidates
	next, err := Transition(sess.state, EventIdentified)
	if err != nil {
		sess.mu.Unlock()
		log.Printf("[SESSION] Dropping identification results for session %s: %v", sess.ID, err)
		return
	}
	sess.state = next
	sess.mu.Unlock()

	s.emit(sess, Update{Type: UpdateCandidates, Data: map[string]interface{}{"candidates": candidates}})
	log.Printf("[SESSION] Session %s identified %d candidate(s)", sess.ID, len(candidates))
}

// ConfirmProducts is the explicit user action at the product checkpoint.
// Confidence never auto-finalizes a product: even pre-selected candidates
// pass through here.
func (s *Service) ConfirmProducts(sessionID string, c ProductConfirmation) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	next, err := Transition(sess.state, EventConfirmProducts)
	if err != nil {
		sess.mu.Unlock()
		return err
	}
	sess.state = next

	confirmedIDs := make(map[string]bool, len(c.ProductIDs))
	for _, id := range c.ProductIDs {
		confirmedIDs[id] = true
	}

	var confirmed []ProductCandidate
	for i := range sess.candidates {
		cand := &sess.candidates[i]

		if altIdx, ok := c.AlternativeChoices[cand.ID]; ok {
			replaceWithAlternative(cand, altIdx)
		}
		for _, corr := range c.Corrections {
			if corr.ProductID == cand.ID {
				original := applyCorrection(cand, corr)
				s.store.SaveBestEffort(context.Background(), corrections.Correction{
					InputType:      corrections.InputText,
					InputValue:     original,
					Stage:          "product_validation",
					ProductID:      cand.ID,
					CorrectionType: corr.CorrectionType,
					OriginalValue:  original,
					CorrectedValue: corr.CorrectedValue,
				})
			}
		}

		if confirmedIDs[cand.ID] {
			cand.ConfirmedByUser = true
			confirmed = append(confirmed, *cand)
		}
	}
	images := sess.images
	gen := sess.generation
	sess.mu.Unlock()

	ctx := sessionContext(sess)
	go s.runEnrichment(ctx, sess, confirmed, images, gen)
	return nil
}

// runEnrichment streams per-product enrichment progress, then cross-validates
// the batch and completes the session. Individual failures mark their item
// and never fail the batch: complete always carries the full list.
func (s *Service) runEnrichment(ctx context.Context, sess *Session, confirmed []ProductCandidate, images [][]byte, gen uint64) {
	s.emit(sess, Update{Type: UpdateState, Data: map[string]interface{}{"state": StateEnriching}})

	total := len(confirmed)
	results := make([]ValidatedProduct, 0, total)

	for i, cand := range confirmed {
		if sess.isStale(gen) {
			log.Printf("[SESSION] Discarding stale enrichment results for session %s", sess.ID)
			return
		}

		vp := ValidatedProduct{
			IdentifiedProduct: cand.IdentifiedProduct,
			FinalConfidence:   cand.Confidence,
		}

		enrichment, err := s.rec.EnrichProduct(ctx, cand.IdentifiedProduct)
		if err != nil {
			log.Printf("[SESSION] Enrichment failed for %q in session %s: %v", cand.Name, sess.ID, err)
			vp.EnrichmentFailed = true
		} else {
			vp.Links = enrichment.Links
			vp.Specs = enrichment.Specs
			vp.Price = enrichment.Price
			vp.ProductImage = enrichment.ProductImage
			vp.FunFacts = enrichment.FunFacts
		}

		results = append(results, vp)
		s.emit(sess, Update{Type: UpdateProductCompleted, Data: map[string]interface{}{
			"index":     i,
			"completed": i + 1,
			"total":     total,
			"result":    vp,
		}})
	}

	sess.mu.Lock()
	if sess.cancelled || sess.generation != gen {
		sess.mu.Unlock()
		log.Printf("[SESSION] Discarding stale enrichment results for session %s", sess.ID)
		return
	}
	next, err := Transition(sess.state, EventEnriched)
	if err != nil {
		sess.mu.Unlock()
		log.Printf("[SESSION] Dropping enrichment results for session %s: %v", sess.ID, err)
		return
	}
	sess.state = next
	sess.mu.Unlock()
	s.emit(sess, Update{Type: UpdateState, Data: map[string]interface{}{"state": StateValidating}})

	for i := range results {
		if sess.isStale(gen) {
			log.Printf("[SESSION] Discarding stale validation results for session %s", sess.ID)
			return
		}

		var image []byte
		if idx := confirmed[i].SourceImageIndex; idx >= 0 && idx < len(images) {
			image = images[idx]
		}
		if image == nil {
			results[i].Validation = recognizer.ValidationResult{Recommendation: recognizer.RecommendationUncertain}
			continue
		}

		validation, err := s.rec.ValidateProductMatch(ctx, results[i].IdentifiedProduct, image)
		if err != nil {
			log.Printf("[SESSION] Cross-validation failed for %q in session %s: %v", results[i].Name, sess.ID, err)
			validation = recognizer.ValidationResult{Recommendation: recognizer.RecommendationUncertain}
		}
		results[i].Validation = validation
		results[i].FinalConfidence = finalConfidence(results[i].Confidence, validation.Recommendation)
	}

	now := time.Now()
	sess.mu.Lock()
	if sess.cancelled || sess.generation != gen {
		sess.mu.Unlock()
		log.Printf("[SESSION] Discarding stale validation results for session %s", sess.ID)
		return
	}
	sess.validated = append(sess.validated, results...)
	sess.completedAt = &now
	all := append([]ValidatedProduct(nil), sess.validated...)
	next, err = Transition(sess.state, EventValidated)
	if err != nil {
		sess.mu.Unlock()
		log.Printf("[SESSION] Dropping validation results for session %s: %v", sess.ID, err)
		return
	}
	sess.state = next
	sess.mu.Unlock()

	s.emit(sess, Update{Type: UpdateComplete, Data: map[string]interface{}{"products": all}})
	log.Printf("[SESSION] Session %s complete with %d validated product(s)", sess.ID, len(all))
}

// SkipItem removes a product from the final list. Valid only at complete; it
// is an edit of the result, not a state transition.
func (s *Service) SkipItem(sessionID, productID string) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != StateComplete {
		return fmt.Errorf("%w: skip on %s", ErrInvalidTransition, sess.state)
	}

	for i := range sess.validated {
		if sess.validated[i].ID == productID {
			sess.validated = append(sess.validated[:i], sess.validated[i+1:]...)
			log.Printf("[SESSION] Skipped product %s in session %s", productID, sess.ID)
			return nil
		}
	}
	return fmt.Errorf("product %s not found in session %s", productID, sessionID)
}

// Cancel is a side-channel abort: a hard reset to idle that discards all
// session state. In-flight work is not killed; its results are discarded on
// receipt.
func (s *Service) Cancel(sessionID string) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	sess.cancelled = true
	sess.generation++
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.state = StateIdle
	sess.images = nil
	sess.objects = nil
	sess.failedImages = nil
	sess.candidates = nil
	sess.validated = nil
	sess.errorMessage = ""
	sess.recoveryOptions = nil
	sess.completedAt = nil
	sess.mu.Unlock()

	s.emit(sess, Update{Type: UpdateCancelled, Data: map[string]interface{}{
		"message": "Session cancelled",
	}})
	log.Printf("[SESSION] Cancelled session %s", sessionID)
	return nil
}

func (s *Service) fail(sess *Session, gen uint64, message string) {
	sess.mu.Lock()
	// A stale batch must not error a run it no longer belongs to.
	if sess.cancelled || sess.generation != gen {
		sess.mu.Unlock()
		return
	}
	next, err := Transition(sess.state, EventFail)
	if err != nil {
		sess.mu.Unlock()
		return
	}
	sess.state = next
	sess.errorMessage = message
	sess.recoveryOptions = append([]string(nil), defaultRecoveryOptions...)
	sess.mu.Unlock()

	s.emit(sess, Update{Type: UpdateError, Data: map[string]interface{}{
		"message":          message,
		"recovery_options": defaultRecoveryOptions,
	}})
	log.Printf("[SESSION] Session %s failed: %s", sess.ID, message)
}

// emit delivers an update without ever blocking the pipeline. The buffer is
// sized well beyond any single pass's event count; a full buffer means no
// consumer is draining and the update is dropped with a log line.
func (s *Service) emit(sess *Session, u Update) {
	select {
	case sess.Updates <- u:
	default:
		log.Printf("[SESSION] Dropping %s update for session %s: stream buffer full", u.Type, sess.ID)
	}
}

func sessionContext(sess *Session) context.Context {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ctx != nil {
		return sess.ctx
	}
	return context.Background()
}

func objectDescriptor(obj recognizer.DetectedObject) string {
	return strings.TrimSpace(obj.ObjectType + " " + obj.ProductCategory)
}

func replaceWithAlternative(cand *ProductCandidate, idx int) {
	if idx < 0 || idx >= len(cand.Alternatives) {
		return
	}
	alt := cand.Alternatives[idx]
	cand.Name = alt.Name
	cand.Brand = alt.Brand
	cand.ModelYear = alt.ModelYear
	cand.Confidence = alt.Confidence
	cand.MatchingReasons = alt.DifferentiatingFactors
	cand.UserCorrectionApplied = true
	cand.Route = RouteConfidence(alt.Confidence)
}

func applyCorrection(cand *ProductCandidate, corr ProductCorrection) (original string) {
	original = cand.Name
	switch corr.CorrectionType {
	case "brand":
		original = cand.Brand
		cand.Brand = corr.CorrectedValue
	case "model_year":
		original = cand.ModelYear
		cand.ModelYear = corr.CorrectedValue
	default:
		cand.Name = corr.CorrectedValue
	}
	cand.UserCorrectionApplied = true
	return original
}

func finalConfidence(confidence int, rec recognizer.ValidationRecommendation) int {
	switch rec {
	case recognizer.RecommendationConfirmed:
		confidence += 10
	case recognizer.RecommendationUncertain:
		confidence -= 10
	case recognizer.RecommendationMismatch:
		confidence -= 30
	}
	if confidence > 100 {
		return 100
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}
