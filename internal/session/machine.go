package session

import (
	"errors"
	"fmt"
)

// State names a stop on the identification pipeline. States whose name starts
// with "awaiting" are checkpoints: the machine pauses there until an explicit
// user action arrives.
type State string

const (
	StateIdle                      State = "idle"
	StateDetecting                 State = "detecting"
	StateAwaitingObjectValidation  State = "awaiting_object_validation"
	StateIdentifying               State = "identifying"
	StateAwaitingProductValidation State = "awaiting_product_validation"
	StateEnriching                 State = "enriching"
	StateValidating                State = "validating"
	StateComplete                  State = "complete"
	StateError                     State = "error"
)

// Event is an input to the transition function: either an explicit user
// action (detect, validate_objects, confirm_products) or an automatic
// completion signal from the pipeline.
type Event string

const (
	EventDetect          Event = "detect"
	EventDetected        Event = "detected"
	EventValidateObjects Event = "validate_objects"
	EventIdentified      Event = "identified"
	EventConfirmProducts Event = "confirm_products"
	EventEnriched        Event = "enriched"
	EventValidated       Event = "validated"
	EventFail            Event = "fail"
)

// ErrInvalidTransition is returned when an event is not legal in the current
// state. The caller's state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the complete legal transition table. EventFail is handled
// separately: the error state is reachable from any active state.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventDetect: StateDetecting,
	},
	StateDetecting: {
		EventDetected: StateAwaitingObjectValidation,
	},
	StateAwaitingObjectValidation: {
		EventValidateObjects: StateIdentifying,
	},
	StateIdentifying: {
		EventIdentified: StateAwaitingProductValidation,
	},
	StateAwaitingProductValidation: {
		EventConfirmProducts: StateEnriching,
	},
	StateEnriching: {
		EventEnriched: StateValidating,
	},
	StateValidating: {
		EventValidated: StateComplete,
	},
	// Complete is not terminal in bulk mode: another pass re-enters
	// detection and accumulates onto the confirmed list.
	StateComplete: {
		EventDetect: StateDetecting,
	},
	// Retry from source replays the original input through detection.
	StateError: {
		EventDetect: StateDetecting,
	},
}

// Transition is the pure transition function. It has no side effects and no
// knowledge of sessions; illegal events return ErrInvalidTransition and the
// caller keeps its current state.
func Transition(s State, e Event) (State, error) {
	if e == EventFail {
		if s == StateError {
			return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
		}
		return StateError, nil
	}

	next, ok := transitions[s][e]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
	}
	return next, nil
}
