package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"jointly/internal/domain"
)

// Sentinel errors callers branch on.
var (
	// ErrStepIncomplete means the current step's required fields are not
	// satisfied. The transition is refused and the session is unchanged;
	// this is the only signal, mirroring a disabled continue button.
	ErrStepIncomplete = errors.New("step incomplete")
	// ErrAtFirstStep refuses Back from the first step.
	ErrAtFirstStep = errors.New("already at first step")
	// ErrSessionDone refuses every transition out of the terminal step.
	ErrSessionDone = errors.New("session already submitted")
	// ErrNotLastStep refuses Submit from anywhere but the last data-entry
	// step.
	ErrNotLastStep = errors.New("not at final step")
	// ErrMustSubmit refuses Continue from the last data-entry step, which
	// only Submit may leave.
	ErrMustSubmit = errors.New("final step requires submit")
	// ErrNoDefinition means no wizard exists for the (role, category) pair.
	ErrNoDefinition = errors.New("no wizard definition")
)

// Step identifies one screen of an intake flow.
type Step string

const (
	StepBrief        Step = "brief"
	StepProperty     Step = "property"
	StepFAR          Step = "far"
	StepPID          Step = "pid"
	StepIntent       Step = "intent"
	StepVerification Step = "verification"
	StepPreferences  Step = "preferences"
	StepFeasibility  Step = "feasibility"
	StepVisibility   Step = "visibility"
	StepForm         Step = "form"
	StepDone         Step = "done"
)

// Answers is the accumulated field map of a session. Values are the JSON
// scalars and arrays a client sends; the typed getters tolerate absence and
// wrong types by returning zero values.
type Answers map[string]any

// Str returns the string value for key, trimmed of surrounding whitespace.
func (a Answers) Str(key string) string {
	if v, ok := a[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Bool returns the boolean value for key.
func (a Answers) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

// List returns the string slice for key. JSON decoding yields []any, so
// both representations are accepted.
func (a Answers) List(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether key holds a non-blank string, true boolean, or
// non-empty list.
func (a Answers) Has(key string) bool {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case nil:
		return false
	default:
		return true
	}
}

func (a Answers) clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Validator reports whether a step's required fields are satisfied by the
// current answers. Conditional requireds are re-evaluated on every call.
type Validator func(Answers) bool

// Definition is the static shape of one intake flow. Steps end with the
// terminal done step; the step before it is the last data-entry step and the
// only one Submit is accepted from.
type Definition struct {
	Role       domain.Role
	Category   domain.Category
	Steps      []Step
	validators map[Step]Validator
}

// StepNames returns the ordered step identifiers.
func (d *Definition) StepNames() []string {
	out := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		out[i] = string(s)
	}
	return out
}

// lastDataStep is the step immediately before done.
func (d *Definition) lastDataStep() int {
	return len(d.Steps) - 2
}

func (d *Definition) valid(step Step, a Answers) bool {
	v, ok := d.validators[step]
	if !ok {
		return true
	}
	return v(a)
}

// For returns the definition for a (role, category) pair.
func For(role domain.Role, category domain.Category) (*Definition, error) {
	for _, d := range definitions {
		if d.Role == role && d.Category == category {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w for %s/%s", ErrNoDefinition, role, category)
}

// Session is one in-flight intake. Answers only accumulate; Back never
// discards them.
type Session struct {
	ID  string
	def *Definition

	idx     int
	answers Answers
	done    bool
}

// NewSession starts a session at the first step of def.
func NewSession(def *Definition) *Session {
	return &Session{
		ID:      uuid.NewString(),
		def:     def,
		answers: Answers{},
	}
}

// Definition returns the static flow this session walks.
func (s *Session) Definition() *Definition { return s.def }

// Step returns the current step identifier.
func (s *Session) Step() Step {
	if s.done {
		return StepDone
	}
	return s.def.Steps[s.idx]
}

// Done reports whether the session reached the terminal step.
func (s *Session) Done() bool { return s.done }

// Answers returns a copy of the accumulated answers.
func (s *Session) Answers() Answers { return s.answers.clone() }

// Set merges fields into the session's answers. Setting a field never
// advances the flow.
func (s *Session) Set(fields Answers) error {
	if s.done {
		return ErrSessionDone
	}
	for k, v := range fields {
		s.answers[k] = v
	}
	return nil
}

// Continue advances to the next step if the current step's required fields
// are satisfied. From the last data-entry step the caller must Submit
// instead. Refusal leaves the session exactly as it was.
func (s *Session) Continue() error {
	if s.done {
		return ErrSessionDone
	}
	if s.idx >= s.def.lastDataStep() {
		return ErrMustSubmit
	}
	if !s.def.valid(s.Step(), s.answers) {
		return ErrStepIncomplete
	}
	s.idx++
	return nil
}

// Back returns to the previous step. Answers are retained, so a following
// Continue restores the exact position.
func (s *Session) Back() error {
	if s.done {
		return ErrSessionDone
	}
	if s.idx == 0 {
		return ErrAtFirstStep
	}
	s.idx--
	return nil
}

// Submit validates the last data-entry step and freezes the answers,
// moving the session to done. The returned map is a snapshot; later Set
// calls cannot reach it.
func (s *Session) Submit() (Answers, error) {
	if s.done {
		return nil, ErrSessionDone
	}
	if s.idx != s.def.lastDataStep() {
		return nil, ErrNotLastStep
	}
	if !s.def.valid(s.Step(), s.answers) {
		return nil, ErrStepIncomplete
	}
	frozen := s.answers.clone()
	s.done = true
	return frozen, nil
}

// Reopen backs a submitted session out of done, restoring the last
// data-entry step with the answers intact. Callers use it when persisting
// the frozen answers fails, so Submit can be retried.
func (s *Session) Reopen() {
	if s.done {
		s.done = false
		s.idx = s.def.lastDataStep()
	}
}
