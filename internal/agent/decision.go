package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav "github.com/santhosh-tekuri/jsonschema/v5"
)

// Action types the model may emit.
const (
	ActionClick    = "click"
	ActionNavigate = "navigate"
	ActionScroll   = "scroll"
	ActionWait     = "wait"
	ActionDone     = "done"
)

// Action is one browser action chosen by the model.
type Action struct {
	Type    string   `json:"type" jsonschema:"enum=click,enum=navigate,enum=scroll,enum=wait,enum=done"`
	X       *float64 `json:"x,omitempty" jsonschema:"description=click: horizontal pixel in the screenshot"`
	Y       *float64 `json:"y,omitempty" jsonschema:"description=click: vertical pixel in the screenshot"`
	URL     string   `json:"url,omitempty" jsonschema:"description=navigate: absolute URL"`
	DY      *float64 `json:"dy,omitempty" jsonschema:"description=scroll: CSS pixels to scroll down (negative scrolls up)"`
	MS      *int     `json:"ms,omitempty" jsonschema:"minimum=0,maximum=10000,description=wait: milliseconds"`
	Text    string   `json:"text,omitempty" jsonschema:"description=done: final answer for the user"`
	Success *bool    `json:"success,omitempty" jsonschema:"description=done: whether the task succeeded"`
}

// String renders the action for history lines.
func (a Action) String() string {
	switch a.Type {
	case ActionClick:
		return fmt.Sprintf("click(%s, %s)", fmtNum(a.X), fmtNum(a.Y))
	case ActionNavigate:
		return fmt.Sprintf("navigate(%s)", a.URL)
	case ActionScroll:
		return fmt.Sprintf("scroll(%s)", fmtNum(a.DY))
	case ActionWait:
		ms := 0
		if a.MS != nil {
			ms = *a.MS
		}
		return fmt.Sprintf("wait(%dms)", ms)
	case ActionDone:
		return fmt.Sprintf("done(%q)", a.Text)
	default:
		return a.Type
	}
}

func fmtNum(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%g", *v)
}

// validate checks the per-type argument requirements the schema cannot
// express.
func (a Action) validate() error {
	switch a.Type {
	case ActionClick:
		if a.X == nil || a.Y == nil {
			return errors.New("click needs x and y")
		}
	case ActionNavigate:
		if a.URL == "" {
			return errors.New("navigate needs url")
		}
	case ActionScroll:
		if a.DY == nil {
			return errors.New("scroll needs dy")
		}
	}
	return nil
}

// Decision is the model's reply for one step.
type Decision struct {
	Evaluation string   `json:"evaluation,omitempty" jsonschema:"description=Did the previous actions work? Judge from the screenshot."`
	Memory     string   `json:"memory,omitempty" jsonschema:"description=Facts to remember for later steps"`
	NextGoal   string   `json:"next_goal" jsonschema:"description=What the actions below should achieve"`
	Actions    []Action `json:"actions" jsonschema:"minItems=1"`
}

var (
	schemaOnce     sync.Once
	schemaJSON     []byte
	schemaCompiled *jsonschemav.Schema
	schemaErr      error
)

func loadSchema() {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schemaJSON, schemaErr = json.Marshal(r.Reflect(&Decision{}))
	if schemaErr != nil {
		return
	}
	schemaCompiled, schemaErr = jsonschemav.CompileString("decision.schema.json", string(schemaJSON))
}

// DecisionSchema returns the JSON schema the model's replies must match.
func DecisionSchema() ([]byte, error) {
	schemaOnce.Do(loadSchema)
	return schemaJSON, schemaErr
}

// ErrInvalidDecision wraps every reason a reply could not be used.
var ErrInvalidDecision = errors.New("agent: invalid decision")

// ParseDecision validates a model reply against the decision schema and
// decodes it. Markdown code fences around the JSON are ignored.
func ParseDecision(text string) (*Decision, error) {
	schemaOnce.Do(loadSchema)
	if schemaErr != nil {
		return nil, fmt.Errorf("compile decision schema: %w", schemaErr)
	}

	raw := []byte(stripFences(text))

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: not JSON: %v", ErrInvalidDecision, err)
	}
	if err := schemaCompiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	for i, a := range d.Actions {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("%w: action %d: %v", ErrInvalidDecision, i, err)
		}
	}
	return &d, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
