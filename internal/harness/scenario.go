package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/podwire/internal/interpolate"
)

// Scenario defines a scripted run of the engine.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is the catalog file or directory to load.
	Catalog string `yaml:"catalog"`

	// Seed seeds the hash source when Samples is empty.
	Seed int64 `yaml:"seed,omitempty"`

	// Samples fixes the random pass draw per message id. When set, ids not
	// listed draw DefaultSample.
	Samples map[string]float64 `yaml:"samples,omitempty"`

	// DefaultSample is the draw for ids not in Samples. Default: 1 (never fires).
	DefaultSample *float64 `yaml:"default_sample,omitempty"`

	// Interpolation is strict (default) or lenient.
	Interpolation string `yaml:"interpolation,omitempty"`

	// Static variables are visible to every pass.
	Static map[string]any `yaml:"static,omitempty"`

	// MaxEmissions caps emissions per pass. Zero is unlimited.
	MaxEmissions int `yaml:"max_emissions,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final log.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one driver call. Exactly one of Tick, Event, Respond and Reload
// is set.
type Step struct {
	Tick    *int64         `yaml:"tick,omitempty"`
	Event   string         `yaml:"event,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
	Respond *RespondStep   `yaml:"respond,omitempty"`
	Reload  string         `yaml:"reload,omitempty"`

	// Expect checks the step outcome. Nil means unchecked.
	Expect *Expect `yaml:"expect,omitempty"`
}

// RespondStep answers a pending user-action emission.
type RespondStep struct {
	Emission string `yaml:"emission"`
	Key      string `yaml:"key"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Emitted lists the emitted message ids in order. An empty list means
	// nothing is emitted; an absent list is not checked.
	Emitted []string `yaml:"emitted,omitempty"`

	// Dropped lists the error codes of dropped emissions in order.
	Dropped []string `yaml:"dropped,omitempty"`

	// Content maps a message id to a subset of its rendered content.
	Content map[string]map[string]any `yaml:"content,omitempty"`

	// Action is the directive returned by a successful respond step.
	Action string `yaml:"action,omitempty"`

	// Error is the ResponseError code of a failing respond step.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final log.
type Assertion struct {
	// Type specifies the assertion type:
	// - "emitted_contains": message emitted, content subset matches
	// - "emitted_order": messages first emitted in order
	// - "emitted_count": message emitted exactly Count times
	// - "dropped": emission dropped with Code (and Message when set)
	// - "final_state": query a log table and verify expected values
	Type string `yaml:"type"`

	// Message is the message id (emitted_contains, emitted_count, dropped).
	Message string `yaml:"message,omitempty"`

	// Content is the expected content subset (emitted_contains).
	Content map[string]any `yaml:"content,omitempty"`

	// Messages is the expected order (emitted_order).
	Messages []string `yaml:"messages,omitempty"`

	// Count is the expected number of emissions (emitted_count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected drop code (dropped).
	Code string `yaml:"code,omitempty"`

	// Table, Where and Expect query the log (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEmittedContains = "emitted_contains"
	AssertEmittedOrder    = "emitted_order"
	AssertEmittedCount    = "emitted_count"
	AssertDropped         = "dropped"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Catalog and reload
// paths are resolved relative to the scenario file.
//
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Catalog = resolve(base, scenario.Catalog)
	for i := range scenario.Steps {
		scenario.Steps[i].Reload = resolve(base, scenario.Steps[i].Reload)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if _, err := os.Stat(s.Catalog); err != nil {
		return fmt.Errorf("catalog not found: %s", s.Catalog)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := interpolate.ParseMode(s.Interpolation); err != nil {
		return err
	}
	if s.MaxEmissions < 0 {
		return fmt.Errorf("max_emissions must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	kinds := 0
	if step.Tick != nil {
		kinds++
	}
	if step.Event != "" {
		kinds++
	}
	if step.Respond != nil {
		kinds++
		if step.Respond.Emission == "" || step.Respond.Key == "" {
			return fmt.Errorf("steps[%d]: respond requires emission and key", index)
		}
	}
	if step.Reload != "" {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of tick, event, respond or reload is required", index)
	}
	if step.Payload != nil && step.Event == "" {
		return fmt.Errorf("steps[%d]: payload is only valid on event steps", index)
	}
	if step.Expect != nil && (step.Expect.Action != "" || step.Expect.Error != "") && step.Respond == nil {
		return fmt.Errorf("steps[%d].expect: action and error are only valid on respond steps", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEmittedContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for emitted_contains", index)
		}
	case AssertEmittedOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages list is required for emitted_order", index)
		}
	case AssertEmittedCount:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for emitted_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for emitted_count", index)
		}
	case AssertDropped:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for dropped", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
