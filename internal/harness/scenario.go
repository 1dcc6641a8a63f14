package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/summarycheck/internal/oracle"
)

//go:embed scenario_schema.cue
var scenarioSchema string

// Scenario is a sequence of mutations and checkpoints against named subjects.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// Timeout is the default gate bound for awaited checkpoints, e.g. "10s".
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Subjects maps scenario-local names to live object handles.
	Subjects map[string]oracle.Subject `yaml:"subjects" json:"subjects"`

	// Steps run in order. Each step sets exactly one of its fields.
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one scenario statement.
type Step struct {
	Verify *VerifyStep `yaml:"verify,omitempty" json:"verify,omitempty"`
	Invoke *ActionStep `yaml:"invoke,omitempty" json:"invoke,omitempty"`
	Start  *ActionStep `yaml:"start,omitempty" json:"start,omitempty"`
}

// VerifyStep is a checkpoint.
type VerifyStep struct {
	Subject string `yaml:"subject" json:"subject"`
	Type    string `yaml:"type" json:"type"`

	// Expect is the exact summary. A pointer so an empty summary can be
	// told apart from a missing field.
	Expect *string `yaml:"expect" json:"expect"`

	// Await makes the checkpoint wait for the most recent start step.
	Await bool `yaml:"await,omitempty" json:"await,omitempty"`

	// Timeout overrides the scenario's gate bound for this checkpoint.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ActionStep asks the driver to mutate a subject.
type ActionStep struct {
	Subject string         `yaml:"subject" json:"subject"`
	Action  string         `yaml:"action" json:"action"`
	Args    map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Kind returns "verify", "invoke", or "start", or "" for an empty step.
func (s Step) Kind() string {
	switch {
	case s.Verify != nil:
		return "verify"
	case s.Invoke != nil:
		return "invoke"
	case s.Start != nil:
		return "start"
	}
	return ""
}

// Subject resolves a scenario-local subject name. The name doubles as the
// report label unless the file sets one.
func (s *Scenario) Subject(name string) (oracle.Subject, bool) {
	subj, ok := s.Subjects[name]
	if !ok {
		return oracle.Subject{}, false
	}
	if subj.Name == "" {
		subj.Name = name
	}
	return subj, true
}

// GateTimeout returns the scenario's default gate bound, or 0 if unset.
func (s *Scenario) GateTimeout() time.Duration {
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// LoadScenario reads a scenario from a .yaml, .yml, or .cue file.
// Unknown YAML fields are rejected; CUE files are unified with the
// #Scenario schema before decoding.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario *Scenario
	switch filepath.Ext(path) {
	case ".cue":
		scenario, err = decodeCUE(data, path)
	case ".yaml", ".yml":
		scenario, err = decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported scenario file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

func decodeYAML(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

func decodeCUE(data []byte, path string) (*Scenario, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(scenarioSchema, cue.Filename("scenario_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %s", cueerrors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("scenario does not match schema: %s", cueerrors.Details(err, nil))
	}

	var scenario Scenario
	if err := unified.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to decode CUE scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and cross-references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("timeout %q must be a positive duration", s.Timeout)
		}
	}

	names := make([]string, 0, len(s.Subjects))
	for name := range s.Subjects {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.Subjects[name].Handle == "" {
			return fmt.Errorf("subjects[%s]: handle is required", name)
		}
	}

	started := false
	for i, step := range s.Steps {
		set := 0
		for _, present := range []bool{step.Verify != nil, step.Invoke != nil, step.Start != nil} {
			if present {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of verify, invoke, start is required", i)
		}

		switch {
		case step.Verify != nil:
			if err := validateVerify(s, i, step.Verify, started); err != nil {
				return err
			}
		case step.Invoke != nil:
			if err := validateAction(s, i, "invoke", step.Invoke); err != nil {
				return err
			}
		case step.Start != nil:
			if err := validateAction(s, i, "start", step.Start); err != nil {
				return err
			}
			started = true
		}
	}

	return nil
}

func validateVerify(s *Scenario, i int, v *VerifyStep, started bool) error {
	if _, ok := s.Subjects[v.Subject]; !ok {
		return fmt.Errorf("steps[%d].verify: unknown subject %q", i, v.Subject)
	}
	if v.Type == "" {
		return fmt.Errorf("steps[%d].verify: type is required", i)
	}
	if v.Expect == nil {
		return fmt.Errorf("steps[%d].verify: expect is required (use \"\" for an empty summary)", i)
	}
	if v.Await && !started {
		return fmt.Errorf("steps[%d].verify: await requires an earlier start step", i)
	}
	if v.Timeout != "" {
		if !v.Await {
			return fmt.Errorf("steps[%d].verify: timeout only applies to awaited checkpoints", i)
		}
		if d, err := time.ParseDuration(v.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("steps[%d].verify: timeout %q must be a positive duration", i, v.Timeout)
		}
	}
	return nil
}

func validateAction(s *Scenario, i int, kind string, a *ActionStep) error {
	if _, ok := s.Subjects[a.Subject]; !ok {
		return fmt.Errorf("steps[%d].%s: unknown subject %q", i, kind, a.Subject)
	}
	if a.Action == "" {
		return fmt.Errorf("steps[%d].%s: action is required", i, kind)
	}
	return nil
}
