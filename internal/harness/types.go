package harness

import "github.com/roach88/fxq/internal/fx"

// StageSnapshot is one recorded stage of a unit.
type StageSnapshot struct {
	Stage       string   `json:"stage"`
	Nodes       []string `json:"nodes"`
	Targets     []string `json:"targets"`
	Fingerprint string   `json:"fingerprint"`
}

// UnitSnapshot is one compilation unit and the stages it went through.
type UnitSnapshot struct {
	ID         string          `json:"id"`
	Path       string          `json:"path"`
	Type       string          `json:"type"`
	Standalone bool            `json:"standalone,omitempty"`
	Depth      int             `json:"depth"`
	Stages     []StageSnapshot `json:"stages"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when the pipeline behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Units lists the compilation units in the order they were begun.
	Units []UnitSnapshot `json:"units"`

	// ErrorCode is the pipeline error code, empty when the run succeeded.
	ErrorCode string `json:"error_code,omitempty"`

	Errors []string `json:"errors,omitempty"`

	// Final is the graph module produced by the last stage run.
	Final *fx.GraphModule `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Units:  []UnitSnapshot{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Unit returns the unit with the given qualified path.
func (r *Result) Unit(path string) (UnitSnapshot, bool) {
	for _, u := range r.Units {
		if u.Path == path {
			return u, true
		}
	}
	return UnitSnapshot{}, false
}

// Stage returns the snapshot of one stage of a unit.
func (u UnitSnapshot) Stage(name string) (StageSnapshot, bool) {
	for _, s := range u.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageSnapshot{}, false
}
