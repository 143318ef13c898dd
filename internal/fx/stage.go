package fx

import "fmt"

// Stage is a pipeline position. A GraphModule only moves forward.
type Stage int

const (
	StageUntraced Stage = iota
	StageTraced
	StageFused
	StagePrepared
	StageConverted
)

var stageNames = [...]string{"untraced", "traced", "fused", "prepared", "converted"}

// String returns the lowercase stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText encodes a stage as its name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	st, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStage maps a stage name back to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// next returns the only stage reachable from s.
func (s Stage) next() (Stage, bool) {
	if s >= StageConverted || s < 0 {
		return s, false
	}
	return s + 1, true
}
