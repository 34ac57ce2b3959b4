// Package pipeline runs one recording through transcoding, transcription,
// analysis, validation, date/time resolution and persistence.
package pipeline

import "fmt"

// Stage is a step of a pipeline run.
type Stage int

// Stages in the order a run passes through them.
const (
	Idle Stage = iota
	FileStable
	Transcoding
	Transcribing
	Analyzing
	Validating
	Resolving
	Persisting
	Completed
)

var stageNames = [...]string{
	Idle:         "Idle",
	FileStable:   "FileStable",
	Transcoding:  "Transcoding",
	Transcribing: "Transcribing",
	Analyzing:    "Analyzing",
	Validating:   "Validating",
	Resolving:    "Resolving",
	Persisting:   "Persisting",
	Completed:    "Completed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown stage %q", name)
}
