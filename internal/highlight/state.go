package highlight

import "fmt"

// State is the pipeline position. Done, Failed and Cancelled are absorbing.
type State string

const (
	StateIdle        State = "idle"
	StateCompressing State = "compressing"
	StateUploading   State = "uploading"
	StateAnalyzing   State = "analyzing"
	StateExtracting  State = "extracting"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Cancellable reports whether a cancel request still has an effect.
func (s State) Cancellable() bool {
	return s == StateIdle || s == StateCompressing
}

var transitions = map[State][]State{
	StateIdle:        {StateCompressing, StateFailed, StateCancelled},
	StateCompressing: {StateUploading, StateFailed, StateCancelled},
	StateUploading:   {StateAnalyzing, StateFailed},
	StateAnalyzing:   {StateExtracting, StateFailed},
	StateExtracting:  {StateDone, StateFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
