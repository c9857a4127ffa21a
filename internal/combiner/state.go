package combiner

import "fmt"

// State is a pipeline stage. A pipeline only moves forward, one stage at a
// time, and ends in StateDone or StateFailed.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StatePacking
	StateRemapping
	StateGrouping
	StateAssembling
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateExtracting: "extracting",
	StatePacking:    "packing",
	StateRemapping:  "remapping",
	StateGrouping:   "grouping",
	StateAssembling: "assembling",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s is StateDone or StateFailed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// canMove reports whether from → to is a legal transition.
func canMove(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to == StateFailed || to == from+1
}
