package coder

import (
	"fmt"

	"gamesmith/pkg/proto"
)

// StartKind is the first event of every generation run.
const StartKind = proto.ProgressGenerating

// GenerationTransitions defines the canonical allowed progress transitions for
// a generation run. This is the single source of truth: the emitter guards
// against it at runtime and tests validate event streams against it.
//
// ProgressComplete and ProgressError have no entries because they are
// terminal: nothing may follow them.
var GenerationTransitions = map[proto.ProgressKind][]proto.ProgressKind{
	proto.ProgressGenerating: {
		proto.ProgressExtracting, // model replied, scan it for files
		proto.ProgressRetrying,   // empty reply, budget remains
		proto.ProgressError,      // empty reply on the final attempt
	},
	proto.ProgressExtracting: {
		proto.ProgressWriting,  // at least one file extracted
		proto.ProgressRetrying, // nothing extracted, budget remains
		proto.ProgressError,    // nothing extracted on the final attempt
	},
	proto.ProgressWriting: {
		proto.ProgressValidating, // written files always get validated
	},
	proto.ProgressValidating: {
		proto.ProgressComplete, // project validated clean
		proto.ProgressRetrying, // diagnostics reported, budget remains
		proto.ProgressError,    // diagnostics reported on the final attempt
	},
	proto.ProgressRetrying: {
		proto.ProgressGenerating, // next attempt begins
	},
}

// IsValidTransition checks a transition against the canonical table. The
// empty kind stands for "run not started yet" and admits only StartKind.
func IsValidTransition(from, to proto.ProgressKind) bool {
	if from == "" {
		return to == StartKind
	}
	validTargets, exists := GenerationTransitions[from]
	if !exists {
		return false
	}
	for _, validTarget := range validTargets {
		if validTarget == to {
			return true
		}
	}
	return false
}

// ValidateSequence checks that a full event stream is legal: it starts with
// StartKind, every step follows the transition table, and it ends on a
// terminal kind. Intended for tests and replay tooling.
func ValidateSequence(kinds []proto.ProgressKind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("empty progress sequence")
	}
	prev := proto.ProgressKind("")
	for i, k := range kinds {
		if !IsValidTransition(prev, k) {
			return fmt.Errorf("illegal transition %q -> %q at position %d", prev, k, i)
		}
		prev = k
	}
	if !prev.Terminal() {
		return fmt.Errorf("sequence ends on non-terminal kind %q", prev)
	}
	return nil
}
