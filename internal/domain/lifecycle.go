package domain

// transitions enumerates every legal incident state transition. Anything
// absent here is illegal.
var transitions = map[State]map[State]bool{
	StateDetected: {
		StateTriaged:       true,
		StateInvestigating: true,
		StateResolved:      true,
		StateClosed:        true,
	},
	StateTriaged: {
		StateInvestigating: true,
		StateRemediating:   true,
		StateResolved:      true,
		StateClosed:        true,
	},
	StateInvestigating: {
		StateRemediating: true,
		StateResolved:    true,
		StateClosed:      true,
	},
	StateRemediating: {
		StateResolved: true,
		StateClosed:   true,
	},
	StateResolved: {
		StateClosed:        true,
		StateInvestigating: true, // reopen
	},
	StateClosed: {},
}

// CanTransition reports whether moving an incident from `from` to `to` is
// permitted by the lifecycle state graph.
func CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}
