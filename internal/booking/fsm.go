package booking

import "salonbook/internal/model"

// statusTransitions lists the statuses reachable from each status. Rejected and cancelled
// are terminal.
var statusTransitions = map[string][]string{
	model.StatusPending:   {model.StatusConfirmed, model.StatusRejected, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCancelled},
}

var depositTransitions = map[string][]string{
	model.DepositNone:      {model.DepositRequested},
	model.DepositRequested: {model.DepositPaid},
}

// CanTransition checks if a status change is allowed.
func CanTransition(from, to string) bool {
	return allowed(statusTransitions, from, to)
}

// CanTransitionDeposit checks if a deposit status change is allowed. An expired deposit
// cannot move anywhere.
func CanTransitionDeposit(from, to string) bool {
	return allowed(depositTransitions, from, to)
}

// IsTerminal reports whether no further status change is possible.
func IsTerminal(status string) bool {
	return len(statusTransitions[status]) == 0
}

func allowed(transitions map[string][]string, from, to string) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
