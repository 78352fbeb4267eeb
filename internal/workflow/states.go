// Package workflow governs the status-entry sequence embedded in financial
// records (loans, credit cards, insurance) and the notifications raised on
// transitions. It attaches to the resource engine as lifecycle hooks rather
// than owning endpoints of its own.
package workflow

// State is one workflow state of a financial record.
type State string

const (
	StatePending             State = "pending"
	StateUnderReview         State = "underReview"
	StateAccepted            State = "accepted"
	StateRejected            State = "rejected"
	StateMissingDocuments    State = "missingDocuments"
	StateAwaitingSignature   State = "awaitingSignature"
	StateAwaitingDisbursement State = "awaitingDisbursement"
	StateDisbursed           State = "disbursed"
	StateClosed              State = "closed"
)

// LoanStates is the full lifecycle used by loan and credit-card records.
// Edges are not restricted: any agent may set any declared state.
var LoanStates = []State{
	StatePending,
	StateUnderReview,
	StateAccepted,
	StateRejected,
	StateMissingDocuments,
	StateAwaitingSignature,
	StateAwaitingDisbursement,
	StateDisbursed,
	StateClosed,
}

// InsuranceStates is the reduced lifecycle used by insurance records.
var InsuranceStates = []State{
	StatePending,
	StateAccepted,
	StateRejected,
}

func validState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
