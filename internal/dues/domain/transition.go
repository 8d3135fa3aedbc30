package domain

// Transition is a guarded move between two statuses.
type Transition struct {
	Name string
	From Status
	To   Status
}

var (
	TransitionSubmit  = Transition{Name: "submit_proof", From: StatusUnpaid, To: StatusPendingValidation}
	TransitionApprove = Transition{Name: "approve", From: StatusPendingValidation, To: StatusPaid}
	TransitionReject  = Transition{Name: "reject", From: StatusPendingValidation, To: StatusUnpaid}
)

// Check returns ErrInvalidTransition unless current is the transition's
// pre-state.
func (t Transition) Check(current Status) error {
	if current != t.From {
		return ErrInvalidTransition
	}
	return nil
}
