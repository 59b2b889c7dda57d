package reconciler

// ReconcileResult says what applying one status event did.
type ReconcileResult string

const (
	// ResultApplied means the event moved the execution forward.
	ResultApplied ReconcileResult = "applied"

	// ResultAlreadyApplied means the event was a duplicate or arrived
	// out of order; the stored state already covers it.
	ResultAlreadyApplied ReconcileResult = "already_applied"

	// ResultConflict means a second, different terminal status arrived
	// after the execution was already final. The first terminal wins.
	ResultConflict ReconcileResult = "conflict"
)
