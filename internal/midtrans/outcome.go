package midtrans

// Outcome is the internal verdict a notification maps to.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
)

// MapOutcome translates the upstream transaction/fraud status pair.
// "settlement", or "capture" accepted by fraud screening, settles the
// order; cancel, deny and expire are terminal failures; anything else
// leaves the order pending.
func MapOutcome(transactionStatus, fraudStatus string) Outcome {
	switch transactionStatus {
	case "settlement":
		return OutcomeSuccess
	case "capture":
		if fraudStatus == "accept" {
			return OutcomeSuccess
		}
		return OutcomePending
	case "cancel", "deny", "expire":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
