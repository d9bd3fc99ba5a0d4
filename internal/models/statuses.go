package models

type TransactionState string
type InitializationStatus string
type VerificationMethod string
type PayoutStatus string
type EntityType string
type AuditAction string

const (
	StatePending      TransactionState = "PENDING"
	StateInitialized  TransactionState = "INITIALIZED"
	StatePaid         TransactionState = "PAID"
	StateCompleted    TransactionState = "COMPLETED"
	StatePayoutFailed TransactionState = "PAYOUT_FAILED"

	InitializationSuccess InitializationStatus = "SUCCESS"
	InitializationFailed  InitializationStatus = "FAILED"

	VerificationPolling VerificationMethod = "POLLING"
	VerificationWebhook VerificationMethod = "WEBHOOK"
	VerificationManual  VerificationMethod = "MANUAL"

	PayoutPending PayoutStatus = "PENDING"
	PayoutSuccess PayoutStatus = "SUCCESS"
	PayoutFailed  PayoutStatus = "FAILED"

	EntityTransaction      EntityType = "TRANSACTION"
	EntityPaymentLink      EntityType = "PAYMENT_LINK"
	EntityPayout           EntityType = "PAYOUT"
	EntityFiatVerification EntityType = "FIAT_VERIFICATION"

	ActionCreate                AuditAction = "CREATE"
	ActionUpdate                AuditAction = "UPDATE"
	ActionDelete                AuditAction = "DELETE"
	ActionStateTransition       AuditAction = "STATE_TRANSITION"
	ActionInitializationAttempt AuditAction = "INITIALIZATION_ATTEMPT"
	ActionPaymentRecorded       AuditAction = "PAYMENT_RECORDED"
	ActionPayoutSucceeded       AuditAction = "PAYOUT_SUCCEEDED"
	ActionPayoutFailed          AuditAction = "PAYOUT_FAILED"
	ActionLinkEnabled           AuditAction = "LINK_ENABLED"
	ActionLinkDisabled          AuditAction = "LINK_DISABLED"
	ActionExpired               AuditAction = "EXPIRED"
)

// transitions is the complete lifecycle graph. Anything absent is illegal,
// self-transitions included.
var transitions = map[TransactionState][]TransactionState{
	StatePending:      {StateInitialized},
	StateInitialized:  {StatePaid},
	StatePaid:         {StateCompleted, StatePayoutFailed},
	StatePayoutFailed: {StatePaid},
	StateCompleted:    {},
}

// AllStates in lifecycle order.
var AllStates = []TransactionState{
	StatePending,
	StateInitialized,
	StatePaid,
	StateCompleted,
	StatePayoutFailed,
}

func (s TransactionState) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition checks the (from, to) pair against the lifecycle graph.
func CanTransition(from, to TransactionState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s TransactionState) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// IsUnresolved reports states reconciliation can still move forward.
func (s TransactionState) IsUnresolved() bool {
	return s == StatePending || s == StateInitialized
}
