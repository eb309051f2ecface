package model

// EventType identifies a broadcast state change.
type EventType string

const (
	EventBalanceChanged        EventType = "balance_changed"
	EventCredentialInvalidated EventType = "credential_invalidated"
)

// Event is a fire-and-forget notification. Balance is set only for
// EventBalanceChanged.
type Event struct {
	Type    EventType
	Balance int
}

// BalanceChanged builds a balance-changed event.
func BalanceChanged(balance int) Event {
	return Event{Type: EventBalanceChanged, Balance: balance}
}

// CredentialInvalidated builds a credential-invalidated event.
func CredentialInvalidated() Event {
	return Event{Type: EventCredentialInvalidated}
}
