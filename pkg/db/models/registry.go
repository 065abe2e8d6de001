package models

// All lists every table owned by the settlement service, in dependency order.
// Used by sqlite auto-migration in development and tests.
func All() []any {
	return []any{
		&Order{},
		&OrderItem{},
		&SellerAccount{},
		&PaymentTransaction{},
		&Payout{},
		&PayoutItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
