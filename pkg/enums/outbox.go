package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder  OutboxAggregateType = "order"
	AggregatePayout OutboxAggregateType = "payout"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder || a == AggregatePayout
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPaid       OutboxEventType = "order_paid"
	EventPayoutCreated   OutboxEventType = "payout_created"
	EventPayoutInTransit OutboxEventType = "payout_in_transit"
	EventPayoutPaid      OutboxEventType = "payout_paid"
	EventPayoutFailed    OutboxEventType = "payout_failed"
)

// eventAggregates pins each event type to the aggregate that emits it.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventOrderPaid:       AggregateOrder,
	EventPayoutCreated:   AggregatePayout,
	EventPayoutInTransit: AggregatePayout,
	EventPayoutPaid:      AggregatePayout,
	EventPayoutFailed:    AggregatePayout,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type that owns e, or "" for unknown events.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}
