package events

// Topics published by the checkout and reconcile services. Consumers
// subscribe by topic name through the Bus.
const (
	TopicCheckoutStarted = "checkout.started"
	TopicOrderCompleted  = "order.completed"
	TopicOrderFailed     = "order.failed"
	TopicOrderCanceled   = "order.canceled"
	TopicPaymentFlagged  = "payment.flagged"
)
