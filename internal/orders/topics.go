package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicPaymentCaptured    = "payment.captured"
	TopicPaymentRefunded    = "payment.refunded"
	TopicPaymentAudit       = "payment.audit"
	TopicPaymentWebhook     = "payment.webhook"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
