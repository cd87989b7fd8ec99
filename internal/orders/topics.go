package orders

const (
	TopicOrderEvents   = "order.events"
	TopicNotifications = "notify.outbound"
)

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
