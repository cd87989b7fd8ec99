package realtime

import "github.com/ariefcatur/loceal-orders/internal/orders"

func errorCode(err error) string { return orders.Code(err) }

// publicError hides internal failures from the socket.
func publicError(err error) string {
	if orders.Code(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}
