package orders

// Order statuses
const (
	StatusPlaced     = "Order Placed"
	StatusProcessing = "Processing"
	StatusShipped    = "Shipped"
	StatusDelivered  = "Delivered"
	StatusCancelled  = "Cancelled"
)

var forward = map[string]string{
	StatusPlaced:     StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

func IsValidStatus(s string) bool {
	switch s {
	case StatusPlaced, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func IsTerminal(s string) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order in status from may move to status to.
// Orders only move one step forward, or to Cancelled from any non-terminal status.
func CanTransition(from, to string) bool {
	if !IsValidStatus(from) || !IsValidStatus(to) || IsTerminal(from) {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return forward[from] == to
}
