package enum

// ── Staff roles (CHECK constrained in DB) ──

const (
	UserRoleAdmin   = "admin"
	UserRoleWaiter  = "waiter"
	UserRoleKitchen = "kitchen"
)

// ── Hub rooms ──

const (
	RoomStaff         = "staff"
	RoomStaffFiltered = "staff:filtered"
	RoomPublic        = "public"
	RoomMetrics       = "metrics"
	RoomClientPrefix  = "client:"
)

// ── WebSocket event types ──

const (
	EventOrdersSnapshot       = "orders.snapshot"
	EventNotificationsUpdated = "notifications.updated"
	EventClientOrders         = "orders.mine"
	EventMetricsUpdated       = "metrics.updated"
	EventConfigUpdated        = "config.updated"
	EventSubscriptionError    = "subscription.error"
)

// ClientRoom is the hub room of one customer device.
func ClientRoom(clientID string) string {
	return RoomClientPrefix + clientID
}

// ValidRole reports whether role is a staff role.
func ValidRole(role string) bool {
	switch role {
	case UserRoleAdmin, UserRoleWaiter, UserRoleKitchen:
		return true
	}
	return false
}
