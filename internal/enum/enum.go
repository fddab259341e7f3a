package enum

// ── Roles carried in display terminal tokens ──

const (
	UserRoleKitchen = "KITCHEN"
	UserRoleManager = "MANAGER"
)

// ── Order types (kitchen_orders.order_type, no DB constraint) ──

const (
	OrderTypeDesktop  = "Desktop"
	OrderTypeTakeaway = "Takeaway"
	OrderTypeDelivery = "Delivery"
)
