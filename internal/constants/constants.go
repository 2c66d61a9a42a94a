package constants

const (
	CntTypeHeaderJSON = "application/json"
	HeaderToken       = "Authorization"

	// Recognized webhook action value.
	ActionConfirm = "confirm"

	// Collection names exposed by the query surface.
	CollectionUsers    = "users"
	CollectionPayments = "payments"
	CollectionOrders   = "orders"
)
