package contextkeys

// Keys under which middleware stores request identity in gin.Context.
const (
	UserIDKey = "userID"
	RoleKey   = "role"
)

// Headers
const (
	RequestIDHeader     = "X-Request-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)
