package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	// ContextKey is where the session middleware stores the UserContext.
	ContextKey = "USER_CONTEXT"
)
