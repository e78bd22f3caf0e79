package computor

import "context"

// AuthStrategy supplies authentication material to the request engine. The
// engine calls AuthHeaders on every dispatch and merges the result under
// per-request headers; it never calls Authenticate on its own. Establishing
// a session up front is the caller's job, proactive token refresh inside
// AuthHeaders is the strategy's.
type AuthStrategy interface {
	// Authenticate establishes a session (verification call, interactive
	// bootstrap). Returns an authentication error when the strategy cannot.
	Authenticate(ctx context.Context) error
	// IsAuthenticated reports whether the strategy currently holds usable
	// credentials.
	IsAuthenticated() bool
	// AuthHeaders returns the headers to attach to an outgoing request.
	// An empty map means the request goes out unauthenticated.
	AuthHeaders(ctx context.Context) (map[string]string, error)
	// RefreshAuth renews the held credentials where the strategy supports
	// it.
	RefreshAuth(ctx context.Context) error
}

// NoAuth is the strategy for unauthenticated clients: no headers, always
// authenticated.
type NoAuth struct{}

func (NoAuth) Authenticate(context.Context) error { return nil }
func (NoAuth) IsAuthenticated() bool              { return true }
func (NoAuth) AuthHeaders(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}
func (NoAuth) RefreshAuth(context.Context) error { return nil }
