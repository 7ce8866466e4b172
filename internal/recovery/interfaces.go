package recovery

import (
	"context"
	"time"
)

// Browser is one live browsing context owned by a session. Implementations
// wrap transport failures with ErrTransportClosed.
type Browser interface {
	// Navigate loads url and returns the final location after redirects.
	Navigate(ctx context.Context, url string) (string, error)
	// Text returns the rendered text content of the current page.
	Text(ctx context.Context) (string, error)
	// SubmitLogin fills and submits the login form and returns the final location.
	SubmitLogin(ctx context.Context, form LoginForm) (string, error)
	// Close releases the underlying browser resource.
	Close() error
}

// Launcher creates fresh browser resources.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LoginForm describes how to drive the target application's login flow.
type LoginForm struct {
	URL              string
	Username         string
	Password         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
}

// MetadataLookup resolves descriptive metadata for an identifier. A nil
// result with a nil error means no metadata exists.
type MetadataLookup interface {
	Lookup(ctx context.Context, id string) (*Metadata, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Claimer grants exclusive processing rights over an identifier across
// independently started workers.
type Claimer interface {
	Claim(ctx context.Context, id string, worker int) (bool, error)
	Release(ctx context.Context, id string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
