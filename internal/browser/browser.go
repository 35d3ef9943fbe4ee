package browser

import (
	"context"
)

// NavigationState is a read of where a session currently is and what it shows.
// HTML carries the rendered document so callers can inspect it without extra
// round-trips.
type NavigationState struct {
	URL   string
	Title string
	HTML  string
}

// Session is a browser automation session. A job exclusively owns one session
// for its whole lifetime, the handle is never shared across jobs and no two
// operations run on it concurrently.
//
// Element operations return an error wrapping model.ErrNotFound when the
// selector does not match within the context deadline, and
// model.ErrBackendUnavailable when the automation backend itself fails.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, selector string) error
	PressKey(ctx context.Context, key string) error
	WaitFor(ctx context.Context, selector string) error

	// Screenshot captures the current viewport and returns a lightweight
	// reference to the stored image, never the bytes.
	Screenshot(ctx context.Context, name string) (string, error)

	// State returns the current navigation state.
	State(ctx context.Context) (*NavigationState, error)

	// Close releases the session's resources. Safe to call more than once.
	Close(ctx context.Context) error
}

// Launcher creates sessions. The registry launches exactly one session per
// job worker slot.
type Launcher interface {
	Launch(ctx context.Context, jobID string) (Session, error)
}
