package voyage

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Element is a handle to a node in the live page.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	Find(ctx context.Context, selector string) ([]Element, error)
}

// Driver is the browser capability used by the search automators.
// Lookups report absence as a nil Element rather than an error.
type Driver interface {
	Navigate(ctx context.Context, url, referer string) error
	NavigateDirect(ctx context.Context, url, referer string) error
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context, el Element) error
	Type(ctx context.Context, el Element, text string, interCharDelay time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	RunScript(ctx context.Context, code string, args ...any) (json.RawMessage, error)
	Screenshot(ctx context.Context, name string) (string, error)
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	IsNew() bool
}

// Session is a Driver owned by exactly one worker at a time.
type Session interface {
	Driver
	MarkUsed()
	Close(ctx context.Context) error
}

// SessionFactory launches browser sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Automator drives a session from the search page to a detail snapshot.
// An empty snapshot with a nil error means the vessel was not found.
type Automator interface {
	Search(ctx context.Context, drv Driver, task SearchTask) (Snapshot, error)
}

// Extractor maps a snapshot to a voyage record.
type Extractor interface {
	Extract(snap Snapshot) (*Record, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher digests result files so subscribers can skip unchanged runs.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
