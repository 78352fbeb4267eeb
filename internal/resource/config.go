package resource

import (
	"context"

	"finserv-backend/internal/store"
)

// Access selects how an engine scopes record visibility.
type Access string

const (
	// AccessAdmin exposes every record; the routing layer is expected to
	// guard such engines with a role check.
	AccessAdmin Access = "admin"
	// AccessOwner restricts list/update/delete to records whose owner field
	// equals the requesting actor's id.
	AccessOwner Access = "owner"
)

// PageConfig carries pagination defaults for one engine. Limit applies when
// the request does not ask for one; MaxLimit caps whatever is asked for.
type PageConfig struct {
	Limit    int
	MaxLimit int
}

// Config declares one engine instance: one entity type as seen by one role.
// The same collection may be wired behind several differently scoped configs.
// Immutable after construction.
type Config struct {
	// Name is the human-readable entity name used in response messages.
	Name string
	// Access picks the scoping mode; OwnerField defaults to "user".
	Access     Access
	OwnerField string
	// Query is the allow-list of request parameters copied into the filter.
	// Undeclared parameters are ignored, not rejected.
	Query []string
	// Populate/PopulateByID declare relation expansions for list and
	// single-record reads.
	Populate     []store.Populate
	PopulateByID []store.Populate
	// Select is a fixed projection; when empty the request may supply one.
	Select      string
	DefaultSort string
	Page        PageConfig
	// Rules are declarative validations applied before create and update.
	Rules []*Rule
	Hooks Hooks
}

// Hooks are the typed lifecycle extension points. Any of them may be nil.
type Hooks struct {
	PreFilter  PreFilterHook
	PreCreate  PreCreateHook
	PreUpdate  PreUpdateHook
	PostRead   PostReadHook
	PostCreate PostCreateHook
}

// PreFilterHook runs after filter construction and before querying. Returning
// an error terminates the request without touching the store.
type PreFilterHook interface {
	PreFilter(ctx context.Context, actor *Actor, filter store.Filter) error
}

// PreCreateHook may reject or transform the payload. The owner field has
// already been force-set when it runs.
type PreCreateHook interface {
	PreCreate(ctx context.Context, actor *Actor, payload store.Record) error
}

// PreUpdateHook receives the scoped filter and the payload. When handled is
// true the hook has persisted the change itself and the engine skips its own
// write, responding with the returned record.
type PreUpdateHook interface {
	PreUpdate(ctx context.Context, actor *Actor, filter store.Filter, payload store.Record) (handled bool, record store.Record, err error)
}

// PostReadHook may transform a fetched sequence before it is returned.
type PostReadHook interface {
	PostRead(ctx context.Context, actor *Actor, records []store.Record) ([]store.Record, error)
}

// PostCreateHook may transform the created record's returned representation.
type PostCreateHook interface {
	PostCreate(ctx context.Context, actor *Actor, record store.Record) (store.Record, error)
}

// Hook adapters so simple cases can use plain functions.

type PreFilterFunc func(ctx context.Context, actor *Actor, filter store.Filter) error

func (f PreFilterFunc) PreFilter(ctx context.Context, actor *Actor, filter store.Filter) error {
	return f(ctx, actor, filter)
}

type PreCreateFunc func(ctx context.Context, actor *Actor, payload store.Record) error

func (f PreCreateFunc) PreCreate(ctx context.Context, actor *Actor, payload store.Record) error {
	return f(ctx, actor, payload)
}

type PostReadFunc func(ctx context.Context, actor *Actor, records []store.Record) ([]store.Record, error)

func (f PostReadFunc) PostRead(ctx context.Context, actor *Actor, records []store.Record) ([]store.Record, error) {
	return f(ctx, actor, records)
}
