// Package remote fetches content straight from the origin instance of a
// post or account, gated on what the origin is known to allow.
package remote

import (
	"context"
	"net/url"
	"time"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/instances"
)

type API interface {
	GetContext(ctx context.Context, host, id string) (*domain.ReplyTree, error)
	LookupAccount(ctx context.Context, host, acct string) (*domain.Account, error)
	AccountStatuses(ctx context.Context, host, id string, query url.Values) ([]domain.Post, error)
}

// Instances is the capability cache, see instances.Cache
type Instances interface {
	Get(ctx context.Context, host string, opts ...instances.GetOption) domain.InstanceRecord
	Save(ctx context.Context, rec domain.InstanceRecord) error
}

// ContextStore caches origin contexts, sqlite or redis
type ContextStore interface {
	ReadContext(ctx context.Context, key string, maxAge time.Duration) (*domain.ReplyTree, error)
	WriteContext(ctx context.Context, key string, tree domain.ReplyTree) error
	PruneContexts(ctx context.Context, olderThan time.Time) (int64, error)
}

type AccountStore interface {
	UpsertAccount(ctx context.Context, m domain.AccountMapping) error
}

type Config struct {
	// ContentTTL is how long a fetched context is served from the cache
	ContentTTL time.Duration
	// RequestTimeout bounds how long callers wait for the origin
	RequestTimeout time.Duration
	PruneInterval  time.Duration
	Skip           func(host string) bool
}

func (c *Config) defaults() {
	if c.ContentTTL == 0 {
		c.ContentTTL = 30 * time.Minute
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Second
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = time.Minute
	}
	if c.Skip == nil {
		c.Skip = func(string) bool { return false }
	}
}

// blocked reports whether rec rules out fetching with the given capability
func blocked(rec domain.InstanceRecord, capability *bool) bool {
	if rec.KnownNotOrigin() {
		return true
	}
	return capability != nil && !*capability
}
