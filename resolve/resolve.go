// Package resolve translates status and account ids between the home
// instance's namespace and the origin's, persisting every mapping found.
package resolve

import (
	"context"
	"time"

	"github.com/deemkeen/fedmerge/domain"
)

// API is the part of the instance client the resolvers need
type API interface {
	GetStatus(ctx context.Context, host, id string) (*domain.Post, error)
	SearchStatus(ctx context.Context, host, q string) (*domain.Post, error)
	GetAccount(ctx context.Context, host, id string) (*domain.Account, error)
	LookupAccount(ctx context.Context, host, acct string) (*domain.Account, error)
	SearchAccount(ctx context.Context, host, q string) (*domain.Account, error)
}

type Store interface {
	ReadStatusByLocalKey(ctx context.Context, key string) (*domain.StatusMapping, error)
	ReadStatusByRemoteKey(ctx context.Context, key string) (*domain.StatusMapping, error)
	UpsertStatus(ctx context.Context, m domain.StatusMapping) error
	ReadAccountByLocalKey(ctx context.Context, key string) (*domain.AccountMapping, error)
	ReadAccountByRemoteKey(ctx context.Context, key string) (*domain.AccountMapping, error)
	UpsertAccount(ctx context.Context, m domain.AccountMapping) error
}

type Config struct {
	// StatusRequestTimeout bounds direct status fetches from the home instance
	StatusRequestTimeout time.Duration
	// SearchTimeout is the default bound for resolve searches
	SearchTimeout time.Duration
	Skip          func(host string) bool
}

func (c *Config) defaults() {
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 10 * time.Second
	}
	if c.StatusRequestTimeout == 0 {
		c.StatusRequestTimeout = time.Second
	}
	if c.Skip == nil {
		c.Skip = func(string) bool { return false }
	}
}
