package resolve

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/flight"
	"github.com/deemkeen/fedmerge/ids"
)

// AccountResolver works like StatusResolver, for accounts. An account's
// remote id is its username on the origin.
type AccountResolver struct {
	store   Store
	api     API
	cfg     Config
	fetches *flight.Group[*domain.AccountMapping]
	lookups *flight.Group[*domain.AccountMapping]
	logger  *log.Logger
}

func NewAccountResolver(store Store, api API, cfg Config, logger *log.Logger) *AccountResolver {
	if logger == nil {
		logger = log.Default()
	}
	cfg.defaults()
	return &AccountResolver{
		store:   store,
		api:     api,
		cfg:     cfg,
		fetches: flight.New[*domain.AccountMapping]("account-fetch", logger),
		lookups: flight.New[*domain.AccountMapping]("account-lookup", logger),
		logger:  logger.WithPrefix("resolve/account"),
	}
}

// Resolve returns the full mapping of known, or nil when it cannot be found
// within timeout (0 means the configured search timeout)
func (r *AccountResolver) Resolve(ctx context.Context, known domain.MappingData, timeout time.Duration) *domain.AccountMapping {
	if timeout == 0 {
		timeout = r.cfg.SearchTimeout
	}
	localHost := known.LocalHost

	existing := r.lookup(ctx, known)
	if existing != nil && existing.IsFull() {
		return existing
	}

	if known.IsLocal() {
		res, ok := r.fetches.Perform(ctx, known.LocalKey(), r.cfg.StatusRequestTimeout, func(ctx context.Context) (*domain.AccountMapping, error) {
			acc, err := r.api.GetAccount(ctx, localHost, known.LocalID)
			if err != nil {
				return nil, err
			}
			return r.process(ctx, localHost, acc)
		})
		if ok && res != nil {
			return res
		}
	}

	mapping := known
	if existing != nil {
		mapping = existing.MappingData
	}
	if !mapping.IsRemote() || r.cfg.Skip(mapping.RemoteHost) {
		return nil
	}

	res, ok := r.lookups.Perform(ctx, mapping.RemoteKey(), timeout, func(ctx context.Context) (*domain.AccountMapping, error) {
		handle := mapping.RemoteID + "@" + mapping.RemoteHost
		acc, err := r.api.LookupAccount(ctx, localHost, handle)
		if errors.Is(err, client.ErrNotFound) {
			// the home instance has not seen the account yet, make it fetch it
			r.logger.Debug("lookup missed, searching", "acct", handle, "via", localHost)
			acc, err = r.api.SearchAccount(ctx, localHost, "@"+handle)
		}
		if errors.Is(err, client.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return r.process(ctx, localHost, acc)
	})
	if !ok {
		return nil
	}
	return res
}

// Observe records the mapping of an account the home instance returned
func (r *AccountResolver) Observe(ctx context.Context, localHost string, acc *domain.Account) (*domain.AccountMapping, error) {
	return r.process(ctx, localHost, acc)
}

func (r *AccountResolver) process(ctx context.Context, localHost string, acc *domain.Account) (*domain.AccountMapping, error) {
	user, host := ids.SplitAcct(acc.Acct, accountHost(acc, localHost))
	mapping := domain.AccountMapping{Mapping: domain.Mapping{MappingData: domain.MappingData{
		Kind:       domain.KindAccount,
		URI:        acc.URI,
		LocalHost:  localHost,
		LocalID:    acc.ID,
		RemoteHost: host,
		RemoteID:   user,
	}}}
	if err := r.store.UpsertAccount(ctx, mapping); err != nil {
		return nil, err
	}
	mapping.UpdatedAt = time.Now()
	return &mapping, nil
}

func (r *AccountResolver) lookup(ctx context.Context, known domain.MappingData) *domain.AccountMapping {
	var found *domain.AccountMapping
	var err error
	switch {
	case known.IsLocal():
		found, err = r.store.ReadAccountByLocalKey(ctx, known.LocalKey())
	case known.IsRemote():
		found, err = r.store.ReadAccountByRemoteKey(ctx, known.RemoteKey())
	}
	if err != nil {
		r.logger.Warn("reading account mapping failed", "local", known.LocalKey(), "remote", known.RemoteKey(), "err", err)
		return nil
	}
	return found
}

// accountHost is the host a handle without a domain part belongs to: the
// host of the profile URL when there is one, the serving host otherwise
func accountHost(acc *domain.Account, fallback string) string {
	for _, raw := range []string{acc.URL, acc.URI} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return fallback
}
