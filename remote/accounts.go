package remote

import (
	"context"
	"net/url"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/flight"
)

// originParams are the profile list parameters that mean the same on every
// instance. Paging ids are in the home namespace and are never forwarded.
var originParams = []string{"limit", "exclude_replies", "exclude_reblogs", "only_media", "pinned", "tagged"}

type AccountPosts struct {
	api       API
	instances Instances
	store     AccountStore
	cfg       Config
	lookups   *flight.Group[string]
	fetches   *flight.Group[[]domain.Post]
	logger    *log.Logger
}

func NewAccountPosts(api API, inst Instances, store AccountStore, cfg Config, logger *log.Logger) *AccountPosts {
	if logger == nil {
		logger = log.Default()
	}
	cfg.defaults()
	return &AccountPosts{
		api:       api,
		instances: inst,
		store:     store,
		cfg:       cfg,
		lookups:   flight.New[string]("account-origin-id", logger),
		fetches:   flight.New[[]domain.Post]("account-posts", logger),
		logger:    logger.WithPrefix("remote/accounts"),
	}
}

// Fetch returns the profile post list of the account m points to, as its
// origin serves it
func (a *AccountPosts) Fetch(ctx context.Context, m domain.AccountMapping, query url.Values) ([]domain.Post, bool) {
	host := m.RemoteHost
	if !m.IsRemote() || a.cfg.Skip(host) {
		return nil, false
	}
	rec := a.instances.Get(ctx, host)
	if blocked(rec, rec.CanFetchUserPosts) {
		return nil, false
	}

	id := m.ResolvedID
	if id == "" {
		var ok bool
		id, ok = a.lookups.Perform(ctx, m.RemoteKey(), a.cfg.RequestTimeout, func(ctx context.Context) (string, error) {
			acc, err := a.api.LookupAccount(ctx, host, m.RemoteID)
			if err != nil {
				return "", err
			}
			if m.IsLocal() {
				m.ResolvedID = acc.ID
				if err := a.store.UpsertAccount(ctx, m); err != nil {
					a.logger.Warn("persisting origin account id failed", "acct", m.RemoteID+"@"+host, "err", err)
				}
			}
			return acc.ID, nil
		})
		if !ok || id == "" {
			return nil, false
		}
	}

	forwarded := OriginQuery(query)
	key := domain.LocalKey(host, id) + "?" + forwarded.Encode()
	posts, ok := a.fetches.Perform(ctx, key, a.cfg.RequestTimeout, func(ctx context.Context) ([]domain.Post, error) {
		posts, err := a.api.AccountStatuses(ctx, host, id, forwarded)
		if err != nil {
			if client.IsForbidden(err) {
				a.logger.Info("origin refuses profile requests", "host", host)
				rec.CanFetchUserPosts = domain.BoolPtr(false)
				rec.LastErrorCode = client.Classify(err)
				a.save(ctx, rec)
			}
			return nil, err
		}
		if rec.CanFetchUserPosts == nil || !*rec.CanFetchUserPosts {
			rec.CanFetchUserPosts = domain.BoolPtr(true)
			a.save(ctx, rec)
		}
		return posts, nil
	})
	if !ok {
		return nil, false
	}
	return posts, true
}

// OriginQuery keeps the parameters of query that can be sent to an origin
func OriginQuery(query url.Values) url.Values {
	out := url.Values{}
	for _, name := range originParams {
		if v, ok := query[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (a *AccountPosts) save(ctx context.Context, rec domain.InstanceRecord) {
	if err := a.instances.Save(ctx, rec); err != nil {
		a.logger.Warn("saving instance record failed", "host", rec.Host, "err", err)
	}
}
