package remote

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/flight"
	"github.com/deemkeen/fedmerge/ids"
)

type ContextFetcher struct {
	api       API
	instances Instances
	store     ContextStore
	cfg       Config
	fetches   *flight.Group[*domain.ReplyTree]
	lastPrune atomic.Int64
	logger    *log.Logger
}

func NewContextFetcher(api API, inst Instances, store ContextStore, cfg Config, logger *log.Logger) *ContextFetcher {
	if logger == nil {
		logger = log.Default()
	}
	cfg.defaults()
	return &ContextFetcher{
		api:       api,
		instances: inst,
		store:     store,
		cfg:       cfg,
		fetches:   flight.New[*domain.ReplyTree]("context-fetch", logger),
		logger:    logger.WithPrefix("remote/context"),
	}
}

// Fetch returns the origin's context of the status m points to. False means
// the origin was not asked or did not answer in time.
func (f *ContextFetcher) Fetch(ctx context.Context, m domain.StatusMapping) (*domain.ReplyTree, bool) {
	host := m.RemoteHost
	id := m.RemoteID
	if m.ResolvedID != "" {
		id = m.ResolvedID
	}
	if host == "" || f.cfg.Skip(host) {
		return nil, false
	}
	if !ids.IsNative(id) {
		f.logger.Debug("not an origin status id", "host", host, "id", id)
		return nil, false
	}

	rec := f.instances.Get(ctx, host)
	if blocked(rec, rec.CanFetchContext) {
		return nil, false
	}

	key := domain.LocalKey(host, id)
	if tree, err := f.store.ReadContext(ctx, key, f.cfg.ContentTTL); err != nil {
		f.logger.Warn("reading cached context failed", "key", key, "err", err)
	} else if tree != nil {
		return tree, true
	}
	f.prune(ctx)

	tree, ok := f.fetches.Perform(ctx, key, f.cfg.RequestTimeout, func(ctx context.Context) (*domain.ReplyTree, error) {
		tree, err := f.api.GetContext(ctx, host, id)
		if err != nil {
			if client.IsForbidden(err) {
				f.logger.Info("origin refuses context requests", "host", host)
				rec.CanFetchContext = domain.BoolPtr(false)
				rec.LastErrorCode = client.Classify(err)
				f.save(ctx, rec)
			}
			return nil, err
		}
		if err := f.store.WriteContext(ctx, key, *tree); err != nil {
			f.logger.Warn("caching context failed", "key", key, "err", err)
		}
		if rec.CanFetchContext == nil || !*rec.CanFetchContext {
			rec.CanFetchContext = domain.BoolPtr(true)
			f.save(ctx, rec)
		}
		return tree, nil
	})
	if !ok || tree == nil {
		return nil, false
	}
	return tree, true
}

// prune drops expired contexts, at most once per PruneInterval
func (f *ContextFetcher) prune(ctx context.Context) {
	now := time.Now()
	last := f.lastPrune.Load()
	if now.Sub(time.UnixMilli(last)) < f.cfg.PruneInterval {
		return
	}
	if !f.lastPrune.CompareAndSwap(last, now.UnixMilli()) {
		return
	}
	n, err := f.store.PruneContexts(ctx, now.Add(-f.cfg.ContentTTL))
	if err != nil {
		f.logger.Warn("pruning contexts failed", "err", err)
		return
	}
	if n > 0 {
		f.logger.Debug("pruned contexts", "count", n)
	}
}

func (f *ContextFetcher) save(ctx context.Context, rec domain.InstanceRecord) {
	if err := f.instances.Save(ctx, rec); err != nil {
		f.logger.Warn("saving instance record failed", "host", rec.Host, "err", err)
	}
}
