package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/flight"
	"github.com/deemkeen/fedmerge/ids"
)

// StatusResult is a resolved mapping. Post is set only when the status was
// fetched during resolution.
type StatusResult struct {
	Mapping domain.StatusMapping `json:"mapping"`
	Post    *domain.Post         `json:"status,omitempty"`
	Boosted *StatusResult        `json:"reblog,omitempty"`
}

type StatusResolver struct {
	store    Store
	api      API
	cfg      Config
	fetches  *flight.Group[*StatusResult]
	searches *flight.Group[*StatusResult]
	logger   *log.Logger
}

func NewStatusResolver(store Store, api API, cfg Config, logger *log.Logger) *StatusResolver {
	if logger == nil {
		logger = log.Default()
	}
	cfg.defaults()
	return &StatusResolver{
		store:    store,
		api:      api,
		cfg:      cfg,
		fetches:  flight.New[*StatusResult]("status-fetch", logger),
		searches: flight.New[*StatusResult]("status-search", logger),
		logger:   logger.WithPrefix("resolve/status"),
	}
}

// Resolve returns the full mapping of known, or nil when it cannot be found
// within timeout (0 means the configured search timeout). A resolution that
// times out keeps running and persists its result for the next call.
func (r *StatusResolver) Resolve(ctx context.Context, known domain.MappingData, timeout time.Duration) *StatusResult {
	if timeout == 0 {
		timeout = r.cfg.SearchTimeout
	}
	localHost := known.LocalHost

	existing := r.lookup(ctx, known)
	if existing != nil && existing.IsFull() {
		return existingResult(*existing)
	}

	if known.IsLocal() {
		if res := r.Fetch(ctx, localHost, known.LocalID); res != nil {
			return res
		}
	}

	mapping := domain.StatusMapping{Mapping: domain.Mapping{MappingData: known}}
	if existing != nil {
		mapping = *existing
		if mapping.URI == "" {
			mapping.URI = known.URI
		}
	}
	if !mapping.IsRemote() || (mapping.URI == "" && mapping.AuthorUsername == "") {
		return nil
	}
	if r.cfg.Skip(mapping.RemoteHost) {
		return nil
	}

	res, ok := r.searches.Perform(ctx, mapping.RemoteKey(), timeout, func(ctx context.Context) (*StatusResult, error) {
		uri := mapping.URI
		if uri == "" {
			uri = ids.StatusURI(mapping.RemoteHost, mapping.AuthorUsername, mapping.RemoteID)
		}
		r.logger.Debug("resolving", "uri", uri, "via", localHost)
		post, err := r.api.SearchStatus(ctx, localHost, uri)
		if errors.Is(err, client.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return r.process(ctx, localHost, post)
	})
	if !ok {
		return nil
	}
	return res
}

// Fetch gets a status from host by its id there and records its mapping
func (r *StatusResolver) Fetch(ctx context.Context, host, id string) *StatusResult {
	res, ok := r.fetches.Perform(ctx, domain.LocalKey(host, id), r.cfg.StatusRequestTimeout, func(ctx context.Context) (*StatusResult, error) {
		post, err := r.api.GetStatus(ctx, host, id)
		if err != nil {
			return nil, err
		}
		return r.process(ctx, host, post)
	})
	if !ok {
		return nil
	}
	return res
}

// Observe records the mapping of a post the home instance already returned
func (r *StatusResolver) Observe(ctx context.Context, localHost string, post *domain.Post) (*StatusResult, error) {
	return r.process(ctx, localHost, post)
}

func (r *StatusResolver) process(ctx context.Context, localHost string, post *domain.Post) (*StatusResult, error) {
	var boosted *StatusResult
	if post.Reblog != nil {
		var err error
		boosted, err = r.process(ctx, localHost, post.Reblog)
		if err != nil {
			return nil, err
		}
	}

	ident := ids.Identify(localHost, post)
	mapping := domain.StatusMapping{
		Mapping: domain.Mapping{MappingData: domain.MappingData{
			Kind:       domain.KindStatus,
			URI:        post.URI,
			LocalHost:  localHost,
			LocalID:    post.ID,
			RemoteHost: ident.RemoteHost,
			RemoteID:   ident.RemoteID,
		}},
		AuthorUsername: authorUsername(post.Account),
	}
	if boosted != nil {
		mapping.Boosted = &boosted.Mapping.Mapping
	}
	if err := r.store.UpsertStatus(ctx, mapping); err != nil {
		return nil, err
	}
	mapping.UpdatedAt = time.Now()
	return &StatusResult{Mapping: mapping, Post: post, Boosted: boosted}, nil
}

func (r *StatusResolver) lookup(ctx context.Context, known domain.MappingData) *domain.StatusMapping {
	var found *domain.StatusMapping
	var err error
	switch {
	case known.IsLocal():
		found, err = r.store.ReadStatusByLocalKey(ctx, known.LocalKey())
	case known.IsRemote():
		found, err = r.store.ReadStatusByRemoteKey(ctx, known.RemoteKey())
	}
	if err != nil {
		r.logger.Warn("reading status mapping failed", "local", known.LocalKey(), "remote", known.RemoteKey(), "err", err)
		return nil
	}
	return found
}

func existingResult(m domain.StatusMapping) *StatusResult {
	res := &StatusResult{Mapping: m}
	if m.Boosted != nil {
		res.Boosted = &StatusResult{Mapping: domain.StatusMapping{Mapping: *m.Boosted}}
	}
	return res
}

func authorUsername(acc *domain.Account) string {
	if acc == nil {
		return ""
	}
	if acc.Username != "" {
		return acc.Username
	}
	return strings.SplitN(strings.TrimPrefix(acc.Acct, "@"), "@", 2)[0]
}
