package engine

import (
	"context"
	"net/url"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/ids"
)

// MergeContext merges remote into local for root. On any failure the local
// tree is returned unchanged.
func (s *Service) MergeContext(ctx context.Context, localHost string, root domain.StatusMapping, local *domain.ReplyTree, remote domain.ReplyTree) *domain.ReplyTree {
	merged, err := s.merger.MergeContext(ctx, localHost, root, local, remote)
	if err != nil {
		s.logger.Warn("merging context failed, serving the local one", "root", root.RemoteKey(), "err", err)
		return local.Clone()
	}
	return merged
}

// Thread is the context of status id as host sees it, completed with what
// its origin knows. False means the status could not be resolved at all.
func (s *Service) Thread(ctx context.Context, host, id string) (*domain.ReplyTree, bool) {
	var root domain.StatusMapping
	if res := s.ResolveStatusID(ctx, host, id); res != nil {
		root = res.Mapping
		if res.Boosted != nil {
			// a boost has no thread of its own
			root = res.Boosted.Mapping
		}
	} else if known, ok := ids.Decode(host, id); ok && known.Kind == domain.KindStatus {
		// not on the home instance yet, the origin's thread alone can be shown
		root = domain.StatusMapping{Mapping: domain.Mapping{MappingData: known}}
	} else {
		return nil, false
	}

	var local *domain.ReplyTree
	if root.IsLocal() {
		tree, err := s.client.GetContext(ctx, host, root.LocalID)
		if err != nil {
			s.logger.Debug("home context unavailable", "host", host, "id", root.LocalID, "err", err)
		} else {
			local = tree
		}
	}

	if !root.IsRemote() || root.RemoteHost == host {
		return local.Clone(), true
	}
	remote, ok := s.contexts.Fetch(ctx, root)
	if !ok {
		return local.Clone(), true
	}
	return s.MergeContext(ctx, host, root, local, *remote), true
}

// AccountPosts is the profile post list of account id as host sees it,
// completed with what the account's origin serves
func (s *Service) AccountPosts(ctx context.Context, host, id string, query url.Values) ([]domain.Post, bool) {
	m := s.ResolveAccountID(ctx, host, id)
	if m == nil {
		return nil, false
	}

	local := []domain.Post{}
	if m.IsLocal() {
		posts, err := s.client.AccountStatuses(ctx, host, m.LocalID, query)
		if err != nil {
			s.logger.Debug("home profile unavailable", "host", host, "id", m.LocalID, "err", err)
		} else {
			local = posts
		}
	}

	if m.RemoteHost == host {
		return local, true
	}
	remote, ok := s.posts.Fetch(ctx, *m, query)
	if !ok {
		return local, true
	}
	merged, err := s.merger.MergeStatusLists(ctx, host, m.RemoteHost, local, remote)
	if err != nil {
		s.logger.Warn("merging profile failed, serving the local one", "account", m.RemoteKey(), "err", err)
		return local, true
	}
	return merged, true
}
