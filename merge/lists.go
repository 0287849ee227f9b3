package merge

import (
	"context"
	"sort"

	"github.com/deemkeen/fedmerge/domain"
)

// MergeStatusLists merges a profile post list fetched from sourceHost into
// the one the home instance returned. Boosted posts are merged like any
// other. The result is sorted newest first.
func (m *Merger) MergeStatusLists(ctx context.Context, localHost, sourceHost string, local, remote []domain.Post) ([]domain.Post, error) {
	p := m.newPass(ctx, localHost, sourceHost)
	out := domain.ClonePosts(local)

	for i := range out {
		p.index(&out[i])
		if out[i].Reblog != nil {
			p.index(out[i].Reblog)
		}
	}

	var injected []domain.Post
	for i := range remote {
		if !mergeable(&remote[i]) {
			m.logger.Debug("skipping origin post without identity", "id", remote[i].ID, "uri", remote[i].URI)
			continue
		}
		post := remote[i].Clone()
		if post.Reblog != nil {
			if err := p.adoptBoosted(&post); err != nil {
				return nil, err
			}
		}
		emit, err := p.adopt(&post)
		if err != nil {
			return nil, err
		}
		if emit {
			injected = append(injected, post)
		}
	}

	for i := range injected {
		p.rewrite(&injected[i])
		if injected[i].Reblog != nil {
			p.rewrite(injected[i].Reblog)
		}
	}
	out = append(out, injected...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})

	if err := p.commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// adoptBoosted moves the boosted post of a boost into the home namespace.
// A boosted post the home instance already returned is replaced by its
// home copy.
func (p *pass) adoptBoosted(boost *domain.Post) error {
	inner := boost.Reblog
	originID := inner.ID
	emit, err := p.adopt(inner)
	if err != nil {
		return err
	}
	if emit {
		return nil
	}
	if known, ok := p.known[inner.URI]; ok {
		home := known.Clone()
		boost.Reblog = &home
		return nil
	}
	inner.ID = p.statusIDs[originID]
	return nil
}
