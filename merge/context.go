package merge

import (
	"context"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/ids"
)

// MergeContext merges the origin's context of root into the home instance's.
// Posts already on the home instance are kept as returned, origin posts are
// appended under synthetic ids and every reference of an appended post is
// rewritten into the home namespace. The inputs are not modified. All
// mappings learned along the way are persisted in one transaction; on error
// nothing is persisted and the caller should show the local tree.
func (m *Merger) MergeContext(ctx context.Context, localHost string, root domain.StatusMapping, local *domain.ReplyTree, remote domain.ReplyTree) (*domain.ReplyTree, error) {
	p := m.newPass(ctx, localHost, root.RemoteHost)
	out := local.Clone()

	rootID := root.LocalID
	if rootID == "" {
		rootID = ids.Encode(domain.KindStatus, root.RemoteHost, root.RemoteID)
	}
	p.statusIDs[root.RemoteID] = rootID

	for _, list := range [][]domain.Post{out.Ancestors, out.Descendants} {
		for i := range list {
			p.index(&list[i])
		}
	}

	// ancestors first, descendants may reply to them
	injected := make([][]domain.Post, 2)
	for n, list := range [][]domain.Post{remote.Ancestors, remote.Descendants} {
		for i := range list {
			if !mergeable(&list[i]) {
				m.logger.Debug("skipping origin post without identity", "id", list[i].ID, "uri", list[i].URI)
				continue
			}
			post := list[i].Clone()
			emit, err := p.adopt(&post)
			if err != nil {
				return nil, err
			}
			if emit {
				injected[n] = append(injected[n], post)
			}
		}
	}

	for n := range injected {
		for i := range injected[n] {
			p.rewrite(&injected[n][i])
		}
	}
	out.Ancestors = append(out.Ancestors, injected[0]...)
	out.Descendants = append(out.Descendants, injected[1]...)

	if err := p.commit(); err != nil {
		return nil, err
	}
	return out, nil
}
