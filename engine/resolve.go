package engine

import (
	"context"
	"net/url"
	"strings"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/ids"
	"github.com/deemkeen/fedmerge/resolve"
)

func (s *Service) ResolveStatus(ctx context.Context, known domain.MappingData) *resolve.StatusResult {
	return s.statuses.Resolve(ctx, known, 0)
}

// ResolveStatusID resolves a status id as it appears on host, native or
// synthetic. Opaque ids resolve to nothing.
func (s *Service) ResolveStatusID(ctx context.Context, host, id string) *resolve.StatusResult {
	known, ok := ids.Decode(host, id)
	if !ok || (known.Kind != "" && known.Kind != domain.KindStatus) {
		return nil
	}
	return s.ResolveStatus(ctx, known)
}

func (s *Service) ResolveAccount(ctx context.Context, known domain.MappingData) *domain.AccountMapping {
	return s.accounts.Resolve(ctx, known, 0)
}

func (s *Service) ResolveAccountID(ctx context.Context, host, id string) *domain.AccountMapping {
	known, ok := ids.Decode(host, id)
	if !ok || (known.Kind != "" && known.Kind != domain.KindAccount) {
		return nil
	}
	return s.ResolveAccount(ctx, known)
}

// NavigationRedirect rewrites a home instance URL whose path carries a
// synthetic status id into the URL of the home instance's own copy. False
// means there is nothing to redirect to (yet).
func (s *Service) NavigationRedirect(ctx context.Context, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := u.Hostname()

	segments := strings.Split(u.EscapedPath(), "/")
	for i, segment := range segments {
		id, err := url.PathUnescape(segment)
		if err != nil || !ids.IsSynthetic(id) {
			continue
		}
		known, _ := ids.Decode(host, id)
		if known.Kind != domain.KindStatus {
			return "", false
		}
		res := s.statuses.Resolve(ctx, known, s.cfg.StatusRequestTimeout())
		if res == nil || !res.Mapping.IsLocal() || ids.IsSynthetic(res.Mapping.LocalID) {
			return "", false
		}
		segments[i] = url.PathEscape(res.Mapping.LocalID)
		u.RawPath = ""
		u.Path, _ = url.PathUnescape(strings.Join(segments, "/"))
		return u.String(), true
	}
	return "", false
}
