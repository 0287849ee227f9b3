// Package merge folds posts fetched from an origin instance into what the
// home instance returned, in the home instance's id namespace.
package merge

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/ids"
	"github.com/microcosm-cc/bluemonday"
)

// Application is stamped on every injected post
const Application = "fedmerge"

type Store interface {
	ReadAccountByRemoteKey(ctx context.Context, key string) (*domain.AccountMapping, error)
	ApplyBatch(ctx context.Context, batch domain.MappingBatch) error
}

type Merger struct {
	store  Store
	policy *bluemonday.Policy
	logger *log.Logger
}

func New(store Store, logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.Default()
	}
	return &Merger{
		store:  store,
		policy: bluemonday.UGCPolicy(),
		logger: logger.WithPrefix("merge"),
	}
}

// pass holds the state of one merge. Origin ids are only ever looked up in
// statusIDs and accountIDs, which map them into the home namespace.
type pass struct {
	m          *Merger
	ctx        context.Context
	localHost  string
	sourceHost string

	batch      domain.MappingBatch
	known      map[string]*domain.Post
	accounts   map[string]domain.Account
	statusIDs  map[string]string
	accountIDs map[string]string
}

func (m *Merger) newPass(ctx context.Context, localHost, sourceHost string) *pass {
	return &pass{
		m:          m,
		ctx:        ctx,
		localHost:  localHost,
		sourceHost: sourceHost,
		known:      map[string]*domain.Post{},
		accounts:   map[string]domain.Account{},
		statusIDs:  map[string]string{},
		accountIDs: map[string]string{},
	}
}

// index records a post the home instance returned. Its mappings come for free.
func (p *pass) index(post *domain.Post) {
	if post.URI == "" {
		return
	}
	p.known[post.URI] = post

	ident := ids.Identify(p.localHost, post)
	if ident.RemoteHost == "" {
		// tag: and urn: URIs name no origin, they only take part in dedupe
		return
	}
	mapping := domain.StatusMapping{
		Mapping: domain.Mapping{MappingData: domain.MappingData{
			URI:        post.URI,
			LocalHost:  p.localHost,
			LocalID:    post.ID,
			RemoteHost: ident.RemoteHost,
			RemoteID:   ident.RemoteID,
		}},
		AuthorUsername: username(post.Account),
	}
	p.batch.PutStatus(domain.LocalStatusIndex, mapping)
	if ident.RemoteHost != p.localHost {
		p.batch.PutStatus(domain.RemoteStatusIndex, mapping)
	}

	if post.Account == nil {
		return
	}
	user, host := ids.SplitAcct(post.Account.Acct, p.localHost)
	p.accounts[user+"@"+host] = *post.Account
	p.batch.PutAccount(domain.LocalAccountIndex, domain.AccountMapping{Mapping: domain.Mapping{MappingData: domain.MappingData{
		URI:        post.Account.URI,
		LocalHost:  p.localHost,
		LocalID:    post.Account.ID,
		RemoteHost: host,
		RemoteID:   user,
	}}})
	p.batch.PutAccount(domain.RemoteAccountIndex, domain.AccountMapping{Mapping: domain.Mapping{MappingData: domain.MappingData{
		URI:        post.Account.URI,
		LocalHost:  p.localHost,
		LocalID:    post.Account.ID,
		RemoteHost: host,
		RemoteID:   user,
	}}})
}

// adopt moves an origin post into the home namespace in place. It reports
// false for posts that must not be emitted: those already indexed, and
// those the origin claims live on the home instance although the home
// instance did not return them (most likely deleted there).
func (p *pass) adopt(post *domain.Post) (bool, error) {
	if known, ok := p.known[post.URI]; ok {
		p.statusIDs[post.ID] = known.ID
		if post.Account != nil && known.Account != nil {
			p.accountIDs[post.Account.ID] = known.Account.ID
		}
		return false, nil
	}

	ident := p.identify(post)
	if ident.RemoteHost == p.localHost {
		p.statusIDs[post.ID] = ident.RemoteID
		return false, nil
	}

	originID := post.ID
	post.ID = ids.Encode(domain.KindStatus, ident.RemoteHost, ident.RemoteID)
	p.statusIDs[originID] = post.ID
	p.known[post.URI] = post

	author := username(post.Account)
	// the origin's own view of the post, and the home view without a local id yet
	p.batch.PutStatusIfAbsent(domain.LocalStatusIndex, domain.StatusMapping{
		Mapping: domain.Mapping{MappingData: domain.MappingData{
			URI:        post.URI,
			LocalHost:  ident.RemoteHost,
			LocalID:    ident.RemoteID,
			RemoteHost: ident.RemoteHost,
			RemoteID:   ident.RemoteID,
		}},
		AuthorUsername: author,
	})
	p.batch.PutStatusIfAbsent(domain.RemoteStatusIndex, domain.StatusMapping{
		Mapping: domain.Mapping{MappingData: domain.MappingData{
			URI:        post.URI,
			LocalHost:  p.localHost,
			RemoteHost: ident.RemoteHost,
			RemoteID:   ident.RemoteID,
		}},
		AuthorUsername: author,
	})

	if post.Account != nil {
		if err := p.adoptAccount(post); err != nil {
			return false, err
		}
	}

	post.Content = p.m.policy.Sanitize(post.Content)
	post.Application = &domain.Application{Name: Application}
	return true, nil
}

// identify is ids.Identify for origin posts. A URI without a host is
// attributed to the instance that served the post.
func (p *pass) identify(post *domain.Post) ids.Identity {
	ident := ids.Identify(p.localHost, post)
	if ident.RemoteHost == "" {
		ident.RemoteHost = p.sourceHost
		ident.RemoteID = ids.HashURI(post.URI)
		ident.RemoteKey = domain.RemoteKey(p.localHost, ident.RemoteHost, ident.RemoteID)
	}
	return ident
}

// mergeable reports whether an origin post can be given an identity at all
func mergeable(post *domain.Post) bool {
	if post.URI == "" || post.ID == "" {
		return false
	}
	return post.Reblog == nil || mergeable(post.Reblog)
}

// adoptAccount gives the author one id per handle for the whole pass: the
// home id when the home instance knows the account, a synthetic one otherwise
func (p *pass) adoptAccount(post *domain.Post) error {
	acc := post.Account
	originID := acc.ID
	user, host := ids.SplitAcct(acc.Acct, p.sourceHost)
	handle := user + "@" + host

	if seen, ok := p.accounts[handle]; ok {
		post.Account = &seen
		p.accountIDs[originID] = seen.ID
		return nil
	}

	acc.Acct = handle
	existing, err := p.m.store.ReadAccountByRemoteKey(p.ctx, domain.RemoteKey(p.localHost, host, user))
	if err != nil {
		return fmt.Errorf("reading account %s: %w", handle, err)
	}
	if existing != nil && existing.IsLocal() {
		acc.ID = existing.LocalID
	} else {
		acc.ID = ids.Encode(domain.KindAccount, host, user)
		p.batch.PutAccountIfAbsent(domain.RemoteAccountIndex, domain.AccountMapping{Mapping: domain.Mapping{MappingData: domain.MappingData{
			URI:        acc.URI,
			LocalHost:  p.localHost,
			RemoteHost: host,
			RemoteID:   user,
		}}})
	}
	p.accountIDs[originID] = acc.ID
	p.accounts[handle] = *acc
	return nil
}

// rewrite maps the references of an injected post into the home namespace.
// References that cannot be mapped would point into the origin namespace,
// so they are dropped.
func (p *pass) rewrite(post *domain.Post) {
	if post.InReplyToID != nil {
		if id, ok := p.statusIDs[*post.InReplyToID]; ok {
			post.InReplyToID = &id
		} else {
			post.InReplyToID = nil
		}
	}
	if post.InReplyToAccountID != nil {
		if id, ok := p.accountIDs[*post.InReplyToAccountID]; ok {
			post.InReplyToAccountID = &id
		} else {
			post.InReplyToAccountID = nil
		}
	}
}

func (p *pass) commit() error {
	if err := p.m.store.ApplyBatch(p.ctx, p.batch); err != nil {
		return fmt.Errorf("persisting %d mappings: %w", p.batch.Len(), err)
	}
	p.m.logger.Debug("merge persisted", "mappings", p.batch.Len())
	return nil
}

func username(acc *domain.Account) string {
	if acc == nil {
		return ""
	}
	if acc.Username != "" {
		return acc.Username
	}
	user, _ := ids.SplitAcct(acc.Acct, "")
	return user
}
