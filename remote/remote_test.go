package remote

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/client/clienttest"
	"github.com/deemkeen/fedmerge/db"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/instances"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts prune calls
type countingStore struct {
	*db.DB
	prunes atomic.Int32
}

func (s *countingStore) PruneContexts(ctx context.Context, olderThan time.Time) (int64, error) {
	s.prunes.Add(1)
	return s.DB.PruneContexts(ctx, olderThan)
}

type fixture struct {
	srv       *clienttest.Server
	store     *countingStore
	instances *instances.Cache
}

func setup(t *testing.T) fixture {
	t.Helper()
	srv := clienttest.NewServer()
	t.Cleanup(srv.Close)
	store, err := db.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	info := &client.InstanceInfo{URI: "b.example", Version: "4.2.1"}
	info.URLs.StreamingAPI = "wss://b.example"
	srv.Instance("b.example").Info = info

	cache := instances.New(store, srv.Client(), instances.Config{CheckTimeout: time.Second}, nil)
	return fixture{srv: srv, store: &countingStore{DB: store}, instances: cache}
}

func (f fixture) contexts(cfg Config) *ContextFetcher {
	return NewContextFetcher(f.srv.Client(), f.instances, f.store, cfg, nil)
}

func (f fixture) accounts(cfg Config) *AccountPosts {
	return NewAccountPosts(f.srv.Client(), f.instances, f.store, cfg, nil)
}

func rootMapping(remoteID string) domain.StatusMapping {
	return domain.StatusMapping{Mapping: domain.Mapping{MappingData: domain.MappingData{
		LocalHost: "a.example", LocalID: "987", RemoteHost: "b.example", RemoteID: remoteID,
	}}}
}

func originTree() domain.ReplyTree {
	return domain.ReplyTree{
		Ancestors:   []domain.Post{},
		Descendants: []domain.Post{clienttest.Post("43", "https://b.example/users/dave/statuses/43", "9", "dave")},
	}
}

func TestContextFetchAndCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.srv.Instance("b.example").Contexts["42"] = originTree()
	fetcher := f.contexts(Config{})

	tree, ok := fetcher.Fetch(ctx, rootMapping("42"))
	require.True(t, ok)
	require.Len(t, tree.Descendants, 1)
	assert.Equal(t, "43", tree.Descendants[0].ID)

	rec := f.instances.Get(ctx, "b.example")
	require.NotNil(t, rec.CanFetchContext)
	assert.True(t, *rec.CanFetchContext)

	_, ok = fetcher.Fetch(ctx, rootMapping("42"))
	assert.True(t, ok)
	assert.Equal(t, 1, f.srv.Calls("b.example", "/api/v1/statuses/42/context"), "the second fetch is served from the cache")
}

func TestContextForbiddenDisablesFetching(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	origin := f.srv.Instance("b.example")
	origin.Contexts["42"] = originTree()
	origin.ContextStatus = http.StatusUnauthorized
	fetcher := f.contexts(Config{})

	_, ok := fetcher.Fetch(ctx, rootMapping("42"))
	assert.False(t, ok)

	rec := f.instances.Get(ctx, "b.example")
	require.NotNil(t, rec.CanFetchContext)
	assert.False(t, *rec.CanFetchContext)
	assert.Equal(t, http.StatusUnauthorized, rec.LastErrorCode)

	_, ok = fetcher.Fetch(ctx, rootMapping("42"))
	assert.False(t, ok)
	assert.Equal(t, 1, f.srv.Calls("b.example", "/api/v1/statuses/42/context"))
}

func TestContextSkipsNonNativeIDs(t *testing.T) {
	f := setup(t)
	fetcher := f.contexts(Config{})

	_, ok := fetcher.Fetch(context.Background(), rootMapping("m1234"))
	assert.False(t, ok)
	assert.Zero(t, f.srv.TotalCalls("b.example"))
}

func TestContextUsesResolvedID(t *testing.T) {
	f := setup(t)
	f.srv.Instance("b.example").Contexts["4242"] = originTree()
	m := rootMapping("m1234")
	m.ResolvedID = "4242"

	_, ok := f.contexts(Config{}).Fetch(context.Background(), m)
	assert.True(t, ok)
}

func TestContextUnknownSoftware(t *testing.T) {
	f := setup(t)
	// no instance info at all, not the origin software
	f.srv.Instance("c.example").Contexts["42"] = originTree()
	m := rootMapping("42")
	m.RemoteHost = "c.example"

	_, ok := f.contexts(Config{}).Fetch(context.Background(), m)
	assert.False(t, ok)
	assert.Zero(t, f.srv.Calls("c.example", "/api/v1/statuses/42/context"))
}

func TestContextSkipList(t *testing.T) {
	f := setup(t)
	f.srv.Instance("b.example").Contexts["42"] = originTree()
	fetcher := f.contexts(Config{Skip: func(host string) bool { return host == "b.example" }})

	_, ok := fetcher.Fetch(context.Background(), rootMapping("42"))
	assert.False(t, ok)
	assert.Zero(t, f.srv.TotalCalls("b.example"))
}

func TestContextTimeout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.instances.Get(ctx, "b.example")
	origin := f.srv.Instance("b.example")
	origin.Contexts["42"] = originTree()
	origin.Delay = 150 * time.Millisecond
	fetcher := f.contexts(Config{RequestTimeout: 20 * time.Millisecond})

	_, ok := fetcher.Fetch(ctx, rootMapping("42"))
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		tree, _ := f.store.ReadContext(ctx, "b.example:42", time.Minute)
		return tree != nil
	}, 2*time.Second, 10*time.Millisecond, "the late answer is cached for the next caller")
}

func TestContextPruneIsThrottled(t *testing.T) {
	f := setup(t)
	f.srv.Instance("b.example").Contexts["42"] = originTree()
	f.srv.Instance("b.example").Contexts["43"] = originTree()
	fetcher := f.contexts(Config{PruneInterval: time.Hour})

	fetcher.Fetch(context.Background(), rootMapping("42"))
	fetcher.Fetch(context.Background(), rootMapping("43"))
	assert.Equal(t, int32(1), f.store.prunes.Load())
}

func carolMapping() domain.AccountMapping {
	return domain.AccountMapping{Mapping: domain.Mapping{MappingData: domain.MappingData{
		Kind: domain.KindAccount, LocalHost: "a.example", LocalID: "11", RemoteHost: "b.example", RemoteID: "carol",
	}}}
}

func TestAccountPostsResolvesOriginID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	origin := f.srv.Instance("b.example")
	origin.Lookup["carol"] = domain.Account{ID: "7", Acct: "carol", Username: "carol"}
	origin.AccountStatuses["7"] = []domain.Post{clienttest.Post("42", "https://b.example/users/carol/statuses/42", "7", "carol")}
	fetcher := f.accounts(Config{})

	posts, ok := fetcher.Fetch(ctx, carolMapping(), url.Values{"limit": {"20"}})
	require.True(t, ok)
	require.Len(t, posts, 1)

	stored, err := f.store.ReadAccountByRemoteKey(ctx, "a.example:b.example:carol")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "7", stored.ResolvedID)

	rec := f.instances.Get(ctx, "b.example")
	require.NotNil(t, rec.CanFetchUserPosts)
	assert.True(t, *rec.CanFetchUserPosts)

	m := carolMapping()
	m.ResolvedID = "7"
	_, ok = fetcher.Fetch(ctx, m, nil)
	assert.True(t, ok)
	assert.Equal(t, 1, f.srv.Calls("b.example", "/api/v1/accounts/lookup"))
}

func TestAccountPostsForbidden(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	origin := f.srv.Instance("b.example")
	origin.Lookup["carol"] = domain.Account{ID: "7", Acct: "carol"}
	origin.AccountStatuses["7"] = []domain.Post{}
	origin.AccountStatusesStatus = http.StatusForbidden
	fetcher := f.accounts(Config{})

	_, ok := fetcher.Fetch(ctx, carolMapping(), nil)
	assert.False(t, ok)

	rec := f.instances.Get(ctx, "b.example")
	require.NotNil(t, rec.CanFetchUserPosts)
	assert.False(t, *rec.CanFetchUserPosts)

	_, ok = fetcher.Fetch(ctx, carolMapping(), nil)
	assert.False(t, ok)
	assert.Equal(t, 1, f.srv.Calls("b.example", "/api/v1/accounts/7/statuses"))
}

func TestAccountPostsUnknownAccount(t *testing.T) {
	f := setup(t)
	_, ok := f.accounts(Config{}).Fetch(context.Background(), carolMapping(), nil)
	assert.False(t, ok)
}

func TestOriginQuery(t *testing.T) {
	in := url.Values{
		"limit":           {"40"},
		"max_id":          {"s:s:b.example:9"},
		"since_id":        {"100"},
		"exclude_replies": {"true"},
	}
	out := OriginQuery(in)
	assert.Equal(t, url.Values{"limit": {"40"}, "exclude_replies": {"true"}}, out)
}
