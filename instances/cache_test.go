package instances

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/client/clienttest"
	"github.com/deemkeen/fedmerge/db"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mastodonInfo(version string) *client.InstanceInfo {
	info := &client.InstanceInfo{URI: "b.example", Version: version}
	info.URLs.StreamingAPI = "wss://b.example"
	return info
}

func setup(t *testing.T, cfg Config) (*Cache, *clienttest.Server, *db.DB) {
	t.Helper()
	srv := clienttest.NewServer()
	t.Cleanup(srv.Close)
	store, err := db.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = time.Second
	}
	return New(store, srv.Client(), cfg, nil), srv, store
}

func TestGetProbesAndCaches(t *testing.T) {
	cache, srv, _ := setup(t, Config{})
	srv.Instance("b.example").Info = mastodonInfo("4.2.1")
	ctx := context.Background()

	rec := cache.Get(ctx, "b.example")
	require.NotNil(t, rec.IsOriginSoftwareKnown)
	assert.True(t, *rec.IsOriginSoftwareKnown)
	assert.True(t, rec.IsCompatible)
	assert.Equal(t, "mastodon", rec.SoftwareName)
	assert.Equal(t, "4.2.1", rec.SoftwareVersion)
	assert.True(t, *rec.LastRequestOk)
	assert.NotNil(t, rec.LastCheckedAt)

	again := cache.Get(ctx, "b.example")
	assert.Equal(t, "4.2.1", again.SoftwareVersion)
	assert.Equal(t, 1, srv.Calls("b.example", "/api/v1/instance"), "a fresh record needs no probe")

	cache.Get(ctx, "b.example", Force())
	assert.Equal(t, 2, srv.Calls("b.example", "/api/v1/instance"))
}

func TestGetCompatibleSoftware(t *testing.T) {
	cache, srv, _ := setup(t, Config{})
	srv.Instance("p.example").Info = &client.InstanceInfo{Version: "2.7.2 (compatible; Pleroma 2.5.0)"}

	rec := cache.Get(context.Background(), "p.example")
	assert.False(t, *rec.IsOriginSoftwareKnown)
	assert.True(t, rec.IsCompatible)
	assert.Equal(t, "pleroma", rec.SoftwareName)
	assert.True(t, rec.KnownNotOrigin())
}

func TestGetClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(inst *clienttest.Instance)
		wantCode int
	}{
		{"not found", func(inst *clienttest.Instance) {}, 404},
		{"malformed", func(inst *clienttest.Instance) { inst.InfoRaw = "<html>" }, domain.ErrCodeMalformed},
		{"server error", func(inst *clienttest.Instance) { inst.InfoRaw = "{}"; inst.InfoStatus = 500 }, 500},
		{"timeout", func(inst *clienttest.Instance) {
			inst.Info = mastodonInfo("4.2.1")
			inst.Delay = 300 * time.Millisecond
		}, domain.ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, srv, _ := setup(t, Config{ProbeCeiling: 50 * time.Millisecond})
			tt.prepare(srv.Instance("b.example"))

			rec := cache.Get(context.Background(), "b.example")
			assert.Equal(t, tt.wantCode, rec.LastErrorCode)
			require.NotNil(t, rec.LastRequestOk)
			assert.False(t, *rec.LastRequestOk)
		})
	}
}

func TestGetNotFoundMeansUnknownSoftware(t *testing.T) {
	cache, srv, _ := setup(t, Config{})
	srv.Instance("b.example")

	rec := cache.Get(context.Background(), "b.example")
	assert.True(t, rec.KnownNotOrigin())
}

func TestGetNetworkFailure(t *testing.T) {
	store, err := db.Open(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()
	cache := New(store, client.New(client.Options{Scheme: "http"}), Config{CheckTimeout: time.Second}, nil)

	// nothing listens on port 1
	rec := cache.Get(context.Background(), "127.0.0.1:1")
	assert.Equal(t, domain.ErrCodeNetwork, rec.LastErrorCode)
	assert.Nil(t, rec.IsOriginSoftwareKnown, "an unreachable host may still run anything")
}

func TestGetSkipList(t *testing.T) {
	cache, srv, _ := setup(t, Config{Skip: func(host string) bool { return strings.HasSuffix(host, ".skip") }})
	srv.Instance("b.skip").Info = mastodonInfo("4.2.1")

	rec := cache.Get(context.Background(), "b.skip")
	assert.Equal(t, domain.InstanceRecord{Host: "b.skip"}, rec)
	assert.Equal(t, 0, srv.TotalCalls("b.skip"))
}

func TestWatermarkForcesReprobe(t *testing.T) {
	cache, srv, _ := setup(t, Config{})
	srv.Instance("b.example").Info = mastodonInfo("4.2.1")
	ctx := context.Background()

	rec := cache.Get(ctx, "b.example")
	rec.CanFetchContext = domain.BoolPtr(false)
	require.NoError(t, cache.Save(ctx, rec))

	time.Sleep(5 * time.Millisecond)
	cache.SetWatermark(time.Now())

	rec = cache.Get(ctx, "b.example")
	assert.Equal(t, 2, srv.Calls("b.example", "/api/v1/instance"))
	assert.Nil(t, rec.CanFetchContext, "settings changed since the last probe")
}

func TestVersionChangeResetsContextFlag(t *testing.T) {
	cache, srv, _ := setup(t, Config{})
	inst := srv.Instance("b.example")
	inst.Info = mastodonInfo("4.2.1")
	ctx := context.Background()

	rec := cache.Get(ctx, "b.example")
	rec.CanFetchContext = domain.BoolPtr(false)
	require.NoError(t, cache.Save(ctx, rec))

	rec = cache.Get(ctx, "b.example", Force())
	require.NotNil(t, rec.CanFetchContext, "same version keeps the flag")
	assert.False(t, *rec.CanFetchContext)

	inst.Info = mastodonInfo("4.3.0")
	rec = cache.Get(ctx, "b.example", Force())
	assert.Nil(t, rec.CanFetchContext)
	assert.Equal(t, "4.3.0", rec.SoftwareVersion)
}

func TestSlowProbeReturnsStoredRecordAndFinishes(t *testing.T) {
	cache, srv, store := setup(t, Config{CheckTimeout: 20 * time.Millisecond, ProbeCeiling: time.Second})
	inst := srv.Instance("b.example")
	inst.Info = mastodonInfo("4.2.1")
	inst.Delay = 150 * time.Millisecond
	ctx := context.Background()

	rec := cache.Get(ctx, "b.example")
	assert.Equal(t, domain.InstanceRecord{Host: "b.example"}, rec)

	require.Eventually(t, func() bool {
		stored, _ := store.ReadInstance(ctx, "b.example")
		return stored != nil && stored.SoftwareVersion == "4.2.1"
	}, 2*time.Second, 10*time.Millisecond)

	rec = cache.Get(ctx, "b.example")
	assert.Equal(t, "4.2.1", rec.SoftwareVersion)
	assert.Equal(t, 1, srv.Calls("b.example", "/api/v1/instance"))
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		info *client.InstanceInfo
		want Detection
	}{
		{"mastodon", mastodonInfo("4.2.1"), Detection{Software: "mastodon", Known: true, Compatible: true}},
		{"compatible wins over streaming url", func() *client.InstanceInfo {
			info := mastodonInfo("3.0.0 (compatible; Akkoma 3.10)")
			return info
		}(), Detection{Software: "akkoma", Compatible: true}},
		{"unknown", &client.InstanceInfo{Version: "1.0"}, Detection{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.info))
		})
	}
}
