// Package instances probes remote servers and caches what they support.
package instances

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/flight"
)

// Store persists instance records, sqlite or redis
type Store interface {
	ReadInstance(ctx context.Context, host string) (*domain.InstanceRecord, error)
	WriteInstance(ctx context.Context, rec domain.InstanceRecord) error
}

// Prober fetches the self-description of an instance
type Prober interface {
	GetInstance(ctx context.Context, host string) (*client.InstanceInfo, error)
}

type Config struct {
	TTL time.Duration
	// CheckTimeout bounds how long callers wait for a probe
	CheckTimeout time.Duration
	// ProbeCeiling bounds the probe request itself
	ProbeCeiling time.Duration
	Skip         func(host string) bool
}

type Cache struct {
	store     Store
	prober    Prober
	cfg       Config
	probes    *flight.Group[domain.InstanceRecord]
	watermark atomic.Int64
	now       func() time.Time
	logger    *log.Logger
}

func New(store Store, prober Prober, cfg Config, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ProbeCeiling == 0 {
		cfg.ProbeCeiling = 2 * time.Second
	}
	if cfg.Skip == nil {
		cfg.Skip = func(string) bool { return false }
	}
	return &Cache{
		store:  store,
		prober: prober,
		cfg:    cfg,
		probes: flight.New[domain.InstanceRecord]("instances", logger),
		now:    time.Now,
		logger: logger.WithPrefix("instances"),
	}
}

// SetWatermark marks every record probed before t as stale
func (c *Cache) SetWatermark(t time.Time) {
	c.watermark.Store(t.UnixMilli())
}

func (c *Cache) Watermark() time.Time {
	return time.UnixMilli(c.watermark.Load())
}

type getOptions struct {
	force bool
}

type GetOption func(*getOptions)

// Force probes even when the stored record is fresh
func Force() GetOption {
	return func(o *getOptions) { o.force = true }
}

// Get returns what is known about host, probing it when the stored record is
// missing or stale. It never fails: an unreachable instance is recorded as
// such, and a probe that outlives CheckTimeout leaves the caller with the
// stored record.
func (c *Cache) Get(ctx context.Context, host string, opts ...GetOption) domain.InstanceRecord {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	if c.cfg.Skip(host) {
		return domain.InstanceRecord{Host: host}
	}

	rec := domain.InstanceRecord{Host: host}
	stored, err := c.store.ReadInstance(ctx, host)
	if err != nil {
		c.logger.Warn("reading instance record failed", "host", host, "err", err)
	} else if stored != nil {
		rec = *stored
	}

	if !o.force && rec.Fresh(c.now(), c.cfg.TTL, c.Watermark()) {
		return rec
	}

	probed, ok := c.probes.Perform(ctx, host, c.cfg.CheckTimeout, func(ctx context.Context) (domain.InstanceRecord, error) {
		return c.probe(ctx, rec), nil
	})
	if !ok {
		return rec
	}
	return probed
}

// Save stores rec as is; fetchers use it to record what an endpoint allowed
func (c *Cache) Save(ctx context.Context, rec domain.InstanceRecord) error {
	return c.store.WriteInstance(ctx, rec)
}

func (c *Cache) probe(ctx context.Context, rec domain.InstanceRecord) domain.InstanceRecord {
	now := c.now()
	prevChecked := rec.LastCheckedAt
	rec.LastRequestAt = domain.TimePtr(now)
	rec.LastCheckedAt = domain.TimePtr(now)

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeCeiling)
	defer cancel()

	info, err := c.prober.GetInstance(probeCtx, rec.Host)
	if err != nil {
		code := client.Classify(err)
		rec.LastRequestOk = domain.BoolPtr(false)
		rec.LastErrorCode = code
		switch code {
		case 404:
			rec.IsOriginSoftwareKnown = domain.BoolPtr(false)
		case domain.ErrCodeMalformed:
			// the server answered, just not with anything readable
			rec.AnyRequestSucceeded = true
		}
		c.logger.Info("instance probe failed", "host", rec.Host, "code", code)
		c.save(ctx, rec)
		return rec
	}

	if info.Version != "" {
		versionChanged := rec.SoftwareVersion != "" && rec.SoftwareVersion != info.Version
		predatesWatermark := prevChecked != nil && prevChecked.Before(c.Watermark())
		if versionChanged || predatesWatermark {
			rec.CanFetchContext = nil
		}
		detection := Detect(info)
		rec.SoftwareVersion = info.Version
		rec.SoftwareName = detection.Software
		rec.IsOriginSoftwareKnown = domain.BoolPtr(detection.Known)
		rec.IsCompatible = detection.Compatible
	} else {
		rec.SoftwareVersion = ""
		rec.IsOriginSoftwareKnown = domain.BoolPtr(false)
	}

	rec.LastRequestOk = domain.BoolPtr(true)
	rec.AnyRequestSucceeded = true
	rec.LastErrorCode = 0
	c.logger.Debug("instance probed", "host", rec.Host, "software", rec.SoftwareName, "version", rec.SoftwareVersion)
	c.save(ctx, rec)
	return rec
}

func (c *Cache) save(ctx context.Context, rec domain.InstanceRecord) {
	if err := c.store.WriteInstance(ctx, rec); err != nil {
		c.logger.Warn("saving instance record failed", "host", rec.Host, "err", err)
	}
}
