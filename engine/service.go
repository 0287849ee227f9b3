// Package engine wires the resolvers, fetchers and the merger into the one
// Service a process runs. Nothing past this boundary returns an error for
// content that is missing, unreachable or refused: callers get nil or false
// and fall back to what the home instance served.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/cache"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/db"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/instances"
	"github.com/deemkeen/fedmerge/merge"
	"github.com/deemkeen/fedmerge/remote"
	"github.com/deemkeen/fedmerge/resolve"
	"github.com/deemkeen/fedmerge/util"
)

const (
	metaFingerprint = "fingerprint"
	metaWatermark   = "watermark"
)

// capabilityStore holds instance records and cached contexts
type capabilityStore interface {
	instances.Store
	remote.ContextStore
}

// Deps are the stores and the client a Service runs on. Redis is optional.
type Deps struct {
	Store  *db.DB
	Redis  *cache.RedisStore
	Client *client.Client
}

type Service struct {
	cfg    *util.AppConfig
	store  *db.DB
	redis  *cache.RedisStore
	client *client.Client

	instances *instances.Cache
	statuses  *resolve.StatusResolver
	accounts  *resolve.AccountResolver
	merger    *merge.Merger
	contexts  *remote.ContextFetcher
	posts     *remote.AccountPosts

	logger *log.Logger
}

// Open builds a Service from cfg, opening the database and, when
// configured, Redis
func Open(ctx context.Context, cfg *util.AppConfig, logger *log.Logger) (*Service, error) {
	store, err := db.Open(cfg.Conf.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	deps := Deps{
		Store: store,
		Client: client.New(client.Options{
			UserAgent: cfg.Conf.UserAgent,
			Rate:      cfg.Conf.OutboundRate,
			Burst:     cfg.Conf.OutboundBurst,
			Logger:    logger,
		}),
	}
	if cfg.Conf.RedisUrl != "" {
		deps.Redis, err = cache.NewRedisStore(cfg.Conf.RedisUrl, cfg.ContentTTL())
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	svc, err := New(ctx, cfg, deps, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// New wires a Service on deps. The returned Service owns deps and closes
// them in Close, also when an error is returned.
func New(ctx context.Context, cfg *util.AppConfig, deps Deps, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		cfg:    cfg,
		store:  deps.Store,
		redis:  deps.Redis,
		client: deps.Client,
		logger: logger.WithPrefix("engine"),
	}

	var capabilities capabilityStore = deps.Store
	if deps.Redis != nil {
		capabilities = deps.Redis
	}

	s.instances = instances.New(capabilities, deps.Client, instances.Config{
		TTL:          cfg.InstanceTTL(),
		CheckTimeout: cfg.InstanceCheckTimeout(),
		ProbeCeiling: cfg.ProbeCeiling(),
		Skip:         cfg.IsSkipped,
	}, logger)

	resolveCfg := resolve.Config{
		StatusRequestTimeout: cfg.StatusRequestTimeout(),
		SearchTimeout:        cfg.SearchTimeout(),
		Skip:                 cfg.IsSkipped,
	}
	s.statuses = resolve.NewStatusResolver(deps.Store, deps.Client, resolveCfg, logger)
	s.accounts = resolve.NewAccountResolver(deps.Store, deps.Client, resolveCfg, logger)
	s.merger = merge.New(deps.Store, logger)

	remoteCfg := remote.Config{
		ContentTTL:     cfg.ContentTTL(),
		RequestTimeout: cfg.ContextRequestTimeout(),
		Skip:           cfg.IsSkipped,
	}
	s.contexts = remote.NewContextFetcher(deps.Client, s.instances, capabilities, remoteCfg, logger)
	s.posts = remote.NewAccountPosts(deps.Client, s.instances, deps.Store, remoteCfg, logger)

	if err := s.loadWatermark(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// loadWatermark invalidates every instance record probed under different
// settings than the current ones
func (s *Service) loadWatermark(ctx context.Context) error {
	fingerprint := s.cfg.Fingerprint()
	stored, err := s.store.ReadMeta(ctx, metaFingerprint)
	if err != nil {
		return fmt.Errorf("reading settings fingerprint: %w", err)
	}
	raw, err := s.store.ReadMeta(ctx, metaWatermark)
	if err != nil {
		return fmt.Errorf("reading watermark: %w", err)
	}
	watermark, _ := strconv.ParseInt(raw, 10, 64)

	if stored != fingerprint {
		watermark = time.Now().UnixMilli()
		s.logger.Info("settings changed, instance records will be probed again", "fingerprint", fingerprint)
		if err := s.store.WriteMeta(ctx, metaWatermark, strconv.FormatInt(watermark, 10)); err != nil {
			return fmt.Errorf("writing watermark: %w", err)
		}
		if err := s.store.WriteMeta(ctx, metaFingerprint, fingerprint); err != nil {
			return fmt.Errorf("writing settings fingerprint: %w", err)
		}
	}
	s.instances.SetWatermark(time.UnixMilli(watermark))
	return nil
}

func (s *Service) Config() *util.AppConfig {
	return s.cfg
}

// GetInstanceInfo returns what is known about host, probing it when the
// record is stale or force is set
func (s *Service) GetInstanceInfo(ctx context.Context, host string, force bool) domain.InstanceRecord {
	if force {
		return s.instances.Get(ctx, host, instances.Force())
	}
	return s.instances.Get(ctx, host)
}

// ClearMetadata forgets every mapping, instance record and cached context
func (s *Service) ClearMetadata(ctx context.Context) error {
	if err := s.store.ClearMetadata(ctx); err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.Clear(ctx); err != nil {
			return fmt.Errorf("clearing redis: %w", err)
		}
	}
	s.logger.Info("metadata cleared")
	return nil
}

// Stats returns the row count of each mapping table
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	return s.store.CountMappings(ctx)
}

func (s *Service) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
