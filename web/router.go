package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/engine"
	"github.com/deemkeen/fedmerge/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const maxMergeBody = 1 * 1024 * 1024 // 1MB

// Router serves the API until ctx is done
func Router(ctx context.Context, svc *engine.Service, logger *log.Logger) error {
	conf := svc.Config()
	addr := fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewEngine(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("stopping http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewEngine builds the gin engine with every route
func NewEngine(svc *engine.Service, logger *log.Logger) *gin.Engine {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("web")
	conf := svc.Config()
	h := &handlers{svc: svc, conf: conf, logger: logger}

	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(RequestIDMiddleware())
	g.Use(LoggerMiddleware(logger))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// 10 requests per second per IP, burst of 20
	g.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(10), 20)))

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": util.GetVersion()})
	})

	api := g.Group("/api/v1")
	api.GET("/instances/:host", h.instance)
	api.POST("/contexts/merge", MaxBytesMiddleware(maxMergeBody), h.mergeContext)
	api.GET("/redirect", h.redirect)
	api.DELETE("/metadata", h.clearMetadata)

	home := api.Group("", AllowHomeMiddleware(conf))
	home.GET("/statuses/:host/:id/mapping", h.statusMapping)
	home.GET("/statuses/:host/:id/context", h.statusContext)
	home.GET("/accounts/:host/:id/mapping", h.accountMapping)
	home.GET("/accounts/:host/:id/statuses", h.accountStatuses)

	g.GET("/feed/:host/:id", AllowHomeMiddleware(conf), h.feed)

	return g
}

