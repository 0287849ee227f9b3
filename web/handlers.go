package web

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/engine"
	"github.com/deemkeen/fedmerge/util"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	svc    *engine.Service
	conf   *util.AppConfig
	logger *log.Logger
}

type mergeRequest struct {
	LocalHost string               `json:"localHost" binding:"required"`
	Root      domain.StatusMapping `json:"root"`
	Local     *domain.ReplyTree    `json:"local"`
	Remote    domain.ReplyTree     `json:"remote"`
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

func (h *handlers) instance(c *gin.Context) {
	host := util.NormalizeHost(c.Param("host"))
	rec := h.svc.GetInstanceInfo(c.Request.Context(), host, c.Query("force") == "true")
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) statusMapping(c *gin.Context) {
	res := h.svc.ResolveStatusID(c.Request.Context(), util.NormalizeHost(c.Param("host")), c.Param("id"))
	if res == nil {
		notFound(c, "Status mapping")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) statusContext(c *gin.Context) {
	tree, ok := h.svc.Thread(c.Request.Context(), util.NormalizeHost(c.Param("host")), c.Param("id"))
	if !ok {
		notFound(c, "Status")
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (h *handlers) mergeContext(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merge request: " + err.Error()})
		return
	}
	req.LocalHost = util.NormalizeHost(req.LocalHost)
	if !allowHome(c, h.conf, req.LocalHost) {
		return
	}
	for _, tree := range []*domain.ReplyTree{req.Local, &req.Remote} {
		if tree == nil {
			continue
		}
		if err := client.ValidateReplyTree(tree); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merge request: " + err.Error()})
			return
		}
	}
	if !req.Root.IsRemote() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Root has no remote identity"})
		return
	}
	req.Root.LocalHost = req.LocalHost
	c.JSON(http.StatusOK, h.svc.MergeContext(c.Request.Context(), req.LocalHost, req.Root, req.Local, req.Remote))
}

func (h *handlers) accountMapping(c *gin.Context) {
	m := h.svc.ResolveAccountID(c.Request.Context(), util.NormalizeHost(c.Param("host")), c.Param("id"))
	if m == nil {
		notFound(c, "Account mapping")
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) accountStatuses(c *gin.Context) {
	posts, ok := h.svc.AccountPosts(c.Request.Context(), util.NormalizeHost(c.Param("host")), c.Param("id"), c.Request.URL.Query())
	if !ok {
		notFound(c, "Account")
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (h *handlers) redirect(c *gin.Context) {
	raw := c.Query("url")
	host := hostOf(raw)
	if host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid url"})
		return
	}
	if !allowHome(c, h.conf, host) {
		return
	}
	target, ok := h.svc.NavigationRedirect(c.Request.Context(), raw)
	if !ok {
		notFound(c, "Redirect")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": target})
}

func (h *handlers) clearMetadata(c *gin.Context) {
	if err := h.svc.ClearMetadata(c.Request.Context()); err != nil {
		h.logger.Error("clearing metadata failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not clear metadata"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) feed(c *gin.Context) {
	host, id := util.NormalizeHost(c.Param("host")), c.Param("id")
	posts, ok := h.svc.AccountPosts(c.Request.Context(), host, id, nil)
	if !ok {
		c.String(http.StatusNotFound, "")
		return
	}
	rss, err := GetAccountRSS(h.conf, host, id, posts)
	if err != nil {
		h.logger.Warn("building feed failed", "host", host, "id", id, "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, rss)
}
