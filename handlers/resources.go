package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/pkg/middleware"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
)

// Resource is the surface shared by every typed resource service.
type Resource[N any, T any] interface {
	Create(ctx context.Context, user service.Principal, payload N) (*service.Ack, error)
	RetrieveOne(ctx context.Context, user service.Principal, uid string) (*T, error)
	RetrieveMultiple(ctx context.Context, user service.Principal, opts service.ListOptions) ([]*T, error)
	RetrieveArchived(ctx context.Context, user service.Principal, page, pageSize int) ([]*T, error)
	Update(ctx context.Context, user service.Principal, payload N, uid, etag string) (*service.Ack, error)
	ArchiveAction(ctx context.Context, user service.Principal, action service.ArchiveAction, uid, etag string) (*service.Ack, error)
	Delete(ctx context.Context, user service.Principal, uid string) error
}

// resourceHandler serves the shared CRUD routes for one resource.
type resourceHandler[N any, T any] struct {
	svc    Resource[N, T]
	guards []service.Guard
	// list overrides the plain listing, e.g. for free-text search.
	list func(c *gin.Context, page, pageSize int) (interface{}, bool, error)
}

// ResourceOption customises RegisterResource.
type ResourceOption[N any, T any] func(*resourceHandler[N, T])

// Versioned also rejects a caller-supplied splash_md.version.
func Versioned[N any, T any]() ResourceOption[N, T] {
	return func(h *resourceHandler[N, T]) {
		h.guards = append(h.guards, service.CheckVersionedMetadata)
	}
}

// WithListOverride lets a resource answer GET "" itself. The function
// reports false when it did not handle the request.
func WithListOverride[N any, T any](fn func(c *gin.Context, page, pageSize int) (interface{}, bool, error)) ResourceOption[N, T] {
	return func(h *resourceHandler[N, T]) { h.list = fn }
}

// RegisterResource mounts the CRUD routes under path and returns the group
// so callers can add resource-specific routes.
func RegisterResource[N any, T any](rg *gin.RouterGroup, path string, svc Resource[N, T], opts ...ResourceOption[N, T]) *gin.RouterGroup {
	h := &resourceHandler[N, T]{
		svc:    svc,
		guards: []service.Guard{service.CheckNoUID, service.CheckBaseMetadata},
	}
	for _, o := range opts {
		o(h)
	}
	g := rg.Group(path)
	g.GET("", h.listHandler)
	g.GET("/archived", h.archivedHandler)
	g.GET("/:uid", h.getHandler)
	g.POST("", h.createHandler)
	g.PUT("/:uid", h.updateHandler)
	g.PATCH("/:uid", h.archiveHandler)
	g.DELETE("/:uid", h.deleteHandler)
	return g
}

// principal returns the authenticated user, or nil.
func principal(c *gin.Context) service.Principal {
	if u := middleware.CurrentUser(c); u != nil {
		return u
	}
	return nil
}

// pageArgs reads page and page_size; defaults are 1 and 0 (service default).
func pageArgs(c *gin.Context) (int, int, error) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := intQuery(c, "page_size", 0)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", service.ErrBadPageArgument, name, raw)
	}
	return n, nil
}

// ifMatch returns the etag precondition without surrounding quotes.
func ifMatch(c *gin.Context) string {
	etag := strings.TrimSpace(c.GetHeader("If-Match"))
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// bindPayload decodes the request body into N after checking the raw object
// against the guards.
func bindPayload[N any](c *gin.Context, guards []service.Guard) (N, error) {
	var payload N
	raw, err := c.GetRawData()
	if err != nil {
		return payload, fmt.Errorf("%w: %v", service.ErrBadPayload, err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return payload, fmt.Errorf("%w: body must be a JSON object", service.ErrBadPayload)
	}
	for _, g := range guards {
		if err := g(bson.M(obj)); err != nil {
			return payload, err
		}
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", service.ErrBadPayload, err)
	}
	return payload, nil
}

func (h *resourceHandler[N, T]) listHandler(c *gin.Context) {
	page, size, err := pageArgs(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.list != nil {
		out, handled, err := h.list(c, page, size)
		if err != nil {
			respondError(c, err)
			return
		}
		if handled {
			c.JSON(http.StatusOK, out)
			return
		}
	}
	opts := service.ListOptions{Page: page, PageSize: size}
	if v, ok := c.GetQuery("include_archived"); ok {
		include, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, fmt.Errorf("%w: include_archived=%q", service.ErrBadPayload, v))
			return
		}
		exclude := !include
		opts.ExcludeArchived = &exclude
	}
	out, err := h.svc.RetrieveMultiple(c.Request.Context(), principal(c), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *resourceHandler[N, T]) archivedHandler(c *gin.Context) {
	page, size, err := pageArgs(c)
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := h.svc.RetrieveArchived(c.Request.Context(), principal(c), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *resourceHandler[N, T]) getHandler(c *gin.Context) {
	out, err := h.svc.RetrieveOne(c.Request.Context(), principal(c), c.Param("uid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *resourceHandler[N, T]) createHandler(c *gin.Context) {
	payload, err := bindPayload[N](c, h.guards)
	if err != nil {
		respondError(c, err)
		return
	}
	ack, err := h.svc.Create(c.Request.Context(), principal(c), payload)
	respondAck(c, http.StatusCreated, ack, err)
}

func (h *resourceHandler[N, T]) updateHandler(c *gin.Context) {
	payload, err := bindPayload[N](c, h.guards)
	if err != nil {
		respondError(c, err)
		return
	}
	ack, err := h.svc.Update(c.Request.Context(), principal(c), payload, c.Param("uid"), ifMatch(c))
	respondAck(c, http.StatusOK, ack, err)
}

func (h *resourceHandler[N, T]) archiveHandler(c *gin.Context) {
	var req struct {
		ArchiveAction string `json:"archive_action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", service.ErrBadPayload, err))
		return
	}
	ack, err := h.svc.ArchiveAction(c.Request.Context(), principal(c), service.ArchiveAction(req.ArchiveAction), c.Param("uid"), ifMatch(c))
	respondAck(c, http.StatusOK, ack, err)
}

func (h *resourceHandler[N, T]) deleteHandler(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), principal(c), c.Param("uid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
