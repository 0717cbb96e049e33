// Package httpapi serves tenant files over HTTP.
//
// Two routes are registered on the group handed to RegisterRoutes:
//
//	GET <group>/serve/*path     inline
//	GET <group>/download/*path  as attachment
//
// Missing files, traversal attempts, symbolic links that leave the tenant,
// directories and files the caller's role may not read all answer 404, so the responses cannot be used to
// map the tree.
package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/files"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// DefaultTenant is used when Options.Tenant is nil.
const DefaultTenant = "public"

// RoleFunc returns the role id of the caller. Lower ids are more
// privileged; a file is readable when role <= its min_role_read.
type RoleFunc func(c *gin.Context) int

// TenantFunc returns the tenant a request addresses.
type TenantFunc func(c *gin.Context) string

// Options configures a Handler.
type Options struct {
	// Role defaults to the public role (100), which reads only files with
	// min_role_read 100.
	Role RoleFunc

	// Tenant defaults to DefaultTenant.
	Tenant TenantFunc
}

// Handler serves files of a Manager.
type Handler struct {
	files  *files.Manager
	role   RoleFunc
	tenant TenantFunc
}

// NewHandler creates a Handler.
func NewHandler(m *files.Manager, opts Options) *Handler {
	h := &Handler{files: m, role: opts.Role, tenant: opts.Tenant}
	if h.role == nil {
		h.role = func(*gin.Context) int { return meta.DefaultMinRoleRead }
	}
	if h.tenant == nil {
		h.tenant = func(*gin.Context) string { return DefaultTenant }
	}
	return h
}

// RegisterRoutes mounts the serve and download routes.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/serve/*path", h.Serve)
	g.GET("/download/*path", h.Download)
}

// Serve sends a file inline.
func (h *Handler) Serve(c *gin.Context) {
	h.send(c, false)
}

// Download sends a file as an attachment.
func (h *Handler) Download(c *gin.Context) {
	h.send(c, true)
}

func (h *Handler) send(c *gin.Context, download bool) {
	ctx := c.Request.Context()
	value := strings.TrimPrefix(c.Param("path"), "/")

	store, err := h.files.Tenant(ctx, h.tenant(c))
	if err != nil {
		if errors.Is(err, files.ErrInvalidTenant) {
			notFound(c)
			return
		}
		internalError(c, err)
		return
	}

	f, err := store.FindOne(ctx, value)
	if err != nil {
		internalError(c, err)
		return
	}
	if f == nil || f.IsDirectory || !f.CanRead(h.role(c)) {
		logger.Debug("Serve %s/%s: not found or not readable", store.Tenant(), value)
		notFound(c)
		return
	}

	target, err := store.ServeURL(ctx, f, pathutil.ServeOptions{Download: download})
	if err != nil {
		internalError(c, err)
		return
	}
	if pathutil.IsAbsoluteURL(target) {
		c.Redirect(http.StatusFound, target)
		return
	}

	if _, ok := f.Location.(files.LocalLocation); ok {
		p, err := store.DiskPath(f)
		if err != nil {
			if errors.Is(err, files.ErrNotFound) {
				logger.Debug("Serve %s/%s: not on disk or outside the tenant", store.Tenant(), value)
				notFound(c)
				return
			}
			internalError(c, err)
			return
		}
		setHeaders(c, f, download)
		serveLocal(c, f, p)
		return
	}

	data, err := store.ReadContents(ctx, f)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			notFound(c)
			return
		}
		internalError(c, err)
		return
	}
	setHeaders(c, f, download)
	c.Data(http.StatusOK, f.Mimetype(), data)
}

func setHeaders(c *gin.Context, f *files.File, download bool) {
	c.Header("Content-Disposition", disposition(f.Filename, download))
	c.Header("X-Content-Type-Options", "nosniff")
}

// serveLocal streams a file from disk with Range support.
func serveLocal(c *gin.Context, f *files.File, path string) {
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			notFound(c)
			return
		}
		internalError(c, err)
		return
	}
	defer fh.Close()

	c.Header("Content-Type", f.Mimetype())
	http.ServeContent(c.Writer, c.Request, f.Filename, f.UploadedAt, fh)
}

func disposition(filename string, download bool) string {
	kind := "inline"
	if download {
		kind = "attachment"
	}
	if v := mime.FormatMediaType(kind, map[string]string{"filename": filename}); v != "" {
		return v
	}
	return kind
}

func notFound(c *gin.Context) {
	writeError(c, http.StatusNotFound, "NOT_FOUND", "File not found", nil)
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	logger.Error("Serve %s failed: %v", c.Request.URL.Path, err)
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to serve file", nil)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	body := gin.H{"code": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
