// Package controller holds the single HTTP entry point of the service.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"tenantrun/internal/execution/engine"
	"tenantrun/internal/execution/model"
	"tenantrun/internal/identity"
	"tenantrun/internal/tenant/repository"
	"tenantrun/pkg/errors"
	"tenantrun/pkg/utils/contextkey"
	"tenantrun/pkg/utils/logger"
	"tenantrun/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	DefaultGroup        = "tenantrun"
	DefaultMaxBodyBytes = 1 << 20

	scriptsSegment = "scripts"
	allowedMethods = "POST, OPTIONS"
)

// Config tunes the dispatcher.
type Config struct {
	Group        string `yaml:"group"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

// DispatchController validates a request, establishes who sent it, checks
// group membership and hands the job to the engine.
type DispatchController struct {
	group        string
	maxBodyBytes int64
	resolver     identity.Resolver
	registry     repository.Registry
	engine       engine.Engine
}

func NewDispatchController(cfg Config, resolver identity.Resolver, registry repository.Registry, eng engine.Engine) *DispatchController {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &DispatchController{
		group:        cfg.Group,
		maxBodyBytes: cfg.MaxBodyBytes,
		resolver:     resolver,
		registry:     registry,
		engine:       eng,
	}
}

// Register routes every path and method to Dispatch.
func (h *DispatchController) Register(r *gin.Engine) {
	r.HandleMethodNotAllowed = false
	r.Any("/*path", h.Dispatch)
	r.NoRoute(h.Dispatch)
}

// Dispatch runs the request through its checks in a fixed order; the first
// failing check answers the request.
func (h *DispatchController) Dispatch(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", allowedMethods)
		response.ErrorWithCode(c, errors.MethodNotAllowed)
		return
	}

	if !isJSONContentType(c.GetHeader("Content-Type")) {
		response.ErrorWithCode(c, errors.InvalidContentType)
		return
	}
	params, err := h.readParams(c.Request.Body)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	conn, _ := ctx.Value(contextkey.Conn).(net.Conn)
	tenant, ok := h.resolver.Resolve(ctx, identity.PeerFromRequest(c.Request, conn))
	if !ok {
		response.Error(c, errors.Newf(errors.IdentityUnresolved, "no identity for %s", c.Request.RemoteAddr))
		return
	}
	ctx = context.WithValue(ctx, contextkey.Tenant, tenant.Name)
	c.Request = c.Request.WithContext(ctx)

	authorized, err := h.registry.IsAuthorized(ctx, tenant.Name, h.group)
	if err != nil {
		response.Error(c, errors.Wrap(err, errors.InternalServerError))
		return
	}
	if !authorized {
		response.Error(c, errors.Newf(errors.NotAuthorized, "%s is not a member of %s", tenant.Name, h.group))
		return
	}

	script, ok := scriptFromPath(c.Request.URL.Path)
	if !ok {
		response.ErrorWithCode(c, errors.RouteNotFound)
		return
	}

	interactive := strings.EqualFold(c.Query("interactive"), "true")
	result := h.engine.Execute(ctx, model.ScriptJob{
		Tenant:      tenant.Name,
		Script:      script,
		Params:      params,
		Interactive: interactive,
	})
	logger.Info(ctx, "script executed",
		zap.String("script", script),
		zap.Bool("succeeded", result.Succeeded),
		zap.Bool("interactive", interactive),
	)

	switch {
	case interactive:
		response.Success(c, result.Output)
	case result.Succeeded:
		response.Success(c, errors.Success.Message())
	default:
		response.Success(c, errors.ScriptFailed.Message())
	}
}

func isJSONContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	return err == nil && mediaType == "application/json"
}

// readParams accepts a JSON object or array and nothing else.
func (h *DispatchController) readParams(body io.Reader) (json.RawMessage, error) {
	if body == nil {
		return nil, errors.New(errors.InvalidBody)
	}
	data, err := io.ReadAll(io.LimitReader(body, h.maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidBody)
	}
	if int64(len(data)) > h.maxBodyBytes {
		return nil, errors.Newf(errors.InvalidBody, "body exceeds %d bytes", h.maxBodyBytes)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') || !json.Valid(trimmed) {
		return nil, errors.New(errors.InvalidBody)
	}
	return json.RawMessage(trimmed), nil
}

// scriptFromPath accepts exactly /scripts/<name>.
func scriptFromPath(path string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 2 || parts[0] != scriptsSegment || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
