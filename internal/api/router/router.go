package router

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"cv-filter/internal/api/handler"
	"cv-filter/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

// APIKeyHeader 鉴权请求头
const APIKeyHeader = "X-API-Key"

const healthPath = "/api/v1/health"

// Options 路由注册参数
type Options struct {
	// APIKeys 为空时不启用鉴权
	APIKeys []string
	// Tracing 为 nil 时不注册链路追踪中间件
	Tracing *hertztracing.Config
}

// RegisterRoutes 注册中间件与 API 路由
func RegisterRoutes(h *server.Hertz, candidateHandler *handler.CandidateHandler, opts Options) {
	if opts.Tracing != nil {
		h.Use(hertztracing.ServerMiddleware(opts.Tracing))
	}
	h.Use(AccessLog())
	if len(opts.APIKeys) > 0 {
		h.Use(APIKeyAuth(opts.APIKeys))
	}

	api := h.Group("/api/v1")
	api.GET("/health", handler.HandleHealth)
	api.POST("/upload_cv", candidateHandler.HandleUploadCV)
	api.POST("/search_candidates", candidateHandler.HandleSearch)
	api.POST("/mark_as_selected", candidateHandler.HandleMarkSelected)
	api.GET("/candidates/:id", candidateHandler.HandleGetCandidate)

	// 兼容旧客户端的根路径
	for path, fn := range map[string]app.HandlerFunc{
		"/upload_cv":         candidateHandler.HandleUploadCV,
		"/search_candidates": candidateHandler.HandleSearch,
		"/mark_as_selected":  candidateHandler.HandleMarkSelected,
	} {
		h.POST(path, fn)
		h.POST(path+"/", fn)
	}
}

// APIKeyAuth 校验 X-API-Key，健康检查不鉴权
func APIKeyAuth(keys []string) app.HandlerFunc {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithFilter(func(ctx context.Context, c *app.RequestContext) bool {
			return string(c.Path()) == healthPath
		}),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			for _, k := range allowed {
				if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, keyauth.ErrMissingOrMalformedAPIKey
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"detail": "API key không hợp lệ."})
		}),
	)
}

// AccessLog 记录方法、路径、状态码与耗时
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)

		status := c.Response.StatusCode()
		ev := logger.Ctx(ctx).Info()
		if status >= consts.StatusInternalServerError {
			ev = logger.Ctx(ctx).Error()
		} else if status >= consts.StatusBadRequest {
			ev = logger.Ctx(ctx).Warn()
		}
		ev.Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP请求")
	}
}
