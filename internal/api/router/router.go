package router

import (
	"context"

	"ai-tracker-go/internal/api/handler"
	"ai-tracker-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册 API 路由。
// /api/v1下除健康检查外都要求API key身份：key查表得到subject_id注入请求上下文，
// 处理器一律从上下文取身份，请求体里的身份字段不可信。
func RegisterRoutes(h *server.Hertz, cfg *config.Config, generationHandler *handler.GenerationHandler, profileHandler *handler.ProfileHandler) {
	// 每个请求带一个请求ID，调用方没传就生成，响应头原样带回
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		requestID := string(ctx.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Set("request_id", requestID)
		ctx.Response.Header.Set("X-Request-ID", requestID)
		ctx.Next(c)
	})

	api := h.Group("/api/v1")

	// 健康检查不需要身份
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	authed := api.Group("", keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			subjectID, ok := cfg.Server.APIKeys[key]
			if !ok {
				return false, nil
			}
			ctx.Set("subject_id", subjectID)
			return true, nil
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "无效的API key"})
			ctx.Abort()
		}),
	))

	// 生成
	authed.POST("/generations", generationHandler.HandleGenerate)
	authed.GET("/generations/sessions", generationHandler.HandleListSessions)
	authed.GET("/generations/document", generationHandler.HandleGetDocument)
	authed.GET("/generations/cache/stats", generationHandler.HandleCacheStats)
	authed.POST("/generations/cache/invalidate", generationHandler.HandleInvalidate)

	// 候选人资料
	authed.GET("/profile", profileHandler.HandleGetProfile)
	authed.PUT("/profile", profileHandler.HandleUpdateProfile)
	authed.POST("/profile/bump", profileHandler.HandleBumpVersion)
	authed.POST("/profile/import", profileHandler.HandleImportResume)
}
