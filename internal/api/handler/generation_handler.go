package handler

import (
	"context"
	"errors"
	"strconv"

	"ai-tracker-go/internal/generation"
	"ai-tracker-go/internal/logger"
	"ai-tracker-go/internal/storage"
	"ai-tracker-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// GenerationHandler 生成接口处理器
type GenerationHandler struct {
	orchestrator *generation.Orchestrator
	mysql        *storage.MySQL // 可为nil，此时会话查询接口不可用
	docs         *storage.MinIO // 可为nil，此时文档下载接口不可用
}

// NewGenerationHandler 创建生成接口处理器
func NewGenerationHandler(orchestrator *generation.Orchestrator, mysql *storage.MySQL, docs *storage.MinIO) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		mysql:        mysql,
		docs:         docs,
	}
}

// generateRequestBody POST /generations 的请求体。
// subject_id不在请求体里：由身份层根据API key注入，调用方无法伪造。
type generateRequestBody struct {
	Kind     string                  `json:"kind"`
	TargetID string                  `json:"target_id"`
	Profile  *types.CandidateProfile `json:"profile,omitempty"`
	Job      *types.JobRequirement   `json:"job,omitempty"`
	Options  types.GenerationOptions `json:"options"`
}

// HandleGenerate 处理一次生成请求
func (h *GenerationHandler) HandleGenerate(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}

	var body generateRequestBody
	if err := ctx.BindJSON(&body); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败: " + err.Error()})
		return
	}

	req := &types.GenerationRequest{
		Kind:      types.GenerationKind(body.Kind),
		SubjectID: subjectID,
		TargetID:  body.TargetID,
		Profile:   body.Profile,
		Job:       body.Job,
		Options:   body.Options,
	}

	result, err := h.orchestrator.Generate(c, req)
	if err != nil {
		status := statusForError(err)
		if status >= consts.StatusInternalServerError {
			logger.Error().Err(err).Str("kind", body.Kind).Msg("生成请求失败")
		}
		ctx.JSON(status, utils.H{"error": err.Error()})
		return
	}

	ctx.JSON(consts.StatusOK, result)
}

// HandleCacheStats 返回结果缓存统计
func (h *GenerationHandler) HandleCacheStats(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, h.orchestrator.CacheStats())
}

// HandleInvalidate 显式失效当前subject的缓存结果。
// 指纹含资料版本，旧条目本就不可达，这里额外刷掉版本缓存让新版本立即可见。
func (h *GenerationHandler) HandleInvalidate(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}

	if err := h.orchestrator.Invalidate(c, subjectID); err != nil {
		logger.Error().Err(err).Str("subject_id", subjectID).Msg("缓存失效失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "缓存失效失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"invalidated": true})
}

// HandleListSessions 返回当前subject最近的生成会话审计记录
func (h *GenerationHandler) HandleListSessions(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}
	if h.mysql == nil {
		ctx.JSON(consts.StatusServiceUnavailable, utils.H{"error": "会话存储未启用"})
		return
	}

	records, err := h.mysql.ListSessions(c, subjectID, queryLimit(ctx))
	if err != nil {
		logger.Error().Err(err).Msg("查询会话记录失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询会话记录失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"sessions": records})
}

// HandleGetDocument 按类型与指纹下载已落对象存储的生成文档。
// 指纹来自本人此前的生成结果或会话记录，不构成越权读取面。
func (h *GenerationHandler) HandleGetDocument(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}
	if h.docs == nil {
		ctx.JSON(consts.StatusServiceUnavailable, utils.H{"error": "文档存储未启用"})
		return
	}

	kind := types.GenerationKind(ctx.Query("kind"))
	fp := ctx.Query("fingerprint")
	if !kind.Valid() || fp == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "需要合法的kind与fingerprint参数"})
		return
	}

	content, err := h.docs.GetDocument(c, kind, fp)
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("读取生成文档失败")
		ctx.JSON(consts.StatusNotFound, utils.H{"error": "文档不存在或读取失败"})
		return
	}
	ctx.Data(consts.StatusOK, "text/markdown; charset=utf-8", content)
}

// statusForError 把错误分类映射到HTTP状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, generation.ErrValidation):
		return consts.StatusBadRequest
	case errors.Is(err, generation.ErrProviderRateLimited):
		return consts.StatusTooManyRequests
	case errors.Is(err, generation.ErrProviderTimeout):
		return consts.StatusGatewayTimeout
	case errors.Is(err, generation.ErrProviderRejected):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, generation.ErrResultShape):
		return consts.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return consts.StatusRequestTimeout
	default:
		return consts.StatusInternalServerError
	}
}

// queryLimit 解析limit查询参数，缺省或非法时返回0交给存储层用默认值
func queryLimit(ctx *app.RequestContext) int {
	raw := ctx.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// subjectFromContext 读取身份中间件注入的subject_id
func subjectFromContext(ctx *app.RequestContext) string {
	v, ok := ctx.Get("subject_id")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
