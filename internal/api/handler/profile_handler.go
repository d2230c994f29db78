package handler

import (
	"context"
	"errors"

	"ai-tracker-go/internal/generation"
	"ai-tracker-go/internal/logger"
	"ai-tracker-go/internal/parser"
	"ai-tracker-go/internal/storage"
	"ai-tracker-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// maxResumeUploadBytes 简历文件大小上限
const maxResumeUploadBytes = 10 << 20 // 10MB

// ProfileHandler 候选人资料接口处理器。
// 所有写操作都会递增资料版本并刷新版本缓存，保证旧的生成缓存立刻不可达。
type ProfileHandler struct {
	mysql        *storage.MySQL
	orchestrator *generation.Orchestrator
	extractor    *parser.PDFTextExtractor // 可为nil，此时PDF导入接口不可用
}

// NewProfileHandler 创建资料接口处理器
func NewProfileHandler(mysql *storage.MySQL, orchestrator *generation.Orchestrator, extractor *parser.PDFTextExtractor) *ProfileHandler {
	return &ProfileHandler{
		mysql:        mysql,
		orchestrator: orchestrator,
		extractor:    extractor,
	}
}

// HandleGetProfile 读取当前subject的资料
func (h *ProfileHandler) HandleGetProfile(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}

	profile, version, err := h.mysql.GetProfile(c, subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "资料不存在"})
			return
		}
		logger.Error().Err(err).Msg("读取资料失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取资料失败"})
		return
	}

	ctx.JSON(consts.StatusOK, utils.H{"profile": profile, "version": version})
}

// HandleUpdateProfile 写入或更新资料，版本号加一
func (h *ProfileHandler) HandleUpdateProfile(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}

	var profile types.CandidateProfile
	if err := ctx.BindJSON(&profile); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败: " + err.Error()})
		return
	}

	version, err := h.upsertAndInvalidate(c, subjectID, &profile)
	if err != nil {
		logger.Error().Err(err).Msg("更新资料失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新资料失败"})
		return
	}

	ctx.JSON(consts.StatusOK, utils.H{"version": version})
}

// HandleBumpVersion 只递增版本号，强制后续生成重新执行
func (h *ProfileHandler) HandleBumpVersion(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}

	version, err := h.mysql.BumpProfileVersion(c, subjectID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "资料不存在"})
			return
		}
		logger.Error().Err(err).Msg("递增资料版本失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "递增资料版本失败"})
		return
	}

	if err := h.orchestrator.Invalidate(c, subjectID); err != nil {
		logger.Warn().Err(err).Msg("刷新版本缓存失败，等待缓存自然过期")
	}

	ctx.JSON(consts.StatusOK, utils.H{"version": version})
}

// HandleImportResume 上传PDF简历，提取文本后合入资料并递增版本
func (h *ProfileHandler) HandleImportResume(c context.Context, ctx *app.RequestContext) {
	subjectID := subjectFromContext(ctx)
	if subjectID == "" {
		ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "缺少身份信息"})
		return
	}
	if h.extractor == nil {
		ctx.JSON(consts.StatusServiceUnavailable, utils.H{"error": "PDF导入未启用"})
		return
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}
	if fileHeader.Size > maxResumeUploadBytes {
		ctx.JSON(consts.StatusRequestEntityTooLarge, utils.H{"error": "文件超过10MB上限"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	text, err := h.extractor.ExtractText(c, file, fileHeader.Filename)
	if err != nil {
		logger.Warn().Err(err).Str("filename", fileHeader.Filename).Msg("简历文本提取失败")
		ctx.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "简历文本提取失败: " + err.Error()})
		return
	}

	// 已有资料则只替换原始简历文本，没有则建一条空资料挂上文本
	profile, _, err := h.mysql.GetProfile(c, subjectID)
	if err != nil {
		if !errors.Is(err, storage.ErrProfileNotFound) {
			logger.Error().Err(err).Msg("读取资料失败")
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取资料失败"})
			return
		}
		profile = &types.CandidateProfile{}
	}
	profile.RawResumeText = text

	version, err := h.upsertAndInvalidate(c, subjectID, profile)
	if err != nil {
		logger.Error().Err(err).Msg("保存导入的简历文本失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "保存资料失败"})
		return
	}

	ctx.JSON(consts.StatusOK, utils.H{
		"version":         version,
		"extracted_chars": len(text),
	})
}

// upsertAndInvalidate 写资料并刷新版本缓存。
// 缓存刷新失败不回滚：版本缓存有TTL，短暂陈旧只延迟失效，不会返回错误结果。
func (h *ProfileHandler) upsertAndInvalidate(ctx context.Context, subjectID string, profile *types.CandidateProfile) (int64, error) {
	version, err := h.mysql.UpsertProfile(ctx, subjectID, profile)
	if err != nil {
		return 0, err
	}
	if err := h.orchestrator.Invalidate(ctx, subjectID); err != nil {
		logger.Warn().Err(err).Msg("刷新版本缓存失败，等待缓存自然过期")
	}
	return version, nil
}
