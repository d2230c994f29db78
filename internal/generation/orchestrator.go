package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-tracker-go/internal/constants"
	"ai-tracker-go/internal/scorer"
	"ai-tracker-go/internal/types"
	"ai-tracker-go/pkg/cache"
	"ai-tracker-go/pkg/fingerprint"
	"ai-tracker-go/pkg/singleflight"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

// Config 编排器配置
type Config struct {
	// TTLs 各生成类型的缓存TTL，未配置的类型用内置默认值
	TTLs map[types.GenerationKind]time.Duration
	// FlightTimeout 单个去重飞行的全局策略超时，
	// 必须大于 provider单次超时*(重试次数+1)+退避总和
	FlightTimeout time.Duration
}

// DefaultConfig 返回默认编排器配置
func DefaultConfig() Config {
	return Config{
		TTLs: map[types.GenerationKind]time.Duration{
			types.KindResume:          constants.TTLResume,
			types.KindCoverLetter:     constants.TTLCoverLetter,
			types.KindJobMatch:        constants.TTLJobMatch,
			types.KindSkillsGap:       constants.TTLSkillsGap,
			types.KindCompanyResearch: constants.TTLCompanyResearch,
		},
		FlightTimeout: constants.DefaultFlightTimeout,
	}
}

// Orchestrator 生成编排器。
// 流程: 校验 → 指纹 → 缓存查询 → (未命中)去重飞行{渲染 → provider调用/本地评分 →
// 结果校验 → 缓存写入 → 会话持久化} → 返回。
// 缓存与去重映射是仅有的共享可变状态，其余组件都是无状态或纯函数。
type Orchestrator struct {
	resultCache ResultCache
	group       *singleflight.Group
	adapter     *ProviderAdapter
	renderer    TemplateRenderer
	versions    VersionStore
	sessions    SessionStore
	docs        DocumentStore       // 可为nil，此时结果不落对象存储
	events      EventPublisher      // 可为nil
	matcher     *scorer.Scorer
	cfg         Config
	logger      zerolog.Logger
	now         func() time.Time
}

// NewOrchestrator 创建生成编排器。
// 缓存实例由外部构造注入，便于测试隔离和按需挂载不同后端。
func NewOrchestrator(
	resultCache ResultCache,
	adapter *ProviderAdapter,
	renderer TemplateRenderer,
	versions VersionStore,
	sessions SessionStore,
	docs DocumentStore,
	events EventPublisher,
	matcher *scorer.Scorer,
	cfg Config,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.FlightTimeout <= 0 {
		cfg.FlightTimeout = constants.DefaultFlightTimeout
	}
	if matcher == nil {
		matcher = scorer.New(scorer.DefaultConfig())
	}
	return &Orchestrator{
		resultCache: resultCache,
		group:       singleflight.New(cfg.FlightTimeout),
		adapter:     adapter,
		renderer:    renderer,
		versions:    versions,
		sessions:    sessions,
		docs:        docs,
		events:      events,
		matcher:     matcher,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Generate 执行一次生成请求，返回缓存结果或发起一次协调的provider调用。
// 同一指纹的并发请求共享同一次执行，全部收到相同的结果或相同的分类错误。
func (o *Orchestrator) Generate(ctx context.Context, req *types.GenerationRequest) (*types.GenerationResult, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, err
	}

	version, err := o.versions.ProfileVersion(ctx, req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("查询资料版本失败: %w", err)
	}

	fp := o.buildFingerprint(req, version)
	log := o.logger.With().
		Str("kind", string(req.Kind)).
		Str("fingerprint", fp[:12]).
		Logger()

	// 缓存查询。缓存故障按未命中降级，不让请求整体失败。
	cacheKey := o.cacheKey(req.Kind, fp)
	if cached, found := o.cacheGet(ctx, cacheKey, log); found {
		var result types.GenerationResult
		if err := json.Unmarshal(cached, &result); err == nil {
			result.FromCache = true
			o.recordCacheHitSession(ctx, req, fp, result.ResultRef)
			log.Debug().Msg("缓存命中")
			return &result, nil
		}
		// 反序列化失败说明条目损坏，删掉走重新生成
		_ = o.resultCache.Delete(ctx, cacheKey)
		log.Warn().Msg("缓存条目损坏，已删除")
	}

	// 去重飞行：同一指纹最多一次并发执行
	v, shared, err := o.group.Do(ctx, fp, func(flightCtx context.Context) (interface{}, error) {
		return o.runGeneration(flightCtx, req, fp, cacheKey)
	})
	if err != nil {
		if shared {
			log.Debug().Err(err).Msg("加入的飞行以失败告终")
		}
		return nil, err
	}

	result := v.(*types.GenerationResult)
	if shared {
		// 加入者拿到的是同一个结果对象，深拷贝避免共享可变状态
		result = result.Clone()
	}
	return result, nil
}

// runGeneration 去重飞行内的实际工作，任一时刻每个指纹最多一个在执行
func (o *Orchestrator) runGeneration(ctx context.Context, req *types.GenerationRequest, fp, cacheKey string) (*types.GenerationResult, error) {
	session := o.newSession(req, fp)
	session.Status = types.SessionInProgress
	log := o.logger.With().Str("session_id", session.ID).Str("kind", string(req.Kind)).Logger()

	result, err := o.produce(ctx, req, fp, &session)
	if err != nil {
		// 飞行上下文被取消(最后一个等待方离开或策略超时)是取消，不是失败
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			o.finishSession(ctx, &session, types.SessionCancelled, err.Error())
			log.Warn().Err(err).Int("attempts", session.Attempts).Msg("生成已取消")
			return nil, err
		}
		o.finishSession(ctx, &session, types.SessionFailed, err.Error())
		log.Error().Err(err).Int("attempts", session.Attempts).Msg("生成失败")
		return nil, err
	}

	// 结果落对象存储(仅文档类)，引用记入会话
	if o.docs != nil && (req.Kind == types.KindResume || req.Kind == types.KindCoverLetter) {
		if ref, docErr := o.docs.SaveDocument(ctx, req.Kind, fp, []byte(result.Content)); docErr != nil {
			log.Warn().Err(docErr).Msg("文档写入对象存储失败，结果仍然有效")
		} else {
			result.ResultRef = ref
			session.ResultRef = ref
		}
	}

	// 缓存写入。只有通过校验的结果才会进缓存。
	if payload, mErr := json.Marshal(result); mErr == nil {
		ttl := o.ttlFor(req.Kind, req.Options)
		if cErr := o.resultCache.Set(ctx, cacheKey, payload, ttl); cErr != nil {
			log.Warn().Err(cErr).Msg("缓存写入失败，降级为不缓存")
		}
	}

	o.finishSession(ctx, &session, types.SessionCompleted, "")
	log.Info().
		Int("attempts", session.Attempts).
		Int64("provider_latency_ms", result.ProviderLatencyMS).
		Msg("生成完成")
	return result, nil
}

// produce 产出并校验某一类型的结果
func (o *Orchestrator) produce(ctx context.Context, req *types.GenerationRequest, fp string, session *types.GenerationSession) (*types.GenerationResult, error) {
	result := &types.GenerationResult{
		Kind:        req.Kind,
		Fingerprint: fp,
		GeneratedAt: o.now(),
	}

	// job_match由确定性评分器本地计算，不经过provider
	if req.Kind == types.KindJobMatch {
		breakdown := o.matcher.Score(req.Profile, req.Job)
		if err := validateBreakdown(breakdown); err != nil {
			return nil, NewResultShapeError(fp, err.Error())
		}
		result.Match = breakdown
		return result, nil
	}

	systemPrompt, userPrompt, err := o.renderer.Render(ctx, req)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("模板渲染失败: %v", err))
	}

	provRes, err := o.adapter.Call(ctx, systemPrompt, userPrompt, nil)
	if provRes != nil {
		session.Attempts = provRes.Attempts
		result.Attempts = provRes.Attempts
		result.ProviderLatencyMS = provRes.Latency.Milliseconds()
	}
	if err != nil {
		return nil, err
	}

	content, err := validateResult(req.Kind, provRes.Content)
	if err != nil {
		// 结果畸形不重试：同样的prompt重发大概率同样畸形
		return nil, NewResultShapeError(fp, err.Error())
	}
	result.Content = content

	// skills_gap附带确定性的缺口明细
	if req.Kind == types.KindSkillsGap {
		breakdown := o.matcher.Score(req.Profile, req.Job)
		if err := validateBreakdown(breakdown); err != nil {
			return nil, NewResultShapeError(fp, err.Error())
		}
		result.Match = breakdown
	}
	return result, nil
}

// Invalidate 显式缓存失效钩子。
// 版本化指纹已经让旧条目不可达，这里只需要刷掉版本缓存，
// 保证下一次请求立刻看到新版本。
func (o *Orchestrator) Invalidate(ctx context.Context, subjectID string) error {
	if err := o.versions.InvalidateVersionCache(ctx, subjectID); err != nil {
		return fmt.Errorf("刷新资料版本缓存失败: %w", err)
	}
	o.logger.Debug().Str("subject_id", subjectID).Msg("资料版本缓存已失效")
	return nil
}

// CacheStats 返回结果缓存统计
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.resultCache.Stats()
}

// validateRequest 校验请求的必填输入，失败立即上抛ValidationError
func (o *Orchestrator) validateRequest(req *types.GenerationRequest) error {
	if req == nil {
		return NewValidationError("请求为空")
	}
	if !req.Kind.Valid() {
		return NewValidationError(fmt.Sprintf("未知的生成类型: %q", req.Kind))
	}
	if req.SubjectID == "" {
		return NewValidationError("缺少subject_id")
	}
	if req.TargetID == "" {
		return NewValidationError("缺少target_id")
	}
	switch req.Kind {
	case types.KindCompanyResearch:
		if req.Job == nil || req.Job.Company == "" {
			return NewValidationError("company_research需要岗位的公司信息")
		}
	default:
		if req.Profile == nil {
			return NewValidationError("缺少候选人资料")
		}
		if req.Job == nil {
			return NewValidationError("缺少岗位信息")
		}
	}
	return nil
}

// buildFingerprint 计算请求指纹。
// 规范化后的选项参与哈希，FocusAreas已排序，传入顺序不影响指纹。
func (o *Orchestrator) buildFingerprint(req *types.GenerationRequest, version int64) string {
	opts := req.Options.Normalized()
	extra := []string{opts.ToneStyle, opts.LengthPreference}
	extra = append(extra, opts.FocusAreas...)
	return fingerprint.Build(req.SubjectID, req.TargetID, string(req.Kind), version, extra...)
}

func (o *Orchestrator) cacheKey(kind types.GenerationKind, fp string) string {
	return constants.CacheNamespaceResult + ":" + string(kind) + ":" + fp
}

// cacheGet 缓存查询，底层故障降级为未命中
func (o *Orchestrator) cacheGet(ctx context.Context, key string, log zerolog.Logger) ([]byte, bool) {
	value, found, err := o.resultCache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("结果缓存不可用，按未命中处理")
		return nil, false
	}
	return value, found
}

// ttlFor 返回某类型的缓存TTL，请求级覆盖优先
func (o *Orchestrator) ttlFor(kind types.GenerationKind, opts types.GenerationOptions) time.Duration {
	if override := opts.TTLOverride(); override > 0 {
		return override
	}
	if ttl, ok := o.cfg.TTLs[kind]; ok && ttl > 0 {
		return ttl
	}
	return constants.TTLResume
}

func (o *Orchestrator) newSession(req *types.GenerationRequest, fp string) types.GenerationSession {
	id, _ := uuid.NewV7()
	return types.GenerationSession{
		ID:          id.String(),
		Fingerprint: fp,
		Kind:        req.Kind,
		SubjectID:   req.SubjectID,
		TargetID:    req.TargetID,
		Status:      types.SessionPending,
		StartedAt:   o.now(),
	}
}

// finishSession 会话进入终态并尽力持久化。
// 持久化失败只记日志：审计记录不参与缓存/去重的正确性。
func (o *Orchestrator) finishSession(ctx context.Context, session *types.GenerationSession, status types.SessionStatus, errDetail string) {
	completed := o.now()
	session.Status = status
	session.CompletedAt = &completed
	session.ErrorDetail = errDetail

	// 飞行上下文可能已取消，持久化用独立的短超时上下文
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if o.sessions != nil {
		if err := o.sessions.SaveSession(persistCtx, session); err != nil {
			o.logger.Warn().Err(err).Str("session_id", session.ID).Msg("会话持久化失败")
		}
	}
	if o.events != nil {
		if err := o.events.PublishSessionEvent(persistCtx, session); err != nil {
			o.logger.Debug().Err(err).Str("session_id", session.ID).Msg("会话事件发布失败")
		}
	}
}

// recordCacheHitSession 缓存命中也记一条完成会话，attempts=0
func (o *Orchestrator) recordCacheHitSession(ctx context.Context, req *types.GenerationRequest, fp, resultRef string) {
	session := o.newSession(req, fp)
	session.CacheHit = true
	session.ResultRef = resultRef
	o.finishSession(ctx, &session, types.SessionCompleted, "")
}
