package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ai-tracker-go/internal/scorer"
	"ai-tracker-go/internal/types"
	"ai-tracker-go/pkg/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVersionStore 内存版本存储
type fakeVersionStore struct {
	mu          sync.Mutex
	versions    map[string]int64
	invalidated int
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{versions: map[string]int64{}}
}

func (f *fakeVersionStore) ProfileVersion(_ context.Context, subjectID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.versions[subjectID]; ok {
		return v, nil
	}
	return 1, nil
}

func (f *fakeVersionStore) InvalidateVersionCache(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

func (f *fakeVersionStore) bump(subjectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.versions[subjectID]; !ok {
		f.versions[subjectID] = 1
	}
	f.versions[subjectID]++
}

// fakeSessionStore 记录保存过的会话
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions []types.GenerationSession
}

func (f *fakeSessionStore) SaveSession(_ context.Context, s *types.GenerationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, *s)
	return nil
}

func (f *fakeSessionStore) byStatus(status types.SessionStatus) []types.GenerationSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.GenerationSession
	for _, s := range f.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// fakeDocStore 内存对象存储
type fakeDocStore struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *fakeDocStore) SaveDocument(_ context.Context, kind types.GenerationKind, fp string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	ref := fmt.Sprintf("documents/%s/%s.md", kind, fp)
	f.saved[ref] = content
	return ref, nil
}

// failingCache 模拟底层缓存故障的ResultCache
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, NewCacheUnavailableError("", "connection refused")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return NewCacheUnavailableError("", "connection refused")
}
func (failingCache) Delete(context.Context, string) error { return nil }
func (failingCache) Stats() cache.Stats                   { return cache.Stats{} }

const longEnoughContent = "这是一份根据候选人资料与目标岗位定制的简历草稿，包含技能匹配、项目经历与教育背景等完整内容，长度满足最低信息量要求。"

func testProfile() *types.CandidateProfile {
	return &types.CandidateProfile{
		Headline:        "后端开发工程师",
		Skills:          []string{"Go", "React", "SQL"},
		YearsExperience: 4,
		Education:       types.EducationBachelor,
	}
}

func testJob() *types.JobRequirement {
	return &types.JobRequirement{
		Title:             "高级后端工程师",
		Company:           "示例科技",
		RequiredSkills:    []string{"Go", "SQL", "Kubernetes"},
		Seniority:         types.SeniorityMid,
		RequiredEducation: types.EducationBachelor,
	}
}

func testRequest(kind types.GenerationKind) *types.GenerationRequest {
	return &types.GenerationRequest{
		Kind:      kind,
		SubjectID: "user-1",
		TargetID:  "job-1",
		Profile:   testProfile(),
		Job:       testJob(),
	}
}

type orchestratorFixture struct {
	orch     *Orchestrator
	mock     *MockLLMModel
	versions *fakeVersionStore
	sessions *fakeSessionStore
	docs     *fakeDocStore
	store    *cache.Store
}

func newFixture(t *testing.T, mockResponse string) *orchestratorFixture {
	t.Helper()
	mock := &MockLLMModel{mockResponse: mockResponse}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())
	store := cache.New(128)
	versions := newFakeVersionStore()
	sessions := &fakeSessionStore{}
	docs := &fakeDocStore{}

	orch := NewOrchestrator(
		NewMemoryResultCache(store),
		adapter,
		NewDefaultRenderer(),
		versions,
		sessions,
		docs,
		nil,
		scorer.New(scorer.DefaultConfig()),
		DefaultConfig(),
		zerolog.Nop(),
	)
	return &orchestratorFixture{
		orch:     orch,
		mock:     mock,
		versions: versions,
		sessions: sessions,
		docs:     docs,
		store:    store,
	}
}

// TestGenerateCacheHitIdempotence 同一请求第二次命中缓存，provider只被调用一次
func TestGenerateCacheHitIdempotence(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	req := testRequest(types.KindResume)

	first, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, longEnoughContent, first.Content)

	second, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, f.mock.CallCount, "缓存命中绝不触发provider调用")
}

// TestGenerateConcurrentDedup 50个并发请求共享同一次provider执行
func TestGenerateConcurrentDedup(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	f.mock.Delay = 30 * time.Millisecond

	const callers = 50
	var wg sync.WaitGroup
	results := make([]*types.GenerationResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = f.orch.Generate(context.Background(), testRequest(types.KindCoverLetter))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, longEnoughContent, results[i].Content)
	}
	// 可能有极少量调用方在飞行完成并出缓存后才进来，但绝不该接近50
	assert.LessOrEqual(t, f.mock.CallCount, 2, "并发同指纹请求必须合并执行")
}

// TestGenerateCallerCancelRecordsCancelledSession 调用方取消中止飞行后，会话记为cancelled而非failed
func TestGenerateCallerCancelRecordsCancelledSession(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	f.mock.Delay = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := f.orch.Generate(ctx, testRequest(types.KindResume))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// 飞行在自己的goroutine里收尾，等会话落库
	require.Eventually(t, func() bool {
		return len(f.sessions.byStatus(types.SessionCancelled)) == 1
	}, time.Second, 10*time.Millisecond, "被取消中止的飞行要记为cancelled会话")
	assert.Empty(t, f.sessions.byStatus(types.SessionFailed), "取消不是失败")
}

// TestGenerateJoinedCallersGetIndependentResults 合并执行的调用方各自拿到独立的结果对象
func TestGenerateJoinedCallersGetIndependentResults(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	f.mock.Delay = 30 * time.Millisecond

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*types.GenerationResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _ = f.orch.Generate(context.Background(), testRequest(types.KindSkillsGap))
		}(i)
	}
	wg.Wait()

	seen := make(map[*types.ScoreBreakdown]bool)
	for i, res := range results {
		require.NotNil(t, res, "调用方%d没拿到结果", i)
		require.NotNil(t, res.Match)
		assert.False(t, seen[res.Match], "评分明细指针不能在调用方之间共享")
		seen[res.Match] = true
	}

	// 切片同样必须独立：改写一份不影响其他调用方
	results[0].Match.MissingSkills[0] = "改写"
	assert.Equal(t, "Kubernetes", results[1].Match.MissingSkills[0])
}

// TestGenerateVersionBumpChangesFingerprint 资料版本变更后旧缓存不可达
func TestGenerateVersionBumpChangesFingerprint(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	req := testRequest(types.KindResume)

	first, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)

	f.versions.bump(req.SubjectID)

	second, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.FromCache, "版本变更后必须重新生成")
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 2, f.mock.CallCount)
}

// TestGenerateOptionOrderInsensitive FocusAreas顺序不影响指纹
func TestGenerateOptionOrderInsensitive(t *testing.T) {
	f := newFixture(t, longEnoughContent)

	req1 := testRequest(types.KindResume)
	req1.Options.FocusAreas = []string{"Leadership", "backend"}
	req2 := testRequest(types.KindResume)
	req2.Options.FocusAreas = []string{"Backend", "leadership"}

	first, err := f.orch.Generate(context.Background(), req1)
	require.NoError(t, err)
	second, err := f.orch.Generate(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, f.mock.CallCount)
}

// TestGenerateTTLOverride 请求级TTL覆盖默认值
func TestGenerateTTLOverride(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	req := testRequest(types.KindResume)
	req.Options.TTLOverrideSec = 1

	_, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Len())
}

// TestGenerateJobMatchLocalScoring job_match由评分器本地计算，不经过provider
func TestGenerateJobMatchLocalScoring(t *testing.T) {
	f := newFixture(t, "不应该被调用")
	req := testRequest(types.KindJobMatch)

	res, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.Equal(t, 0, f.mock.CallCount, "job_match是确定性本地计算")
	assert.ElementsMatch(t, []string{"Go", "SQL"}, res.Match.MatchedSkills)
	assert.ElementsMatch(t, []string{"Kubernetes"}, res.Match.MissingSkills)
	assert.GreaterOrEqual(t, res.Match.Overall, 0)
	assert.LessOrEqual(t, res.Match.Overall, 100)

	// 同一输入重复请求得到缓存的相同评分
	again, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, res.Match.Overall, again.Match.Overall)
}

// TestGenerateSkillsGapCombinesScorerAndProvider skills_gap同时带叙事与缺口明细
func TestGenerateSkillsGapCombinesScorerAndProvider(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	req := testRequest(types.KindSkillsGap)

	res, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, longEnoughContent, res.Content)
	require.NotNil(t, res.Match)
	assert.ElementsMatch(t, []string{"Kubernetes"}, res.Match.MissingSkills)
	assert.Equal(t, 1, f.mock.CallCount)
}

// TestGenerateValidationFastFail 非法输入立即上抛，provider与缓存都不被触碰
func TestGenerateValidationFastFail(t *testing.T) {
	f := newFixture(t, longEnoughContent)

	cases := []struct {
		name string
		req  *types.GenerationRequest
	}{
		{"空请求", nil},
		{"未知类型", &types.GenerationRequest{Kind: "poem", SubjectID: "u", TargetID: "j"}},
		{"缺subject", &types.GenerationRequest{Kind: types.KindResume, TargetID: "j", Profile: testProfile(), Job: testJob()}},
		{"缺资料", &types.GenerationRequest{Kind: types.KindResume, SubjectID: "u", TargetID: "j", Job: testJob()}},
		{"缺岗位", &types.GenerationRequest{Kind: types.KindResume, SubjectID: "u", TargetID: "j", Profile: testProfile()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.Generate(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
	assert.Equal(t, 0, f.mock.CallCount)
	assert.Equal(t, 0, f.store.Len())
}

// TestGenerateCacheUnavailableDegrades 缓存故障降级为未命中，请求仍然成功
func TestGenerateCacheUnavailableDegrades(t *testing.T) {
	mock := &MockLLMModel{mockResponse: longEnoughContent}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())
	orch := NewOrchestrator(
		failingCache{},
		adapter,
		NewDefaultRenderer(),
		newFakeVersionStore(),
		&fakeSessionStore{},
		nil,
		nil,
		scorer.New(scorer.DefaultConfig()),
		DefaultConfig(),
		zerolog.Nop(),
	)

	res, err := orch.Generate(context.Background(), testRequest(types.KindResume))
	require.NoError(t, err, "缓存不可用不能让生成整体失败")
	assert.Equal(t, longEnoughContent, res.Content)
	assert.False(t, res.FromCache)
}

// TestGenerateShapeErrorNotCached 畸形结果分类上抛且不进缓存
func TestGenerateShapeErrorNotCached(t *testing.T) {
	f := newFixture(t, "短")
	req := testRequest(types.KindResume)

	_, err := f.orch.Generate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResultShape))
	assert.Equal(t, 0, f.store.Len(), "失败结果绝不进缓存")

	// 失败不污染后续请求: 修好provider后同一指纹可以重新生成
	f.mock.mockResponse = longEnoughContent
	res, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, longEnoughContent, res.Content)
}

// TestGenerateCompanyResearchStructured company_research校验并规范化JSON结果
func TestGenerateCompanyResearchStructured(t *testing.T) {
	raw := "这是公司调研结果：\n```json\n" + `{
		"overview": "示例科技成立于2015年，主营云基础设施。",
		"culture": "扁平化管理",
		"interview_tips": ["准备系统设计题", "了解其开源项目"],
		"talking_points": ["最近的B轮融资"]
	}` + "\n```"
	f := newFixture(t, raw)
	req := testRequest(types.KindCompanyResearch)

	res, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, res.Content, `"overview"`)
	assert.NotContains(t, res.Content, "```", "结果必须规范化为纯JSON")
}

// TestGenerateSessionAudit 成功与失败都留下终态会话记录
func TestGenerateSessionAudit(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	req := testRequest(types.KindResume)

	_, err := f.orch.Generate(context.Background(), req)
	require.NoError(t, err)

	completed := f.sessions.byStatus(types.SessionCompleted)
	require.Len(t, completed, 1)
	assert.False(t, completed[0].CacheHit)
	assert.NotEmpty(t, completed[0].ResultRef, "文档类结果会话要带对象存储引用")

	// 缓存命中也记审计会话, attempts=0
	_, err = f.orch.Generate(context.Background(), req)
	require.NoError(t, err)
	completed = f.sessions.byStatus(types.SessionCompleted)
	require.Len(t, completed, 2)
	hit := completed[1]
	assert.True(t, hit.CacheHit)
	assert.Equal(t, 0, hit.Attempts)

	// 失败会话
	f2 := newFixture(t, longEnoughContent)
	f2.mock.Err = errors.New("400 invalid request")
	_, err = f2.orch.Generate(context.Background(), testRequest(types.KindCoverLetter))
	require.Error(t, err)
	failed := f2.sessions.byStatus(types.SessionFailed)
	require.Len(t, failed, 1)
	assert.NotEmpty(t, failed[0].ErrorDetail)
}

// TestInvalidateFlushesVersionCache 显式失效钩子刷新版本缓存
func TestInvalidateFlushesVersionCache(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	require.NoError(t, f.orch.Invalidate(context.Background(), "user-1"))
	assert.Equal(t, 1, f.versions.invalidated)
}

// TestCacheStatsExposed 编排器透出缓存统计
func TestCacheStatsExposed(t *testing.T) {
	f := newFixture(t, longEnoughContent)
	req := testRequest(types.KindResume)

	_, _ = f.orch.Generate(context.Background(), req)
	_, _ = f.orch.Generate(context.Background(), req)

	stats := f.orch.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}
