package generation

import (
	"context"
	"time"

	"ai-tracker-go/internal/types"
	"ai-tracker-go/pkg/cache"
)

// ResultCache 结果缓存抽象。
// 进程内实现(pkg/cache)永不出错；外部实现(如Redis)出错时编排器按未命中降级。
type ResultCache interface {
	// Get 查询缓存，found=false表示未命中(含已过期)
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set 写入缓存
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除缓存条目
	Delete(ctx context.Context, key string) error

	// Stats 返回命中统计
	Stats() cache.Stats
}

// MemoryResultCache 把pkg/cache的Store适配成ResultCache
type MemoryResultCache struct {
	store *cache.Store
}

// NewMemoryResultCache 创建进程内结果缓存
func NewMemoryResultCache(store *cache.Store) *MemoryResultCache {
	return &MemoryResultCache{store: store}
}

func (m *MemoryResultCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store.Get(key)
	return v, ok, nil
}

func (m *MemoryResultCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.store.Set(key, value, ttl)
	return nil
}

func (m *MemoryResultCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryResultCache) Stats() cache.Stats {
	return m.store.Stats()
}

// VersionStore 资料版本查询。版本号单调递增，任何资料变更都会使其加一。
type VersionStore interface {
	// ProfileVersion 返回subject当前的资料版本
	ProfileVersion(ctx context.Context, subjectID string) (int64, error)

	// InvalidateVersionCache 使版本缓存失效，强制下次从持久层重读。
	// 基于版本的指纹机制已保证旧缓存条目不可达，这里只是显式的兜底钩子。
	InvalidateVersionCache(ctx context.Context, subjectID string) error
}

// SessionStore 会话审计持久化。只用于审计/排障，缓存与去重的正确性不依赖它。
type SessionStore interface {
	SaveSession(ctx context.Context, session *types.GenerationSession) error
}

// DocumentStore 生成文档的对象存储，返回可持久引用(resultRef)
type DocumentStore interface {
	SaveDocument(ctx context.Context, kind types.GenerationKind, fingerprint string, content []byte) (ref string, err error)
}

// EventPublisher 会话结果事件发布，尽力而为，失败不影响请求结果
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, session *types.GenerationSession) error
}
