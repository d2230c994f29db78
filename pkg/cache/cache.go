// Package cache 提供带TTL和LRU淘汰的进程内键值缓存。
// TTL与LRU共存：Get时惰性剔除过期条目，Set超出容量时淘汰最久未访问条目，
// 谁先触发谁生效。后台清理协程只是内存优化，正确性不依赖它。
package cache

import (
	"strings"
	"sync"
	"time"

	"container/list"
)

// Stats 缓存运行统计
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"` // 因容量压力被LRU淘汰的条目数
	Expired   uint64 `json:"expired"`   // 因TTL到期被剔除的条目数
	Size      int    `json:"size"`
}

// entry 单个缓存条目
type entry struct {
	key            string
	value          []byte
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	hitCount       uint64
}

// Store 并发安全的TTL+LRU缓存
type Store struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // 队首为最近访问
	maxEntries int

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	now       func() time.Time
	sweepStop chan struct{}
	stopOnce  sync.Once
}

// Option Store的配置选项
type Option func(*Store)

// WithClock 注入时钟，用于测试中控制过期
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New 创建缓存。maxEntries<=0时不限制容量(只受TTL约束)。
func New(maxEntries int, opts ...Option) *Store {
	s := &Store{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
		sweepStop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get 查询条目。过期条目视为未命中并被惰性删除。
// 命中会刷新lastAccessedAt，使该条目在LRU序中前移。
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	ent := elem.Value.(*entry)
	if !s.now().Before(ent.expiresAt) {
		s.removeElement(elem)
		s.expired++
		s.misses++
		return nil, false
	}

	ent.lastAccessedAt = s.now()
	ent.hitCount++
	s.lru.MoveToFront(elem)
	s.hits++

	// 返回副本，调用方拿不到内部切片
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, true
}

// Set 写入条目。ttl必须为正；同键覆盖视为新条目(重置创建时间与TTL)。
// 超出容量时先淘汰LRU队尾，再插入。
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := make([]byte, len(value))
	copy(stored, value)

	if elem, ok := s.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = stored
		ent.createdAt = now
		ent.expiresAt = now.Add(ttl)
		ent.lastAccessedAt = now
		ent.hitCount = 0
		s.lru.MoveToFront(elem)
		return
	}

	for s.maxEntries > 0 && s.lru.Len() >= s.maxEntries {
		tail := s.lru.Back()
		if tail == nil {
			break
		}
		s.removeElement(tail)
		s.evictions++
	}

	ent := &entry{
		key:            key,
		value:          stored,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	}
	s.items[key] = s.lru.PushFront(ent)
}

// Delete 删除条目，键不存在时为空操作
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.removeElement(elem)
	}
}

// Len 返回当前条目数(含尚未被惰性剔除的过期条目)
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stats 返回累计统计快照
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Expired:   s.expired,
		Size:      s.lru.Len(),
	}
}

// StartSweeper 启动后台清理协程，周期性剔除过期条目以约束内存。
// interval<=0时不启动。与惰性过期互不影响。
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				s.sweepExpired()
			}
		}
	}()
}

// Close 停止后台清理协程
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.sweepStop)
	})
}

func (s *Store) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*entry)
		if !now.Before(ent.expiresAt) {
			s.removeElement(elem)
			s.expired++
		}
		elem = prev
	}
}

// removeElement 调用方必须持有s.mu
func (s *Store) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry)
	delete(s.items, ent.key)
	s.lru.Remove(elem)
}

// Namespace 带固定前缀的缓存视图，多个组件可以共享同一个Store而互不串键
type Namespace struct {
	store  *Store
	prefix string
}

// WithNamespace 创建命名空间视图，键格式 {prefix}:{parts...}
func (s *Store) WithNamespace(prefix string) *Namespace {
	return &Namespace{store: s, prefix: prefix}
}

// Key 拼接命名空间内的完整键
func (n *Namespace) Key(parts ...string) string {
	if len(parts) == 0 {
		return n.prefix
	}
	return n.prefix + ":" + strings.Join(parts, ":")
}

// Get 命名空间内查询
func (n *Namespace) Get(parts ...string) ([]byte, bool) {
	return n.store.Get(n.Key(parts...))
}

// Set 命名空间内写入
func (n *Namespace) Set(value []byte, ttl time.Duration, parts ...string) {
	n.store.Set(n.Key(parts...), value, ttl)
}

// Delete 命名空间内删除
func (n *Namespace) Delete(parts ...string) {
	n.store.Delete(n.Key(parts...))
}
