package constants

import "time"

const (
	// EngineVersion 当前生成引擎版本，写入会话审计记录
	EngineVersion = "1.0"

	// 各生成类型的默认缓存TTL。
	// 岗位匹配和公司调研的输入相对稳定，给长TTL；文书类24小时。
	TTLResume          = 24 * time.Hour
	TTLCoverLetter     = 24 * time.Hour
	TTLJobMatch        = 7 * 24 * time.Hour
	TTLSkillsGap       = 3 * 24 * time.Hour
	TTLCompanyResearch = 7 * 24 * time.Hour

	// DefaultCacheMaxEntries 结果缓存默认容量上限(条数)，超出按LRU淘汰
	DefaultCacheMaxEntries = 2048
	// DefaultSweepInterval 过期条目后台清理周期
	DefaultSweepInterval = 5 * time.Minute

	// DefaultProviderTimeout 单次provider调用的硬超时
	DefaultProviderTimeout = 30 * time.Second
	// DefaultMaxRetries provider调用最大重试次数(不含首次)
	DefaultMaxRetries = 2
	// DefaultBackoffBase 重试退避基数，第n次重试等待 base*2^n
	DefaultBackoffBase = 500 * time.Millisecond
	// DefaultBackoffCap 退避时间上限
	DefaultBackoffCap = 8 * time.Second
	// DefaultProviderQPM provider调用的客户端限流(每分钟请求数)，0禁用
	DefaultProviderQPM = 60

	// DefaultFlightTimeout 单个去重飞行的全局策略超时。
	// 必须大于 DefaultProviderTimeout*(DefaultMaxRetries+1)+退避总和，避免截断重试。
	DefaultFlightTimeout = 2 * time.Minute

	// DefaultMaxRecommendations 匹配评分生成的建议条数上限
	DefaultMaxRecommendations = 5
)
