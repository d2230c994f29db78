package constants

// 缓存与Redis Key的前缀和格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 所有Key的统一应用前缀
	AppPrefix = "app"

	// GenModulePrefix 生成模块
	GenModulePrefix = "gen"
	// ProfileModulePrefix 候选人资料模块
	ProfileModulePrefix = "profile"

	// EntityResult 生成结果实体
	EntityResult = "result"
	// EntityVersion 资料版本实体
	EntityVersion = "version"
	// EntityDocument 生成文档实体
	EntityDocument = "doc"

	// CacheNamespaceResult 结果缓存命名空间
	// 完整键格式: app:gen:result:{kind}:{fingerprint}
	CacheNamespaceResult = AppPrefix + ":" + GenModulePrefix + ":" + EntityResult

	// KeyProfileVersion 资料版本缓存 (STRING)
	// 格式: app:profile:version:{subjectID}
	KeyProfileVersion = AppPrefix + ":" + ProfileModulePrefix + ":" + EntityVersion + ":%s"

	// GenerationEventsExchange 会话结果事件交换机
	GenerationEventsExchange = "generation.events"
	// EventCompletedRoutingKey 会话完成事件路由键
	EventCompletedRoutingKey = "generation.completed"
	// EventFailedRoutingKey 会话失败事件路由键
	EventFailedRoutingKey = "generation.failed"
)
