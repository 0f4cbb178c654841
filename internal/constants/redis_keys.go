package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// SearchModulePrefix 搜索模块
	SearchModulePrefix = "search"

	// EntityFilter 解析后的检索条件
	EntityFilter = "filter"

	// KeySearchFilter 查询文本 MD5 到检索条件 JSON 的缓存 (STRING)
	// 格式: app:search:filter:{md5}
	KeySearchFilter = AppPrefix + ":" + SearchModulePrefix + ":" + EntityFilter + ":%s"
)
