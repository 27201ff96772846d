package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复类错误（状态/入参问题，调用方可修正后重试）
// - 5xxx：系统或上游错误（需要中断流程）
const (
	OK              = 0
	InvalidArgument = 4000
	ResourceMissing = 4004
	StateConflict   = 4009
	SystemError     = 5000
	UpstreamError   = 5002
)
