package errs

// 业务错误码。1xxx 为调用方错误，2xxx 为存储层错误，5xxx 为服务端内部错误。
const (
	ValidationError        = 1001 // 参数非法，写入前拒绝，不重试
	AlreadyExists          = 1002 // 幂等命中，返回原结果，非失败
	ConversationNotWritable = 1003 // 会话被管理冻结，立即上抛，不重试
	NotFound               = 1004
	StatusTransitionDenied = 1005 // 消息状态不允许回退/终态后变更

	SequenceConflict      = 2001 // (conversation_id, seq) 撞号，请求级致命
	TransientStorageError = 2002 // 分区暂不可用/超时，可退避重试
	Unavailable           = 2003 // 重试耗尽后的最终失败

	ServerInternalError = 5000
)

var (
	ErrValidation              = NewCodeError(ValidationError, "invalid argument")
	ErrAlreadyExists           = NewCodeError(AlreadyExists, "already exists")
	ErrConversationNotWritable = NewCodeError(ConversationNotWritable, "conversation is frozen")
	ErrNotFound                = NewCodeError(NotFound, "record not found")
	ErrStatusTransition        = NewCodeError(StatusTransitionDenied, "status transition denied")
	ErrSequenceConflict        = NewCodeError(SequenceConflict, "sequence conflict")
	ErrTransientStorage        = NewCodeError(TransientStorageError, "transient storage error")
	ErrUnavailable             = NewCodeError(Unavailable, "storage unavailable")
	ErrInternal                = NewCodeError(ServerInternalError, "server internal error")
)

// IsCode 判断 err 是否携带指定业务码。
func IsCode(err error, code int) bool {
	return Code(err) == code
}
