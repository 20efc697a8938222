package errs

// 业务错误码：1xxx 客户端问题，2xxx 鉴权问题，5xxx 服务端问题
const (
	CodeBadRequest    = 1000
	CodeMissingTenant = 1001
	CodeUnknownEntity = 1002
	CodeUnauthorized  = 2000
	CodeTokenInvalid  = 2001
	CodeInternal      = 5000
)

var (
	ErrBadRequest    = NewCodeError(CodeBadRequest, "bad request")
	ErrMissingTenant = NewCodeError(CodeMissingTenant, "tenantId is required")
	ErrUnknownEntity = NewCodeError(CodeUnknownEntity, "unknown entity type")
	ErrUnauthorized  = NewCodeError(CodeUnauthorized, "authorization required")
	ErrTokenInvalid  = NewCodeError(CodeTokenInvalid, "token invalid or expired")
	ErrInternal      = NewCodeError(CodeInternal, "internal error")
)
