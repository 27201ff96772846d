package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aimian/internal/apperr"
	"aimian/internal/errcode"
)

// 统一响应包裹：{code, message, data}。code=0 表示成功。
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": errcode.OK, "message": "ok", "data": data})
}

func Error(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"code": code, "message": msg})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, errcode.InvalidArgument, msg)
}
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, errcode.ResourceMissing, msg)
}
func Conflict(c *gin.Context, msg string) {
	Error(c, http.StatusConflict, errcode.StateConflict, msg)
}
func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, errcode.SystemError, msg)
}
func BadGateway(c *gin.Context, msg string) {
	Error(c, http.StatusBadGateway, errcode.UpstreamError, msg)
}

// HandleError 把业务错误映射为统一响应：
// NotFound→404、Conflict→409、Validation→400、上游失败→502，其余 500。
func HandleError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		NotFound(c, err.Error())
	case apperr.KindConflict:
		Conflict(c, err.Error())
	case apperr.KindValidation:
		BadRequest(c, err.Error())
	case apperr.KindUpstream, apperr.KindUpstreamEmpty:
		BadGateway(c, err.Error())
	default:
		Internal(c, "系统内部错误，请稍后重试")
	}
}
