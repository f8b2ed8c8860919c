package response

import (
	"errors"
	"net/http"

	"im-sync/internal/model"
	"im-sync/pkg/errs"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`            // 状态码：0表示成功，其他表示错误
	Message string      `json:"message"`         // 响应消息
	Data    interface{} `json:"data,omitempty"`  // 响应数据
	Error   string      `json:"error,omitempty"` // 错误详情（仅在开发环境显示）
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithDetails 带错误详情的错误响应
func ErrorWithDetails(c *gin.Context, code int, message string, err error) {
	response := Response{
		Code:    code,
		Message: message,
	}

	// 在开发环境下显示错误详情
	if gin.Mode() == gin.DebugMode && err != nil {
		response.Error = err.Error()
	}

	c.JSON(http.StatusOK, response)
}

// BadRequest 400错误
func BadRequest(c *gin.Context, message string) {
	Error(c, 400, message)
}

// Unauthorized 401错误
func Unauthorized(c *gin.Context, message string) {
	Error(c, 401, message)
}

// Forbidden 403错误
func Forbidden(c *gin.Context, message string) {
	Error(c, 403, message)
}

// NotFound 404错误
func NotFound(c *gin.Context, message string) {
	Error(c, 404, message)
}

// InternalError 500错误
func InternalError(c *gin.Context, message string) {
	Error(c, 500, message)
}

// ServiceUnavailable 503错误
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, 503, message)
}

// FromError 按错误分类返回对应的错误码
func FromError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, errs.ErrAuthentication):
		ErrorWithDetails(c, 401, message, err)
	case errors.Is(err, errs.ErrNotFound):
		ErrorWithDetails(c, 404, message, err)
	case errors.Is(err, errs.ErrConflictInvariant):
		ErrorWithDetails(c, 400, message, err)
	case errors.Is(err, errs.ErrTransientTransport):
		ErrorWithDetails(c, 503, message, err)
	default:
		ErrorWithDetails(c, 500, message, err)
	}
}

// UserInfo 用户信息（隐藏敏感字段）
type UserInfo struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	Status      string `json:"status"`
	LastSeen    string `json:"last_seen"`
	CreatedAt   string `json:"created_at"`
}

// FilterUserInfo 过滤用户信息，隐藏敏感字段
func FilterUserInfo(user *model.User) *UserInfo {
	if user == nil {
		return nil
	}

	return &UserInfo{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
		Status:      user.Status,
		LastSeen:    user.LastSeen.Format("2006-01-02 15:04:05"),
		CreatedAt:   user.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// LoginResponse 登录/注册响应
type LoginResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// PresenceResponse 用户在线状态
type PresenceResponse struct {
	UserID   uint   `json:"user_id"`
	Online   bool   `json:"online"`
	Sessions int    `json:"sessions"`
	LastSeen string `json:"last_seen,omitempty"`
}

// GroupResponse 群信息
type GroupResponse struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	OwnerID uint   `json:"owner_id"`
	Members []uint `json:"members,omitempty"`
}

// FilterGroupInfo 群信息转响应
func FilterGroupInfo(group *model.Group, members []uint) *GroupResponse {
	if group == nil {
		return nil
	}
	return &GroupResponse{
		ID:      group.ID,
		Name:    group.Name,
		OwnerID: group.OwnerID,
		Members: members,
	}
}
