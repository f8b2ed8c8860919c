package handler

import (
	"strconv"

	"im-sync/internal/service"
	"im-sync/pkg/jwt"
	"im-sync/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service *service.UserService
}

func NewUserHandler(s *service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// Register 用户注册
func (h *UserHandler) Register(c *gin.Context) {
	type req struct {
		Username    string `json:"username" binding:"required"`
		Password    string `json:"password" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.service.Register(c.Request.Context(), r.Username, r.Password, r.DisplayName)
	if err != nil {
		response.FromError(c, "注册失败", err)
		return
	}

	response.SuccessWithMessage(c, "注册成功", &response.LoginResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// Login 用户登录
func (h *UserHandler) Login(c *gin.Context) {
	type req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.service.Login(c.Request.Context(), r.Username, r.Password)
	if err != nil {
		response.FromError(c, "登录失败", err)
		return
	}

	response.SuccessWithMessage(c, "登录成功", &response.LoginResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// GetProfile 获取当前用户资料（需要JWT认证）
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.service.Profile(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		response.FromError(c, "获取用户资料失败", err)
		return
	}
	response.SuccessWithMessage(c, "获取用户资料成功", response.FilterUserInfo(user))
}

// UpdateProfile 修改当前用户资料（需要JWT认证）
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	type req struct {
		DisplayName *string `json:"display_name"`
		Avatar      *string `json:"avatar"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.service.UpdateProfile(c.Request.Context(), jwt.GetUserID(c), service.ProfileUpdate{
		DisplayName: r.DisplayName,
		Avatar:      r.Avatar,
	})
	if err != nil {
		response.FromError(c, "修改用户资料失败", err)
		return
	}
	response.SuccessWithMessage(c, "修改用户资料成功", response.FilterUserInfo(user))
}

// GetOnlineUsers 获取在线用户列表（需要JWT认证）
func (h *UserHandler) GetOnlineUsers(c *gin.Context) {
	online := h.service.OnlineUsers()
	response.SuccessWithMessage(c, "获取在线用户成功", gin.H{
		"online_count": len(online),
		"users":        online,
	})
}

// CheckUserOnline 检查指定用户是否在线（需要JWT认证）
func (h *UserHandler) CheckUserOnline(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}

	online, sessions, lastSeen, err := h.service.Presence(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "检查用户在线状态失败", err)
		return
	}

	result := &response.PresenceResponse{
		UserID:   userID,
		Online:   online,
		Sessions: sessions,
	}
	if !online && !lastSeen.IsZero() {
		result.LastSeen = lastSeen.Format("2006-01-02 15:04:05")
	}
	response.SuccessWithMessage(c, "检查用户在线状态成功", result)
}

// parseID 解析路径参数中的数字ID，失败时已写出响应
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
