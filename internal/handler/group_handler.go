package handler

import (
	"im-sync/internal/service"
	"im-sync/pkg/jwt"
	"im-sync/pkg/response"

	"github.com/gin-gonic/gin"
)

// GroupHandler 群管理接口
type GroupHandler struct {
	service *service.GroupService
}

func NewGroupHandler(s *service.GroupService) *GroupHandler {
	return &GroupHandler{service: s}
}

// Create 建群
func (h *GroupHandler) Create(c *gin.Context) {
	type req struct {
		Name      string `json:"name" binding:"required"`
		MemberIDs []uint `json:"member_ids"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	group, members, err := h.service.Create(c.Request.Context(), jwt.GetUserID(c), r.Name, r.MemberIDs)
	if err != nil {
		response.FromError(c, "创建群失败", err)
		return
	}
	response.SuccessWithMessage(c, "创建群成功", response.FilterGroupInfo(group, members))
}

// Get 群信息
func (h *GroupHandler) Get(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}
	group, members, err := h.service.Get(c.Request.Context(), jwt.GetUserID(c), groupID)
	if err != nil {
		response.FromError(c, "获取群信息失败", err)
		return
	}
	response.Success(c, response.FilterGroupInfo(group, members))
}

// AddMembers 拉人进群
func (h *GroupHandler) AddMembers(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}
	type req struct {
		UserIDs []uint `json:"user_ids" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	members, err := h.service.AddMembers(c.Request.Context(), jwt.GetUserID(c), groupID, r.UserIDs)
	if err != nil {
		response.FromError(c, "添加群成员失败", err)
		return
	}
	response.SuccessWithMessage(c, "添加群成员成功", gin.H{"members": members})
}

// Delete 解散群
func (h *GroupHandler) Delete(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), jwt.GetUserID(c), groupID); err != nil {
		response.FromError(c, "解散群失败", err)
		return
	}
	response.SuccessWithMessage(c, "群已解散", nil)
}

// Leave 退群
func (h *GroupHandler) Leave(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}
	if err := h.service.Leave(c.Request.Context(), jwt.GetUserID(c), groupID); err != nil {
		response.FromError(c, "退出群失败", err)
		return
	}
	response.SuccessWithMessage(c, "已退出群", nil)
}

// Kick 管理员移出成员
func (h *GroupHandler) Kick(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	if err := h.service.Kick(c.Request.Context(), jwt.GetUserID(c), groupID, userID); err != nil {
		response.FromError(c, "移出群成员失败", err)
		return
	}
	response.SuccessWithMessage(c, "已移出群成员", nil)
}
