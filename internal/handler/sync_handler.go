package handler

import (
	"strconv"

	"im-sync/internal/service"
	"im-sync/pkg/jwt"
	"im-sync/pkg/response"

	"github.com/gin-gonic/gin"
)

// SyncHandler 拉取同步接口
type SyncHandler struct {
	service *service.SyncService
}

func NewSyncHandler(s *service.SyncService) *SyncHandler {
	return &SyncHandler{service: s}
}

// Pull GET /api/v1/sync?last_ts=&limit=
func (h *SyncHandler) Pull(c *gin.Context) {
	lastTs, err := strconv.ParseInt(c.DefaultQuery("last_ts", "0"), 10, 64)
	if err != nil || lastTs < 0 {
		response.BadRequest(c, "invalid last_ts")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.BadRequest(c, "invalid limit")
		return
	}

	page, err := h.service.Pull(c.Request.Context(), jwt.GetUserID(c), lastTs, limit)
	if err != nil {
		response.FromError(c, "同步失败", err)
		return
	}
	response.Success(c, page)
}
