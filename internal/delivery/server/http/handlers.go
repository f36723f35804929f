package http

import (
	"net/http"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	binder CodeIssuer
	groups chat.GroupPolicyStore
	logger logging.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type issueCodeRequest struct {
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`
}

type issueCodeResponse struct {
	Code      string    `json:"code"`
	AccountID string    `json:"account_id"`
	Platform  string    `json:"platform"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handlers) issueCode(c *gin.Context) {
	var req issueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	platform, ok := parsePlatform(req.Platform)
	if !ok || strings.TrimSpace(req.AccountID) == "" {
		c.JSON(http.StatusBadRequest, errorBody("account_id and a known platform are required"))
		return
	}
	code, err := h.binder.IssueCode(c.Request.Context(), req.AccountID, platform)
	if err != nil {
		logging.FromContext(c.Request.Context(), h.logger).Error("issue binding code failed: %v", err)
		c.JSON(http.StatusInternalServerError, errorBody("could not issue binding code"))
		return
	}
	c.JSON(http.StatusCreated, issueCodeResponse{
		Code:      code.Code,
		AccountID: code.AccountID,
		Platform:  string(code.Platform),
		ExpiresAt: code.ExpiresAt,
	})
}

type groupAIRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *handlers) setGroupAI(c *gin.Context) {
	platform, ok := parsePlatform(c.Param("platform"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody("unknown platform"))
		return
	}
	groupID := strings.TrimSpace(c.Param("id"))
	var req groupAIRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil || groupID == "" {
		c.JSON(http.StatusBadRequest, errorBody(`body must be {"enabled": true|false}`))
		return
	}
	if err := h.groups.SetGroupEnabled(c.Request.Context(), platform, groupID, *req.Enabled); err != nil {
		logging.FromContext(c.Request.Context(), h.logger).Error("set group %s:%s failed: %v", platform, groupID, err)
		c.JSON(http.StatusInternalServerError, errorBody("could not update group"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform": string(platform), "group_id": groupID, "enabled": *req.Enabled})
}

func parsePlatform(raw string) (chat.Platform, bool) {
	switch chat.Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case chat.PlatformLark:
		return chat.PlatformLark, true
	case chat.PlatformWeChat:
		return chat.PlatformWeChat, true
	default:
		return "", false
	}
}
