package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foodrescue/internal/middleware"
	"foodrescue/internal/repository"
	"foodrescue/internal/service/notify"
	"foodrescue/pkg/utils"
)

// NotificationHandler notification handler
type NotificationHandler struct {
	repo repository.NotificationRepository
	hub  *notify.Hub
}

// NewNotificationHandler creates a notification handler
func NewNotificationHandler(repo repository.NotificationRepository, hub *notify.Hub) *NotificationHandler {
	return &NotificationHandler{repo: repo, hub: hub}
}

// List lists the authenticated user's notifications, most recent first
func (h *NotificationHandler) List(c *gin.Context) {
	recipientID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	page, size := pageParams(c)
	list, total, err := h.repo.ListByRecipient(c.Request.Context(), recipientID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessPageResponse(c, list, total, page, size)
}

// UnreadCount returns the number of unread notifications
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	recipientID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	count, err := h.repo.CountUnread(c.Request.Context(), recipientID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"unread": count})
}

// MarkRead marks one notification read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	recipientID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid notification id")
		return
	}

	if err := h.repo.MarkRead(c.Request.Context(), id, recipientID); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"read": true})
}

// MarkAllRead marks every unread notification read
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	recipientID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	changed, err := h.repo.MarkAllRead(c.Request.Context(), recipientID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"marked": changed})
}

// Stream pushes notifications to the client over server-sent events.
// Clients reconcile through List on every (re)connect; the stream only
// carries what happens while it is open.
func (h *NotificationHandler) Stream(c *gin.Context) {
	recipientID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	ch, cancel := h.hub.Subscribe(recipientID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case notification, open := <-ch:
			if !open {
				return false
			}
			data, err := json.Marshal(notification)
			if err != nil {
				return true
			}
			c.SSEvent("notification", string(data))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
