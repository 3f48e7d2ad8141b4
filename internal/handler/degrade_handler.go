package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foodrescue/pkg/degrade"
	"foodrescue/pkg/utils"
)

// DegradeRequest API request for shedding reservation intake
type DegradeRequest struct {
	LotID      uint64 `json:"lot_id"` // 0 sheds every lot
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
	TTLSeconds int    `json:"ttl_seconds"` // 0 keeps the switch on until disabled
}

// DegradeHandler ops handler for the intake shed switch
type DegradeHandler struct {
	manager *degrade.Manager
}

// NewDegradeHandler creates a degrade handler
func NewDegradeHandler(manager *degrade.Manager) *DegradeHandler {
	return &DegradeHandler{manager: manager}
}

// Enable sheds reservation intake for one lot or globally
func (h *DegradeHandler) Enable(c *gin.Context) {
	var apiReq DegradeRequest
	if err := c.ShouldBindJSON(&apiReq); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid parameters: "+err.Error())
		return
	}

	var strategy *degrade.Strategy
	if apiReq.Message != "" || apiReq.RetryAfter > 0 {
		strategy = &degrade.Strategy{
			Message:    apiReq.Message,
			RetryAfter: apiReq.RetryAfter,
		}
	}

	ttl := time.Duration(apiReq.TTLSeconds) * time.Second
	if err := h.manager.Enable(c.Request.Context(), apiReq.LotID, strategy, ttl); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"degraded": true, "lot_id": apiReq.LotID})
}

// Disable restores reservation intake
func (h *DegradeHandler) Disable(c *gin.Context) {
	var apiReq struct {
		LotID uint64 `json:"lot_id"`
	}
	if err := c.ShouldBindJSON(&apiReq); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid parameters: "+err.Error())
		return
	}

	if err := h.manager.Disable(c.Request.Context(), apiReq.LotID); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"degraded": false, "lot_id": apiReq.LotID})
}
