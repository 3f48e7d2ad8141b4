package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodrescue/internal/model"
	"foodrescue/internal/service/redemption"
	"foodrescue/pkg/utils"
)

// RedeemRequest API request for validating a presented credential
type RedeemRequest struct {
	ReservationID uint64 `json:"reservation_id" binding:"required"`
	Pin           string `json:"pin" binding:"required,len=6"`
}

// RedemptionHandler redemption handler, used by merchant pickup terminals
type RedemptionHandler struct {
	validator *redemption.Validator
}

// NewRedemptionHandler creates a redemption handler
func NewRedemptionHandler(validator *redemption.Validator) *RedemptionHandler {
	return &RedemptionHandler{validator: validator}
}

// Redeem validates the scanned credential and completes the pickup
func (h *RedemptionHandler) Redeem(c *gin.Context) {
	var apiReq RedeemRequest
	if err := c.ShouldBindJSON(&apiReq); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid parameters: "+err.Error())
		return
	}

	result, err := h.validator.Redeem(c.Request.Context(), apiReq.ReservationID, apiReq.Pin)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// RedeemScan accepts a raw QR payload as the terminal scanned it
func (h *RedemptionHandler) RedeemScan(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "unreadable request body")
		return
	}

	payload, err := model.DecodeQRPayload(body)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "malformed qr payload")
		return
	}

	result, err := h.validator.Redeem(c.Request.Context(), payload.ReservationID, payload.Pin)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// Outcome resolves an unknown redemption outcome after a client timeout.
// Read-only: a terminal that lost the response re-queries here instead of
// re-submitting the redemption.
func (h *RedemptionHandler) Outcome(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid reservation id")
		return
	}

	result, err := h.validator.QueryOutcome(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}
