package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodrescue/internal/middleware"
	"foodrescue/internal/service/reservation"
	"foodrescue/pkg/utils"
)

// CreateReservationRequest API request for placing a reservation
type CreateReservationRequest struct {
	LotID    uint64 `json:"lot_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// ReservationHandler reservation handler
type ReservationHandler struct {
	service *reservation.Service
}

// NewReservationHandler creates a reservation handler
func NewReservationHandler(service *reservation.Service) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// Create places a reservation for the authenticated holder
func (h *ReservationHandler) Create(c *gin.Context) {
	var apiReq CreateReservationRequest
	if err := c.ShouldBindJSON(&apiReq); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid parameters: "+err.Error())
		return
	}

	holderID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	result, err := h.service.Create(c.Request.Context(), &reservation.CreateRequest{
		HolderID: holderID,
		LotID:    apiReq.LotID,
		Quantity: apiReq.Quantity,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// Confirm confirms a pending reservation and returns the QR credential.
// The PIN appears in this response and nowhere else.
func (h *ReservationHandler) Confirm(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid reservation id")
		return
	}

	result, qr, err := h.service.Confirm(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"reservation": result,
		"credential":  qr,
	})
}

// Cancel cancels a reservation. The actor is taken from the caller's role.
func (h *ReservationHandler) Cancel(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid reservation id")
		return
	}

	actor, _ := middleware.GetUserRole(c)

	if err := h.service.Cancel(c.Request.Context(), id, actor); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"cancelled": true})
}

// MarkNoShow records a no-show after the pickup window ended
func (h *ReservationHandler) MarkNoShow(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid reservation id")
		return
	}

	if err := h.service.MarkNoShow(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"no_show": true})
}

// Get returns one reservation
func (h *ReservationHandler) Get(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid reservation id")
		return
	}

	result, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// List lists the authenticated holder's reservations
func (h *ReservationHandler) List(c *gin.Context) {
	holderID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	page, size := pageParams(c)
	list, total, err := h.service.ListByHolder(c.Request.Context(), holderID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessPageResponse(c, list, total, page, size)
}
