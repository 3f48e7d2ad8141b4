package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"foodrescue/internal/cache"
	"foodrescue/internal/middleware"
	"foodrescue/internal/model"
	"foodrescue/internal/repository"
	"foodrescue/pkg/snowflake"
	"foodrescue/pkg/utils"
)

// CreateLotRequest API request for publishing a lot
type CreateLotRequest struct {
	Title       string          `json:"title" binding:"required,max=200"`
	Description string          `json:"description" binding:"max=500"`
	Quantity    int             `json:"quantity" binding:"required,min=1"`
	Price       decimal.Decimal `json:"price"`
	IsDonation  bool            `json:"is_donation"`
	PickupStart time.Time       `json:"pickup_start" binding:"required"`
	PickupEnd   time.Time       `json:"pickup_end" binding:"required"`
}

// LotHandler lot handler
type LotHandler struct {
	lots     repository.LotRepository
	lotCache *cache.LotCache
	idGen    *snowflake.IDGenerator
}

// NewLotHandler creates a lot handler. lotCache may be nil.
func NewLotHandler(lots repository.LotRepository, lotCache *cache.LotCache, idGen *snowflake.IDGenerator) *LotHandler {
	return &LotHandler{lots: lots, lotCache: lotCache, idGen: idGen}
}

// Create publishes a lot for the authenticated merchant
func (h *LotHandler) Create(c *gin.Context) {
	var apiReq CreateLotRequest
	if err := c.ShouldBindJSON(&apiReq); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid parameters: "+err.Error())
		return
	}

	if !apiReq.PickupEnd.After(apiReq.PickupStart) {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "pickup window must end after it starts")
		return
	}
	if !apiReq.IsDonation && apiReq.Price.LessThanOrEqual(decimal.Zero) {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "priced lots need a positive price")
		return
	}

	merchantID, ok := middleware.GetUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "unauthorized")
		return
	}

	lot := &model.Lot{
		ID:          h.idGen.NextUint64(),
		MerchantID:  merchantID,
		Title:       apiReq.Title,
		Description: apiReq.Description,
		Quantity:    apiReq.Quantity,
		Price:       apiReq.Price,
		IsDonation:  apiReq.IsDonation,
		PickupStart: apiReq.PickupStart,
		PickupEnd:   apiReq.PickupEnd,
	}
	if lot.IsDonation {
		lot.Price = decimal.Zero
	}

	if err := h.lots.Create(c.Request.Context(), lot); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, lot)
}

// ListOpen lists lots still open for reservation
func (h *LotHandler) ListOpen(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.lots.ListOpen(c.Request.Context(), page, size)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessPageResponse(c, list, total, page, size)
}

// Get returns one lot
func (h *LotHandler) Get(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidParam, "invalid lot id")
		return
	}

	var lot *model.Lot
	if h.lotCache != nil {
		lot, err = h.lotCache.GetByID(c.Request.Context(), id)
	} else {
		lot, err = h.lots.GetByID(c.Request.Context(), id)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, lot)
}
