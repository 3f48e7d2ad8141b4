package utils

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response standard response structure
type Response struct {
	Code      ResponseCode `json:"code"`
	Message   string       `json:"message"`
	Data      interface{}  `json:"data,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// SuccessResponse returns success response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// ErrorResponse returns an error response with an explicit HTTP status
func ErrorResponse(c *gin.Context, httpCode int, code ResponseCode, message string) {
	c.JSON(httpCode, Response{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// AppErrorResponse maps an application error to the HTTP surface.
func AppErrorResponse(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		ErrorResponse(c, http.StatusInternalServerError, CodeInternalError, "internal server error")
		return
	}
	c.JSON(httpStatusFor(appErr.Code), Response{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Timestamp: time.Now().Unix(),
	})
}

func httpStatusFor(code ResponseCode) int {
	switch code {
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimit, CodeTooManyAttempts:
		return http.StatusTooManyRequests
	case CodeReservationNotFound, CodeLotNotFound, CodeCredentialNotFound, CodeNotificationNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeInvalidTransition, CodeLotSoldOut, CodeLotClosed:
		return http.StatusConflict
	case CodePinMismatch:
		return http.StatusUnprocessableEntity
	case CodePaymentDeclined:
		return http.StatusPaymentRequired
	case CodeIntakeDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PageResponse page response structure
type PageResponse struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

// SuccessPageResponse returns success page response
func SuccessPageResponse(c *gin.Context, list interface{}, total int64, page, size int) {
	SuccessResponse(c, PageResponse{
		List:  list,
		Total: total,
		Page:  page,
		Size:  size,
	})
}
