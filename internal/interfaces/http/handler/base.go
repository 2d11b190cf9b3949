package handler

import (
	"errors"
	"net/http"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/interfaces/http/dto"
	"github.com/erp/stockvaluation/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

// getCompanyID returns the company resolved by the CompanyScope middleware
func getCompanyID(c *gin.Context) (uuid.UUID, bool) {
	id := middleware.GetCompanyID(c)
	return id, id != uuid.Nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	code = dto.NormalizeErrorCode(code)
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// BindError reports a failed ShouldBind call, listing invalid fields when
// the validator produced them
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		h.ValidationError(c, middleware.ValidationDetails(verrs))
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Malformed request body: "+err.Error())
}

// RequireCompany reads the request's company or writes a 400 and returns false
func (h *BaseHandler) RequireCompany(c *gin.Context) (uuid.UUID, bool) {
	companyID, ok := getCompanyID(c)
	if !ok {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeCompanyRequired,
			"The "+middleware.CompanyHeader+" header must carry a company ID")
	}
	return companyID, ok
}

// HandleError converts domain and application errors to HTTP responses.
// Shortage and negative balance errors carry their alternatives as context.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := getRequestID(c)

	if errors.Is(err, appval.ErrJobLocked) {
		h.Error(c, http.StatusConflict, dto.ErrCodeJobLocked, err.Error())
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		resp := dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID)
		resp.Error.Context = errorContext(err)
		c.JSON(dto.GetHTTPStatus(code), resp)
		return
	}

	logger.L(c.Request.Context()).Error("Unhandled error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}

func errorContext(err error) any {
	var shortage *valuation.ShortageError
	if errors.As(err, &shortage) {
		return ShortageContext{
			ProductID:      shortage.ProductID.String(),
			WarehouseID:    shortage.WarehouseID.String(),
			Requested:      shortage.Requested,
			Available:      shortage.Available,
			Shortage:       shortage.Shortage,
			Alternatives:   shortage.Alternatives,
			SuggestedSplit: shortage.SuggestedSplit,
		}
	}
	var negative *valuation.NegativeBalanceError
	if errors.As(err, &negative) {
		return ShortageContext{
			ProductID:    negative.ProductID.String(),
			WarehouseID:  negative.WarehouseID.String(),
			Requested:    negative.Quantity.Abs(),
			Available:    negative.AvailableBefore,
			Shortage:     negative.Shortfall,
			Alternatives: negative.Alternatives,
		}
	}
	return nil
}
