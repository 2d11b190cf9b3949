package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompanyHeader carries the company whose valuation ledger a request touches
const (
	CompanyHeader = "X-Company-ID"
	CompanyIDKey  = "company_id"
)

// CompanyScopeConfig holds configuration for the company scope middleware
type CompanyScopeConfig struct {
	// SkipPaths are paths that don't need a company (e.g., health check)
	SkipPaths []string
	// Required rejects requests without a company header
	Required bool
	Logger   *zap.Logger
}

// DefaultCompanyScopeConfig returns default configuration
func DefaultCompanyScopeConfig() CompanyScopeConfig {
	return CompanyScopeConfig{
		SkipPaths: []string{"/health", "/api/v1/system"},
		Required:  true,
	}
}

// CompanyScope extracts and validates the X-Company-ID header, stores it on
// the gin context and tags the request logger with it
func CompanyScope(cfg CompanyScopeConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip || strings.HasPrefix(path, skip+"/") {
				c.Next()
				return
			}
		}

		raw := strings.TrimSpace(c.GetHeader(CompanyHeader))
		if raw == "" {
			if cfg.Required {
				respondBadCompany(c, "Company identification required")
				return
			}
			c.Next()
			return
		}

		companyID, err := uuid.Parse(raw)
		if err != nil || companyID == uuid.Nil {
			if cfg.Logger != nil {
				cfg.Logger.Debug("Rejected company header", zap.String("value", truncate(raw, 64)))
			}
			respondBadCompany(c, "Invalid company ID format")
			return
		}

		c.Set(CompanyIDKey, companyID)
		ctx := logger.WithCompanyID(c.Request.Context(), companyID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func respondBadCompany(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeCompanyRequired, message, c.GetString("request_id"),
	))
}

// GetCompanyID retrieves the company ID from gin.Context, or uuid.Nil
func GetCompanyID(c *gin.Context) uuid.UUID {
	if v, exists := c.Get(CompanyIDKey); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
