package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompanyRouter(cfg CompanyScopeConfig) (*gin.Engine, *uuid.UUID, *string) {
	gin.SetMode(gin.TestMode)
	var seen uuid.UUID
	var ctxCompany string

	router := gin.New()
	router.Use(CompanyScope(cfg))
	handler := func(c *gin.Context) {
		seen = GetCompanyID(c)
		ctxCompany = logger.GetCompanyID(c.Request.Context())
		c.Status(http.StatusOK)
	}
	router.GET("/api/v1/valuation/queue", handler)
	router.GET("/health", handler)
	router.GET("/api/v1/system/info", handler)
	return router, &seen, &ctxCompany
}

func TestCompanyScope_ValidHeader(t *testing.T) {
	router, seen, ctxCompany := newCompanyRouter(DefaultCompanyScopeConfig())
	companyID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/valuation/queue", nil)
	req.Header.Set(CompanyHeader, companyID.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, companyID, *seen)
	assert.Equal(t, companyID.String(), *ctxCompany)
}

func TestCompanyScope_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "not-a-uuid"},
		{"nil uuid", uuid.Nil.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, seen, _ := newCompanyRouter(DefaultCompanyScopeConfig())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/valuation/queue", nil)
			if tt.header != "" {
				req.Header.Set(CompanyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, uuid.Nil, *seen)

			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeCompanyRequired, resp.Error.Code)
		})
	}
}

func TestCompanyScope_SkipPaths(t *testing.T) {
	router, seen, _ := newCompanyRouter(DefaultCompanyScopeConfig())

	for _, path := range []string{"/health", "/api/v1/system/info"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, uuid.Nil, *seen)
	}
}

func TestCompanyScope_OptionalAllowsMissingHeader(t *testing.T) {
	router, seen, _ := newCompanyRouter(CompanyScopeConfig{Required: false})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/valuation/queue", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uuid.Nil, *seen)
}

func TestGetCompanyID_WrongType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(CompanyIDKey, "not-a-uuid-value")

	assert.Equal(t, uuid.Nil, GetCompanyID(c))
}
