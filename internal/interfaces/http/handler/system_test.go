package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/shipmerge/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSystemInfo() SystemInfo {
	return SystemInfo{
		Name:              "shipmerge",
		Env:               "test",
		Version:           "1.2.3",
		DryRun:            true,
		AccumulateMethods: []string{"Consolidated Shipping"},
		ExpressMethods:    []string{"Express Shipping"},
	}
}

func TestNewSystemHandler(t *testing.T) {
	h := NewSystemHandler(testSystemInfo())
	assert.NotNil(t, h)
	assert.False(t, h.startTime.IsZero())
}

func TestSystemHandler_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewSystemHandler(testSystemInfo())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/health", nil)

	h.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.DryRun)
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewSystemHandler(testSystemInfo())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/api/v1/system/info", nil)

	h.GetSystemInfo(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		dto.Response
		Data SystemInfoResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.True(t, resp.Success)
	assert.Equal(t, "shipmerge", resp.Data.Name)
	assert.Equal(t, "test", resp.Data.Env)
	assert.Equal(t, "1.2.3", resp.Data.Version)
	assert.True(t, resp.Data.DryRun)
	assert.Equal(t, []string{"Consolidated Shipping"}, resp.Data.AccumulateMethods)
	assert.Equal(t, []string{"Express Shipping"}, resp.Data.ExpressMethods)
	assert.NotEmpty(t, resp.Data.GoVersion)
	assert.NotEmpty(t, resp.Data.Uptime)
}

func TestSystemHandler_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewSystemHandler(testSystemInfo())
	engine := gin.New()
	h.HealthRoutes().RegisterRoutes(&engine.RouterGroup)
	h.RegisterRoutes(engine.Group("/api/v1"))

	for _, path := range []string{"/health", "/api/v1/system/info"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
