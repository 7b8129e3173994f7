package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/erp/shipmerge/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// SystemInfo is the static part of the system info response
type SystemInfo struct {
	Name              string
	Env               string
	Version           string
	DryRun            bool
	AccumulateMethods []string
	ExpressMethods    []string
}

// SystemHandler handles the operational endpoints
type SystemHandler struct {
	info      SystemInfo
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(info SystemInfo) *SystemHandler {
	return &SystemHandler{
		info:      info,
		startTime: time.Now(),
	}
}

// HealthResponse represents the liveness response
type HealthResponse struct {
	Status string `json:"status"`
	DryRun bool   `json:"dry_run"`
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name              string   `json:"name"`
	Env               string   `json:"env"`
	Version           string   `json:"version"`
	GoVersion         string   `json:"go_version"`
	Uptime            string   `json:"uptime"`
	DryRun            bool     `json:"dry_run"`
	AccumulateMethods []string `json:"accumulate_methods"`
	ExpressMethods    []string `json:"express_methods"`
}

// Health answers liveness probes
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		DryRun: h.info.DryRun,
	})
}

// GetSystemInfo returns the service identity and its routing configuration
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:              h.info.Name,
		Env:               h.info.Env,
		Version:           h.info.Version,
		GoVersion:         runtime.Version(),
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		DryRun:            h.info.DryRun,
		AccumulateMethods: h.info.AccumulateMethods,
		ExpressMethods:    h.info.ExpressMethods,
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}

// RegisterRoutes mounts the versioned system routes
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", h.GetSystemInfo)
}

// HealthRoutes returns a registrar that mounts /health, meant for the
// engine root rather than the versioned API group
func (h *SystemHandler) HealthRoutes() HealthRegistrar {
	return HealthRegistrar{h: h}
}

// HealthRegistrar mounts the liveness endpoint
type HealthRegistrar struct {
	h *SystemHandler
}

// RegisterRoutes mounts the liveness endpoint
func (r HealthRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", r.h.Health)
}
