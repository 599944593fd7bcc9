package api

import (
	"context"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"FinAlloc/internal/domain/models"
	xhttp "FinAlloc/pkg/http"
	xlogger "FinAlloc/pkg/logger"
)

type SystemStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Goroutines    int       `json:"goroutines"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Providers     int       `json:"providers"`
	Healthy       int       `json:"healthy_providers"`
}

type SystemEchoHandler struct {
	logger    *xlogger.Logger
	providers ProviderLister
	started   time.Time
	sample    func(ctx context.Context) (float64, float64)
}

func NewSystemEchoHandler(logger *xlogger.Logger, providers ProviderLister) *SystemEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &SystemEchoHandler{logger: logger, providers: providers, started: time.Now()}
	h.sample = h.hostUsage
	return h
}

func (h *SystemEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/system/stats", h.Stats)
}

func (h *SystemEchoHandler) Stats(c echo.Context) error {
	cpuPct, memPct := h.sample(c.Request().Context())
	st := SystemStats{
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		Goroutines:    runtime.NumGoroutine(),
		StartedAt:     h.started,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.providers != nil {
		for _, p := range h.providers.Providers() {
			st.Providers++
			if p.Health == models.HealthHealthy {
				st.Healthy++
			}
		}
	}
	return xhttp.SuccessResponse(c, st)
}

// hostUsage samples CPU over 100ms so the endpoint stays responsive.
func (h *SystemEchoHandler) hostUsage(ctx context.Context) (float64, float64) {
	var cpuAvg float64
	if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err != nil {
		h.logger.Warn("cpu sample failed", xlogger.Error(err))
	} else if len(pct) > 0 {
		cpuAvg = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.logger.Warn("memory sample failed", xlogger.Error(err))
		return cpuAvg, 0
	}
	return cpuAvg, vm.UsedPercent
}
