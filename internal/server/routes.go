package server

import (
	"net/http"
	"time"

	"github.com/dcastel/ecowatch/internal/core/domain"
	"github.com/dcastel/ecowatch/internal/metrics"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type statusResponse struct {
	Version   string              `json:"version"`
	ConnState string              `json:"conn_state"`
	Charging  *bool               `json:"charging,omitempty"`
	ChgState  *string             `json:"chg_state,omitempty"`
	State     ecoflow.DeviceState `json:"state"`
}

type controlRequest struct {
	Enabled *bool `json:"enabled"`
}

type controlResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	e.GET("/quota", s.QuotaHandler)
	e.POST("/control/ac", s.ControlACHandler)
	e.POST("/control/usb", s.ControlUSBHandler)
	e.POST("/control/car", s.ControlCarHandler)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(s.metricsReg)))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// StatusHandler renders the cached snapshot. Voltages are stored raw and
// normalized only here.
func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetDeviceStateRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}
	response, ok := res.(domain.GetDeviceStateResponse)
	if !ok || response.HasResponseError() {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}

	state := response.State
	normalizeVoltages(&state)

	payload := statusResponse{
		Version:   versioninfo.Short(),
		ConnState: response.ConnState,
		Charging:  response.Charging,
		State:     state,
	}
	if state.ChgState != nil {
		label := ecoflow.ChgStateLabel(state.ChgState)
		payload.ChgState = &label
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *Server) QuotaHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetQuotaRequest{}, 30*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "quota: FAIL")
	}
	response, ok := res.(domain.GetQuotaResponse)
	if !ok || response.HasResponseError() {
		return c.String(http.StatusServiceUnavailable, "quota: FAIL")
	}
	return c.JSON(http.StatusOK, response.Quota)
}

func (s *Server) ControlACHandler(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return c.String(http.StatusBadRequest, `body must be {"enabled": true|false}`)
	}
	return s.sendCommand(c, domain.SetACOutputRequest{Enabled: *req.Enabled})
}

func (s *Server) ControlUSBHandler(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return c.String(http.StatusBadRequest, `body must be {"enabled": true|false}`)
	}
	return s.sendCommand(c, domain.SetUSBOutputRequest{Enabled: *req.Enabled})
}

func (s *Server) ControlCarHandler(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return c.String(http.StatusBadRequest, `body must be {"enabled": true|false}`)
	}
	return s.sendCommand(c, domain.SetCarOutputRequest{Enabled: *req.Enabled})
}

func (s *Server) sendCommand(c echo.Context, msg any) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, msg, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "command: FAIL")
	}
	response, ok := res.(domain.CommandResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "command: FAIL")
	}
	if !response.Accepted {
		return c.JSON(http.StatusConflict, controlResponse{Accepted: false})
	}
	return c.JSON(http.StatusOK, controlResponse{Accepted: true})
}

func normalizeVoltages(state *ecoflow.DeviceState) {
	if state.ACInVoltage != nil {
		v := ecoflow.NormalizeVoltage(*state.ACInVoltage)
		state.ACInVoltage = &v
	}
	if state.ACOutVoltage != nil {
		v := ecoflow.NormalizeVoltage(*state.ACOutVoltage)
		state.ACOutVoltage = &v
	}
}
