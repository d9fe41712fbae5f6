package api

import (
	"time"

	"ClarityPull/internal/domain/models"
	"ClarityPull/internal/service/ratelimit"
	"ClarityPull/internal/usecase"
	xhttp "ClarityPull/pkg/http"
	"ClarityPull/pkg/http/middleware"
	applogger "ClarityPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// limiterIdle is how long a caller's bucket survives without requests.
const limiterIdle = 10 * time.Minute

// OpsHandler serves the operational endpoints behind the ops key.
type OpsHandler struct {
	l       *applogger.Logger
	polls   *usecase.PollService
	limiter *ratelimit.Limiter
	key     string
}

func NewOpsHandler(l *applogger.Logger, polls *usecase.PollService, limiter *ratelimit.Limiter, key string) *OpsHandler {
	return &OpsHandler{l: l, polls: polls, limiter: limiter, key: key}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/ops", middleware.OpsKey(h.key))
	g.POST("/poll", h.Poll)
	g.GET("/status", h.Status)
	g.GET("/logs", h.Logs)
	g.PUT("/override", h.Override)
}

// Poll accepts a poll request and runs it in the background.
func (h *OpsHandler) Poll(c echo.Context) error {
	caller := c.RealIP()
	if h.limiter != nil {
		h.limiter.Prune(limiterIdle)
	}
	if h.limiter != nil && !h.limiter.Allow(caller) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("poll rate limit exceeded"))
	}

	req := &models.PollRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	accepted, err := h.polls.Submit(c.Request().Context(), *req)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	h.l.Info("poll submitted",
		applogger.String("caller", caller),
		applogger.String("mode", accepted.Mode),
		applogger.Strings("symbols", accepted.Symbols),
		applogger.Strings("groups", accepted.Groups),
	)
	return xhttp.AcceptedResponse(c, accepted)
}

func (h *OpsHandler) Status(c echo.Context) error {
	res, err := h.polls.Statuses(c.Request().Context())
	if err != nil {
		h.l.Error("list statuses failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *OpsHandler) Logs(c echo.Context) error {
	req := &models.LogsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.polls.Logs(c.Request().Context(), *req)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

// Override sets or clears an operator score and returns the rederived run.
func (h *OpsHandler) Override(c echo.Context) error {
	req := &models.ScoreOverrideRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	run, err := h.polls.OverrideScore(c.Request().Context(), *req)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	h.l.Info("score override",
		applogger.String("caller", c.RealIP()),
		applogger.Symbol(req.Market, req.Symbol),
		applogger.String("date", req.Date),
	)
	return xhttp.SuccessResponse(c, map[string]any{"zone_run": run})
}
