package api

import (
	"ClarityPull/internal/domain/models"
	"ClarityPull/internal/usecase"
	xhttp "ClarityPull/pkg/http"
	applogger "ClarityPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// MarketHandler serves the dashboard's read endpoints.
type MarketHandler struct {
	l      *applogger.Logger
	reader *usecase.MarketReader
}

func NewMarketHandler(l *applogger.Logger, reader *usecase.MarketReader) *MarketHandler {
	return &MarketHandler{l: l, reader: reader}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/market-summary", h.Summary)
	g.GET("/chart/:market/:symbol", h.Chart)
	g.GET("/momentum-alerts", h.Alerts)
	g.GET("/market-metadata", h.Metadata)
}

func (h *MarketHandler) Summary(c echo.Context) error {
	res, err := h.reader.Summary(c.Request().Context())
	if err != nil {
		h.l.Error("market summary failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketHandler) Chart(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.reader.Chart(c.Request().Context(), req.Market, req.Symbol)
	if err != nil {
		appErr := appError(err)
		if appErr.Status >= 500 {
			h.l.Error("chart failed", applogger.Symbol(req.Market, req.Symbol), applogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketHandler) Alerts(c echo.Context) error {
	req := &models.AlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.reader.Alerts(c.Request().Context(), req.Limit)
	if err != nil {
		h.l.Error("momentum alerts failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"alerts": res})
}

func (h *MarketHandler) Metadata(c echo.Context) error {
	res, err := h.reader.Metadata(c.Request().Context())
	if err != nil {
		h.l.Error("market metadata failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, res)
}
