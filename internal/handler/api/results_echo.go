package api

import (
	"errors"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/usecase"
	xhttp "QuantPipe/pkg/http"
	xlogger "QuantPipe/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ResultsEchoHandler serves experiment results over HTTP.
type ResultsEchoHandler struct {
	logger  *xlogger.Logger
	results *usecase.ResultsService
}

func NewResultsEchoHandler(logger *xlogger.Logger, results *usecase.ResultsService) *ResultsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ResultsEchoHandler{logger: logger, results: results}
}

func (h *ResultsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/experiments", h.Experiments)
	g.GET("/experiments/:name/dates", h.Dates)
	g.GET("/experiments/:name/predictions", h.Predictions)
	g.GET("/experiments/:name/topbot", h.TopBottom)
}

func (h *ResultsEchoHandler) Experiments(c echo.Context) error {
	names, err := h.results.Experiments(c.Request().Context())
	if err != nil {
		return h.fail(c, "experiments", err)
	}
	return xhttp.ListResponse(c, names, int64(len(names)))
}

func (h *ResultsEchoHandler) Dates(c echo.Context) error {
	req := &models.ExperimentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	dates, err := h.results.Dates(c.Request().Context(), req.Name)
	if err != nil {
		return h.fail(c, "dates", err)
	}
	return xhttp.ListResponse(c, dates, int64(len(dates)))
}

func (h *ResultsEchoHandler) Predictions(c echo.Context) error {
	req := &models.PredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	page, err := h.results.Predictions(c.Request().Context(), req.Name, req.Date, req.Limit)
	if err != nil {
		return h.fail(c, "predictions", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, page)
}

func (h *ResultsEchoHandler) TopBottom(c echo.Context) error {
	req := &models.TopBottomRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ks, err := usecase.ParseKs(req.Ks)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err).WithError(err))
	}
	rep, err := h.results.TopBottom(c.Request().Context(), req.Name, ks)
	if err != nil {
		return h.fail(c, "topbot", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

// fail maps domain errors onto AppErrors.
func (h *ResultsEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrExperimentNotFound),
		errors.Is(err, models.ErrResultsNotFound),
		errors.Is(err, models.ErrDateNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%v", err).WithError(err))
	case models.IsFatal(err):
		h.logger.Warn(op+" results unreadable", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableErrorf("%v", err).WithError(err))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
