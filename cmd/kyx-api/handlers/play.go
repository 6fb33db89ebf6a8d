package handlers

import (
	"net/http"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/service"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/labstack/echo/v4"
)

// PlayHandler serves built bundles
type PlayHandler struct {
	play *service.PlayService
	log  *logger.Logger
}

// NewPlayHandler creates a new play handler
func NewPlayHandler(play *service.PlayService, log *logger.Logger) *PlayHandler {
	return &PlayHandler{play: play, log: log}
}

// Serve returns one file of a bundle
// GET /play/:owner/:slug/*
func (h *PlayHandler) Serve(c echo.Context) error {
	asset, err := h.play.Load(
		c.Request().Context(),
		c.Param("owner"),
		c.Param("slug"),
		c.Param("*"),
		middleware.GetUserID(c),
	)
	if err != nil {
		if service.IsNotFound(err) {
			return c.String(http.StatusNotFound, "not found")
		}
		h.log.Error("failed to serve artifact", "owner", c.Param("owner"), "slug", c.Param("slug"), "error", err)
		return c.String(http.StatusInternalServerError, "internal server error")
	}

	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, asset.ContentType, asset.Body)
}
