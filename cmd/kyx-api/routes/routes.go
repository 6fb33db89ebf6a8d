package routes

import (
	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/container"
	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/handlers"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterGameRoutes registers game, build and event routes
func RegisterGameRoutes(e *echo.Echo, c *container.Container) {
	log := c.Components.Logger
	limits := c.Components.Config.Limits

	games := handlers.NewGameHandler(c.GameService, log)
	builds := handlers.NewBuildHandler(c.BuildService, log)
	stream := handlers.NewEventsHandler(c.GameService, c.Components.Feed, log)

	g := e.Group("/api/v1/games")
	g.Use(middleware.RequireUser(c.Authenticator))
	g.Use(middleware.UserRateLimit(c.Components.Counter, limits.APIRateLimit, limits.APIRateWindow, log))
	{
		g.POST("", games.Create)                      // POST /api/v1/games
		g.GET("/:id", games.Get)                      // GET /api/v1/games/{id}
		g.PUT("/:id/config", games.ReplaceConfig)     // PUT /api/v1/games/{id}/config
		g.PATCH("/:id/config", games.PatchConfig)     // PATCH /api/v1/games/{id}/config
		g.PUT("/:id/source", games.ReplaceSource)     // PUT /api/v1/games/{id}/source
		g.PUT("/:id/visibility", games.SetVisibility) // PUT /api/v1/games/{id}/visibility

		g.POST("/:id/build", builds.Enqueue)      // POST /api/v1/games/{id}/build
		g.GET("/:id/build", builds.Status)        // GET /api/v1/games/{id}/build
		g.POST("/:id/build/reset", builds.Reset)  // POST /api/v1/games/{id}/build/reset
		g.GET("/:id/builds", builds.History)      // GET /api/v1/games/{id}/builds?limit=20
		g.GET("/:id/build/events", stream.Stream) // GET /api/v1/games/{id}/build/events (websocket)
	}
}

// RegisterPlayRoutes serves built bundles. Anonymous viewers are allowed;
// private games need the owner's credentials.
func RegisterPlayRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPlayHandler(c.PlayService, c.Components.Logger)

	p := e.Group("/play")
	p.Use(middleware.ExtractUser(c.Authenticator))
	{
		p.GET("/:owner/:slug", h.Serve)   // GET /play/{owner}/{slug}
		p.GET("/:owner/:slug/*", h.Serve) // GET /play/{owner}/{slug}/{file}
	}
}
