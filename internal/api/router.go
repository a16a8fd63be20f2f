package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/hexfall/ipavault/internal/api/controllers"
	"github.com/hexfall/ipavault/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	e.Use(httpsRedirect(app))
	e.Use(passwordGate(app))

	dlCtrl := &controllers.DownloadsController{App: app}
	sysCtrl := &controllers.SystemController{App: app}

	e.GET("/healthz", sysCtrl.Health)

	e.POST("/api/downloads", dlCtrl.Create)
	e.GET("/api/downloads", dlCtrl.List)
	e.GET("/api/downloads/:id", dlCtrl.Get)
	e.GET("/api/downloads/:id/progress", dlCtrl.Progress)
	e.POST("/api/downloads/:id/pause", dlCtrl.Pause)
	e.POST("/api/downloads/:id/resume", dlCtrl.Resume)
	e.DELETE("/api/downloads/:id", dlCtrl.Delete)

	e.GET("/api/settings", sysCtrl.Settings)
	e.GET("/api/auth/status", sysCtrl.AuthStatus)
	e.POST("/api/auth/verify", sysCtrl.AuthVerify)
}
