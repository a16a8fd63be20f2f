package controllers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/hexfall/ipavault/internal/app"
)

type SystemController struct {
	App *app.Context
}

func (ctrl *SystemController) Health(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Settings reports the runtime knobs the frontend needs plus build
// metadata and uptime.
func (ctrl *SystemController) Settings(c *echo.Context) error {
	cfg := ctrl.App.Config
	return c.JSON(http.StatusOK, SettingsResponse{
		MaxDownloadMB:    cfg.MaxDownloadMB,
		DownloadThreads:  cfg.DownloadThreads,
		AutoCleanupDays:  cfg.AutoCleanupDays,
		AutoCleanupMaxMB: cfg.AutoCleanupMaxMB,
		UptimeSeconds:    int64(time.Since(ctrl.App.StartTime).Seconds()),
		BuildCommit:      cfg.BuildCommit,
		BuildDate:        cfg.BuildDate,
	})
}

// AuthStatus reports whether the shared-password gate is active.
func (ctrl *SystemController) AuthStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, AuthStatusResponse{
		PasswordRequired: ctrl.App.Config.AccessPassword != "",
	})
}

// AuthVerify compares the supplied token against the SHA-256 of the
// configured password, in constant time.
func (ctrl *SystemController) AuthVerify(c *echo.Context) error {
	var req AuthVerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
	}

	if ctrl.App.Config.AccessPassword == "" {
		return c.JSON(http.StatusOK, AuthVerifyResponse{Valid: true})
	}

	sum := sha256.Sum256([]byte(ctrl.App.Config.AccessPassword))
	expected := hex.EncodeToString(sum[:])

	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(expected)) != 1 {
		return c.JSON(http.StatusUnauthorized, AuthVerifyResponse{Valid: false})
	}
	return c.JSON(http.StatusOK, AuthVerifyResponse{Valid: true})
}
